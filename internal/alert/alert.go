// Package alert is the outbound notification contract of the lifecycle
// engine. The engine emits after commit; delivery is somebody else's job.
package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"mapline/internal/domain"
	"mapline/internal/repo"
)

// Emitter accepts alert requests. Implementations must be safe for
// concurrent use because bulk actions emit from several goroutines.
type Emitter interface {
	Emit(ctx context.Context, req domain.AlertRequest) error
}

// Func adapts a function to Emitter.
type Func func(ctx context.Context, req domain.AlertRequest) error

func (f Func) Emit(ctx context.Context, req domain.AlertRequest) error {
	return f(ctx, req)
}

// Multi fans out to every emitter and joins their errors.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, req domain.AlertRequest) error {
	var errs []error
	for _, em := range m {
		if em == nil {
			continue
		}
		if err := em.Emit(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Outbox persists alerts in the alerts table for the Dispatcher and for
// readers of the REST surface.
type Outbox struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (o Outbox) Emit(ctx context.Context, req domain.AlertRequest) error {
	if strings.TrimSpace(req.TargetUnitID) == "" {
		return errors.New("alert target unit required")
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	_, err := o.Repo.InsertAlert(ctx, nil, now().UTC().Format(time.RFC3339), req)
	return err
}

// Recorder keeps emitted requests in memory.
type Recorder struct {
	mu       sync.Mutex
	requests []domain.AlertRequest
}

func (r *Recorder) Emit(_ context.Context, req domain.AlertRequest) error {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return nil
}

// Requests returns a copy of everything emitted so far.
func (r *Recorder) Requests() []domain.AlertRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AlertRequest(nil), r.requests...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requests = nil
	r.mu.Unlock()
}
