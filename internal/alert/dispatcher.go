package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"mapline/internal/config"
	"mapline/internal/domain"
	"mapline/internal/logging"
)

const (
	defaultDispatchInterval = 2 * time.Second
	defaultWebhookTimeout   = 5 * time.Second
	defaultDispatchBatch    = 100
)

// Source is the outbox read side.
type Source interface {
	AlertsAfter(ctx context.Context, afterID int64, limit int, unitID string) ([]domain.Alert, error)
	LatestAlertID(ctx context.Context) (int64, error)
}

// Dispatcher polls the outbox and POSTs new alerts to configured webhooks.
// Each hook keeps its own cursor; a failed delivery is retried next tick.
type Dispatcher struct {
	Source   Source
	Webhooks []config.WebhookConfig
	Logger   *bolt.Logger
	Interval time.Duration
	// FromStart delivers the existing backlog instead of starting at the
	// newest alert.
	FromStart bool

	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

func NewDispatcher(src Source, hooks []config.WebhookConfig, logger *bolt.Logger) *Dispatcher {
	return &Dispatcher{
		Source:   src,
		Webhooks: hooks,
		Logger:   logging.OrDiscard(logger),
		Interval: defaultDispatchInterval,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
}

// Run dispatches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch per enabled hook.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *Dispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	alerts, err := d.Source.AlertsAfter(ctx, cursor, defaultDispatchBatch, "")
	if err != nil {
		logging.With(d.logger().Warn(), logging.Err(err)).Msg("alert dispatch: fetch failed")
		return
	}
	filter := newKindFilter(hook.Kinds)
	for _, a := range alerts {
		if !filter.match(a.Request.Kind) {
			d.setCursor(idx, a.ID)
			continue
		}
		if err := d.post(ctx, hook, a); err != nil {
			logging.With(d.logger().Warn(), logging.Str("url", hook.URL), logging.Err(err)).Msg("alert dispatch: delivery failed")
			return
		}
		d.setCursor(idx, a.ID)
	}
}

func (d *Dispatcher) logger() *bolt.Logger {
	return logging.OrDiscard(d.Logger)
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	var cur int64
	if !d.FromStart {
		latest, err := d.Source.LatestAlertID(ctx)
		if err != nil {
			logging.With(d.logger().Warn(), logging.Err(err)).Msg("alert dispatch: init cursor failed")
		}
		cur = latest
	}
	d.cursors[idx] = cur
	return cur
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookAlert struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	TargetUnitID string `json:"target_unit_id"`
	ProcessID    string `json:"process_id"`
	SubprocessID string `json:"subprocess_id,omitempty"`
	Message      string `json:"message"`
	TS           string `json:"ts"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, a domain.Alert) error {
	data, err := json.Marshal(webhookAlert{
		ID:           a.ID,
		Kind:         string(a.Request.Kind),
		TargetUnitID: a.Request.TargetUnitID,
		ProcessID:    a.Request.ProcessID,
		SubprocessID: a.Request.SubprocessID,
		Message:      a.Request.Message,
		TS:           a.TS,
	})
	if err != nil {
		return err
	}
	client := d.client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mapline-Alert", string(a.Request.Kind))
	req.Header.Set("X-Mapline-Delivery", fmt.Sprintf("%d", a.ID))
	req.Header.Set("X-Mapline-Unit", a.Request.TargetUnitID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Mapline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type kindFilter struct {
	all bool
	set map[domain.AlertKind]struct{}
}

func newKindFilter(kinds []string) kindFilter {
	set := make(map[domain.AlertKind]struct{}, len(kinds))
	for _, k := range kinds {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		set[domain.AlertKind(key)] = struct{}{}
	}
	if len(set) == 0 {
		return kindFilter{all: true}
	}
	return kindFilter{set: set}
}

func (f kindFilter) match(kind domain.AlertKind) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
