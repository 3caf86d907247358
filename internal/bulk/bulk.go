// Package bulk applies one analysis action to many subprocesses of a process.
// Each unit is an independent transition: one unit failing never rolls back
// another.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/bolt/v3"
	"golang.org/x/sync/errgroup"

	"mapline/internal/domain"
	"mapline/internal/engine"
	"mapline/internal/lifecycle"
	"mapline/internal/logging"
	"mapline/internal/permission"
	"mapline/internal/repo"
	"mapline/internal/telemetry"
)

type Kind string

const (
	KindAccept     Kind = "ACCEPT_BULK"
	KindHomologate Kind = "HOMOLOGATE_BULK"
)

// ParseKind accepts the wire names and the short forms accept/homologate.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(KindAccept), "ACCEPT":
		return KindAccept, nil
	case string(KindHomologate), "HOMOLOGATE":
		return KindHomologate, nil
	}
	return "", fmt.Errorf("unknown bulk kind %q", s)
}

func (k Kind) action() domain.Action {
	if k == KindHomologate {
		return domain.ActionHomologate
	}
	return domain.ActionAccept
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusSkipped Status = "SKIPPED"
	StatusFailed  Status = "FAILED"
)

type Request struct {
	ProcessID   string
	ActorID     string
	Kind        Kind
	UnitIDs     []string
	Observation string
}

// Outcome is the result for one requested unit.
type Outcome struct {
	UnitID       string           `json:"unit_id"`
	SubprocessID string           `json:"subprocess_id,omitempty"`
	Status       Status           `json:"status" enum:"SUCCESS,SKIPPED,FAILED"`
	Reason       string           `json:"reason,omitempty"`
	Situation    domain.Situation `json:"situation,omitempty"`
}

type Result struct {
	ProcessID string    `json:"process_id"`
	Kind      Kind      `json:"kind"`
	Outcomes  []Outcome `json:"outcomes"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// Transitioner applies one lifecycle action; engine.Engine satisfies it.
type Transitioner interface {
	ApplyTransition(ctx context.Context, req engine.TransitionRequest) (engine.TransitionResult, error)
}

type Coordinator struct {
	Repo        repo.Repo
	Transitions Transitioner
	Parallelism int
	Logger      *bolt.Logger
	Metrics     *telemetry.Metrics
}

// New wires a coordinator to the engine's repository, logger and metrics.
func New(eng engine.Engine) *Coordinator {
	c := &Coordinator{
		Repo:        eng.Repo,
		Transitions: eng,
		Logger:      eng.Logger,
		Metrics:     eng.Metrics,
	}
	if eng.Config != nil {
		c.Parallelism = eng.Config.Bulk.Parallelism
	}
	return c
}

const (
	reasonNotParticipant = "unidade não participa do processo"
	reasonNotAwaiting    = "subprocesso não aguarda análise"
	reasonNotCustodian   = "subprocesso não está com a unidade do usuário"
	reasonNotHomologable = "situação não admite homologação"
	reasonChanged        = "subprocesso alterado por outra operação"
)

// eligible reports whether kind may run on sp for actor, and why not.
func eligible(kind Kind, actor domain.Actor, sp domain.Subprocess) (bool, string) {
	if !lifecycle.AwaitingAnalysis(sp.Situation) {
		return false, reasonNotAwaiting
	}
	switch kind {
	case KindAccept:
		if sp.CurrentUnitID != actor.UnitID {
			return false, reasonNotCustodian
		}
	case KindHomologate:
		if _, err := lifecycle.Lookup(sp.Kind, sp.Situation, domain.ActionHomologate); err != nil {
			return false, reasonNotHomologable
		}
	}
	return true, ""
}

// prepare rejects malformed requests: unknown kind, actor or process, and
// homologation by anyone but ADMIN.
func (c *Coordinator) prepare(ctx context.Context, processID, actorID string, kind Kind) (domain.Actor, error) {
	if kind != KindAccept && kind != KindHomologate {
		return domain.Actor{}, fmt.Errorf("unknown bulk kind %q", kind)
	}
	actor, err := c.Repo.GetActor(ctx, nil, actorID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if _, err := c.Repo.GetProcess(ctx, nil, processID); err != nil {
		return domain.Actor{}, fmt.Errorf("process %s: %w", processID, err)
	}
	if kind == KindHomologate && actor.Role != domain.RoleAdmin {
		return domain.Actor{}, permission.ForbiddenError{Role: actor.Role, Action: domain.Action(kind)}
	}
	return actor, nil
}

// Eligible lists the subprocesses the actor could select for kind.
func (c *Coordinator) Eligible(ctx context.Context, processID, actorID string, kind Kind) ([]domain.Subprocess, error) {
	actor, err := c.prepare(ctx, processID, actorID, kind)
	if err != nil {
		return nil, err
	}
	subs, err := c.Repo.ListSubprocesses(ctx, nil, processID)
	if err != nil {
		return nil, err
	}
	out := []domain.Subprocess{}
	for _, sp := range subs {
		if ok, _ := eligible(kind, actor, sp); ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

// Run applies the action to every requested unit. Only a malformed request
// returns an error; per-unit problems are reported in the outcomes, which
// keep the order of req.UnitIDs.
func (c *Coordinator) Run(ctx context.Context, req Request) (Result, error) {
	actor, err := c.prepare(ctx, req.ProcessID, req.ActorID, req.Kind)
	if err != nil {
		return Result{}, err
	}
	units := uniq(req.UnitIDs)
	res := Result{ProcessID: req.ProcessID, Kind: req.Kind, Outcomes: make([]Outcome, len(units))}

	limit := c.Parallelism
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, unitID := range units {
		g.Go(func() error {
			out := c.runOne(ctx, req, actor, unitID)
			res.Outcomes[i] = out
			c.Metrics.RecordBulkOutcome(ctx, string(req.Kind), strings.ToLower(string(out.Status)))
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range res.Outcomes {
		switch o.Status {
		case StatusSuccess:
			res.Succeeded++
		case StatusSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}
	logging.With(logging.OrDiscard(c.Logger).Info(),
		logging.Process(req.ProcessID),
		logging.Actor(req.ActorID),
		logging.Str("kind", string(req.Kind)),
		logging.Int("succeeded", res.Succeeded),
		logging.Int("skipped", res.Skipped),
		logging.Int("failed", res.Failed),
	).Msg("bulk action finished")
	return res, nil
}

func (c *Coordinator) runOne(ctx context.Context, req Request, actor domain.Actor, unitID string) Outcome {
	out := Outcome{UnitID: unitID}
	if err := ctx.Err(); err != nil {
		out.Status, out.Reason = StatusFailed, err.Error()
		return out
	}
	sp, err := c.Repo.GetSubprocessByUnit(ctx, nil, req.ProcessID, unitID)
	if errors.Is(err, repo.ErrNotFound) {
		out.Status, out.Reason = StatusSkipped, reasonNotParticipant
		return out
	}
	if err != nil {
		out.Status, out.Reason = StatusFailed, err.Error()
		return out
	}
	out.SubprocessID = sp.ID
	out.Situation = sp.Situation
	if ok, reason := eligible(req.Kind, actor, sp); !ok {
		out.Status, out.Reason = StatusSkipped, reason
		return out
	}

	tr, err := c.Transitions.ApplyTransition(ctx, engine.TransitionRequest{
		SubprocessID:    sp.ID,
		ActorID:         actor.ID,
		Action:          req.Kind.action(),
		Observation:     req.Observation,
		ExpectedVersion: sp.Version,
	})
	if err == nil {
		out.Status = StatusSuccess
		out.Situation = tr.Subprocess.Situation
		return out
	}
	var invalid *lifecycle.InvalidTransitionError
	if errors.Is(err, repo.ErrVersionConflict) || errors.As(err, &invalid) {
		if fresh, ferr := c.Repo.GetSubprocess(ctx, nil, sp.ID); ferr == nil {
			if ok, _ := eligible(req.Kind, actor, fresh); !ok {
				out.Status, out.Reason, out.Situation = StatusSkipped, reasonChanged, fresh.Situation
				return out
			}
		}
	}
	out.Status, out.Reason = StatusFailed, err.Error()
	logging.With(logging.OrDiscard(c.Logger).Warn(),
		logging.Process(req.ProcessID),
		logging.Unit(unitID),
		logging.Str("kind", string(req.Kind)),
		logging.Err(err),
	).Msg("bulk unit failed")
	return out
}

// uniq drops blanks and repeats, keeping first occurrences in order.
func uniq(ids []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
