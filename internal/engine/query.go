package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"mapline/internal/domain"
	"mapline/internal/impact"
	"mapline/internal/ledger"
	"mapline/internal/lifecycle"
	"mapline/internal/permission"
)

// SubprocessView is a subprocess with its catalogue and map.
type SubprocessView struct {
	Subprocess domain.Subprocess `json:"subprocess"`
	Map        domain.Map        `json:"map"`
}

// Permissions is the resolver output for one actor on one subprocess.
type Permissions struct {
	SubprocessID string           `json:"subprocess_id"`
	ActorID      string           `json:"actor_id"`
	Role         domain.Role      `json:"role"`
	Situation    domain.Situation `json:"situation"`
	Relation     string           `json:"relation"`
	Custodian    bool             `json:"custodian"`
	Actions      []domain.Action  `json:"actions"`
}

// GetSubprocess loads a subprocess and its map for an actor allowed to VIEW it.
func (e Engine) GetSubprocess(ctx context.Context, subprocessID, actorID string) (SubprocessView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SubprocessView{}, err
	}
	defer tx.Rollback()

	sc, err := e.loadScope(ctx, tx, subprocessID, actorID)
	if err != nil {
		return SubprocessView{}, err
	}
	if err := sc.authorize(domain.ActionView); err != nil {
		return SubprocessView{}, err
	}
	m, err := e.Repo.LoadMap(ctx, tx, sc.sp)
	if err != nil {
		return SubprocessView{}, err
	}
	return SubprocessView{Subprocess: sc.sp, Map: m}, nil
}

// ListSubprocesses returns every subprocess of a process.
func (e Engine) ListSubprocesses(ctx context.Context, processID string) ([]domain.Subprocess, error) {
	if _, err := e.Repo.GetProcess(ctx, nil, processID); err != nil {
		return nil, fmt.Errorf("process %s: %w", processID, err)
	}
	return e.Repo.ListSubprocesses(ctx, nil, processID)
}

// ImpactFor compares the working catalogue against the unit's vigente map.
func (e Engine) ImpactFor(ctx context.Context, subprocessID, actorID string) (impact.Report, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return impact.Report{}, err
	}
	defer tx.Rollback()

	sc, err := e.loadScope(ctx, tx, subprocessID, actorID)
	if err != nil {
		return impact.Report{}, err
	}
	if err := sc.authorize(domain.ActionViewImpact); err != nil {
		return impact.Report{}, err
	}
	return e.impactTx(ctx, tx, sc.sp)
}

// History returns the analyses and movements of a subprocess, newest first.
func (e Engine) History(ctx context.Context, subprocessID string) ([]domain.HistoryEntry, error) {
	if _, err := e.Repo.GetSubprocess(ctx, nil, subprocessID); err != nil {
		return nil, fmt.Errorf("subprocess %s: %w", subprocessID, err)
	}
	return ledger.History(ctx, e.DB, subprocessID)
}

func (e Engine) Permissions(ctx context.Context, subprocessID, actorID string) (Permissions, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Permissions{}, err
	}
	defer tx.Rollback()

	sc, err := e.loadScope(ctx, tx, subprocessID, actorID)
	if err != nil {
		return Permissions{}, err
	}
	pos := sc.position()
	return Permissions{
		SubprocessID: sc.sp.ID,
		ActorID:      sc.actor.ID,
		Role:         sc.actor.Role,
		Situation:    sc.sp.Situation,
		Relation:     pos.Relation.String(),
		Custodian:    pos.Custodian,
		Actions:      permission.Resolve(sc.actor.Role, sc.sp.Situation, pos).List(),
	}, nil
}

// withUnit reports whether the unit itself is expected to act next.
func withUnit(s domain.Situation) bool {
	switch s {
	case domain.NotStarted, domain.CadastroReturned, domain.RevisionCadastroReturned,
		domain.MapAvailable, domain.RevisionMapAvailable:
		return true
	}
	return lifecycle.InProgress(s)
}

// DueForReminder lists the subprocesses whose unit still has to act and
// whose current stage deadline is within the reminder window or past.
func (e Engine) DueForReminder(ctx context.Context, processID string) ([]domain.Reminder, error) {
	p, err := e.Repo.GetProcess(ctx, nil, processID)
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", processID, err)
	}
	if p.Status != domain.ProcessInProgress {
		return []domain.Reminder{}, nil
	}
	sps, err := e.Repo.ListSubprocesses(ctx, nil, processID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	today := day(now)
	window := e.cfg().Rules.ReminderWindowDays
	out := []domain.Reminder{}
	for _, sp := range sps {
		if !withUnit(sp.Situation) {
			continue
		}
		deadline := sp.Stage1Deadline
		if lifecycle.PhaseOf(sp.Situation) == lifecycle.PhaseMap {
			if sp.Stage2Deadline == nil {
				continue
			}
			deadline = *sp.Stage2Deadline
		}
		due, err := parseDeadline(deadline)
		if err != nil {
			return nil, fmt.Errorf("subprocess %s: %w", sp.ID, err)
		}
		remaining := int(day(due).Sub(today).Hours() / 24)
		if remaining > window {
			continue
		}
		history, err := ledger.History(ctx, e.DB, sp.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Reminder{
			SubprocessID:    sp.ID,
			UnitID:          sp.UnitID,
			Situation:       sp.Situation,
			Deadline:        deadline,
			DaysRemaining:   remaining,
			DaysInSituation: int(ledger.TimeInSituation(history, sp.Situation, now).Hours() / 24),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysRemaining != out[j].DaysRemaining {
			return out[i].DaysRemaining < out[j].DaysRemaining
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SendReminder alerts one participating unit about its process deadline.
func (e Engine) SendReminder(ctx context.Context, processID, unitID, actorID string) (domain.AlertRequest, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AlertRequest{}, err
	}
	defer tx.Rollback()

	actor, err := e.Repo.GetActor(ctx, tx, actorID)
	if err != nil {
		return domain.AlertRequest{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if err := requireAdmin(actor, opSendReminder); err != nil {
		return domain.AlertRequest{}, err
	}
	p, err := e.Repo.GetProcess(ctx, tx, processID)
	if err != nil {
		return domain.AlertRequest{}, fmt.Errorf("process %s: %w", processID, err)
	}
	if p.Status != domain.ProcessInProgress {
		return domain.AlertRequest{}, invalid(Issue{Reason: fmt.Sprintf("processo %s não está em andamento", p.ID)})
	}
	sp, err := e.Repo.GetSubprocessByUnit(ctx, tx, processID, unitID)
	if err != nil {
		return domain.AlertRequest{}, fmt.Errorf("unit %s in process %s: %w", unitID, processID, err)
	}
	deadline := sp.Stage1Deadline
	if lifecycle.PhaseOf(sp.Situation) == lifecycle.PhaseMap && sp.Stage2Deadline != nil {
		deadline = *sp.Stage2Deadline
	}
	req := domain.AlertRequest{
		TargetUnitID: unitID,
		ProcessID:    processID,
		SubprocessID: sp.ID,
		Message:      fmt.Sprintf("Lembrete: prazo do processo %s encerra em %s", p.Description, dateOnly(deadline)),
		Kind:         domain.AlertReminder,
	}
	if err := e.journal().Append(ctx, tx, "reminder.sent", processID, "subprocess", sp.ID, actor.ID, nil); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	e.emit(ctx, []domain.AlertRequest{req})
	return req, nil
}
