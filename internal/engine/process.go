package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mapline/internal/domain"
	"mapline/internal/ledger"
	"mapline/internal/lifecycle"
	"mapline/internal/permission"
	"mapline/internal/repo"
)

// ProcessCreateOptions are parameters for creating a process.
type ProcessCreateOptions struct {
	ID          string
	Kind        domain.ProcessKind
	Description string
	// Deadline closes stage 1 of every subprocess; RFC3339 or YYYY-MM-DD.
	Deadline string
	UnitIDs  []string
	ActorID  string
}

func (e Engine) CreateProcess(ctx context.Context, opts ProcessCreateOptions) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	actor, err := e.Repo.GetActor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Process{}, fmt.Errorf("actor %s: %w", opts.ActorID, err)
	}
	if err := requireAdmin(actor, opCreateProcess); err != nil {
		return domain.Process{}, err
	}
	var issues []Issue
	if !opts.Kind.Valid() {
		issues = append(issues, Issue{Reason: fmt.Sprintf("tipo de processo %q inválido", opts.Kind)})
	}
	if strings.TrimSpace(opts.Description) == "" {
		issues = append(issues, Issue{Reason: "descrição obrigatória"})
	}
	deadline, err := parseDeadline(opts.Deadline)
	if err != nil {
		issues = append(issues, Issue{Reason: err.Error()})
	} else if !deadline.After(e.now()) {
		issues = append(issues, Issue{Reason: "prazo deve ser uma data futura"})
	}
	units := dedupe(opts.UnitIDs)
	if len(units) == 0 {
		issues = append(issues, Issue{Reason: "ao menos uma unidade participante é obrigatória"})
	}
	unitIssues, err := e.checkParticipants(ctx, tx, opts.Kind, units)
	if err != nil {
		return domain.Process{}, err
	}
	issues = append(issues, unitIssues...)
	if len(issues) > 0 {
		return domain.Process{}, invalid(issues...)
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Process{
		ID:          id,
		Kind:        opts.Kind,
		Description: strings.TrimSpace(opts.Description),
		Status:      domain.ProcessCreated,
		Deadline:    deadline.Format(time.RFC3339),
		UnitIDs:     units,
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertProcess(ctx, tx, p); err != nil {
		return domain.Process{}, err
	}
	if err := e.journal().Append(ctx, tx, "process.created", p.ID, "process", p.ID, actor.ID, ledger.Payload{
		"kind":  string(p.Kind),
		"units": p.UnitIDs,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	return p, nil
}

// checkParticipants enforces that units exist, are not busy with another
// process of the same kind, and hold a vigente map when the kind needs one.
func (e Engine) checkParticipants(ctx context.Context, tx *sql.Tx, kind domain.ProcessKind, unitIDs []string) ([]Issue, error) {
	if !kind.Valid() {
		return nil, nil
	}
	busy, err := e.Repo.ActiveParticipations(ctx, tx, kind)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	for _, unitID := range unitIDs {
		if _, err := e.Repo.GetUnit(ctx, tx, unitID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				issues = append(issues, Issue{Unit: unitID, Reason: "unidade inexistente"})
				continue
			}
			return nil, err
		}
		if other, ok := busy[unitID]; ok {
			issues = append(issues, Issue{Unit: unitID, Reason: fmt.Sprintf("unidade já participa do processo %s", other)})
		}
		if kind == domain.KindMapping {
			continue
		}
		if _, err := e.Repo.VigenteMap(ctx, tx, unitID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				issues = append(issues, Issue{Unit: unitID, Reason: "unidade sem mapa vigente"})
				continue
			}
			return nil, err
		}
	}
	return issues, nil
}

func dedupe(ids []string) []string {
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
	sort.Strings(out)
	return out
}

func subprocessID(processID, unitID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(processID+"|"+unitID)).String()
}

// StartProcess freezes the unit tree, opens one subprocess per participating
// unit and, for revisions, seeds each one with the unit's vigente map.
func (e Engine) StartProcess(ctx context.Context, processID, actorID string) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	actor, err := e.Repo.GetActor(ctx, tx, actorID)
	if err != nil {
		return domain.Process{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if err := requireAdmin(actor, opStartProcess); err != nil {
		return domain.Process{}, err
	}
	p, err := e.Repo.GetProcess(ctx, tx, processID)
	if err != nil {
		return p, fmt.Errorf("process %s: %w", processID, err)
	}
	if p.Status != domain.ProcessCreated {
		return p, invalid(Issue{Reason: fmt.Sprintf("processo %s já iniciado", p.ID)})
	}
	units, err := e.Repo.ListUnits(ctx, tx)
	if err != nil {
		return p, err
	}
	if err := e.Repo.InsertProcessTree(ctx, tx, p.ID, units); err != nil {
		return p, err
	}
	tree := permission.NewTree(units)
	now := e.stamp()
	for _, unitID := range p.UnitIDs {
		sp := domain.Subprocess{
			ID:             subprocessID(p.ID, unitID),
			ProcessID:      p.ID,
			UnitID:         unitID,
			Situation:      domain.NotStarted,
			CurrentUnitID:  unitID,
			Stage1Deadline: p.Deadline,
			Version:        1,
			Kind:           p.Kind,
			UpdatedAt:      now,
		}
		if err := e.Repo.InsertSubprocess(ctx, tx, sp); err != nil {
			return p, err
		}
		if p.Kind == domain.KindRevision || p.Kind == domain.KindDiagnosis {
			if err := e.seedFromVigente(ctx, tx, sp); err != nil {
				return p, fmt.Errorf("seed %s: %w", unitID, err)
			}
		}
	}
	if err := e.Repo.UpdateProcessStatus(ctx, tx, p.ID, domain.ProcessCreated, domain.ProcessInProgress, now); err != nil {
		return p, err
	}
	if err := e.journal().Append(ctx, tx, "process.started", p.ID, "process", p.ID, actor.ID, ledger.Payload{
		"units": p.UnitIDs,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = domain.ProcessInProgress
	p.StartedAt = &now
	e.emit(ctx, processAlerts(p, tree, domain.AlertProcessStarted,
		fmt.Sprintf("Início do processo %s. Prazo para a etapa 1: %s", p.Description, dateOnly(p.Deadline))))
	return p, nil
}

func (e Engine) seedFromVigente(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) error {
	vigente, err := e.Repo.VigenteMap(ctx, tx, sp.UnitID)
	if err != nil {
		return err
	}
	for _, a := range vigente.Activities {
		if err := e.Repo.InsertActivity(ctx, tx, sp.ID, a); err != nil {
			return err
		}
	}
	for _, c := range vigente.Competencies {
		if err := e.Repo.InsertCompetency(ctx, tx, sp.ID, c); err != nil {
			return err
		}
	}
	return nil
}

// processAlerts notifies every participating unit and, once, each of
// their superiors.
func processAlerts(p domain.Process, tree permission.Tree, kind domain.AlertKind, msg string) []domain.AlertRequest {
	seen := map[string]bool{}
	var out []domain.AlertRequest
	add := func(unitID string) {
		if seen[unitID] {
			return
		}
		seen[unitID] = true
		out = append(out, domain.AlertRequest{TargetUnitID: unitID, ProcessID: p.ID, Message: msg, Kind: kind})
	}
	for _, unitID := range p.UnitIDs {
		add(unitID)
	}
	for _, unitID := range p.UnitIDs {
		for _, sup := range tree.Superiors(unitID) {
			add(sup)
		}
	}
	return out
}

func dateOnly(ts string) string {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.Format("02/01/2006")
	}
	return ts
}

// FinishProcess closes a process whose subprocesses are all final and
// publishes each unit's map as the new vigente one.
func (e Engine) FinishProcess(ctx context.Context, processID, actorID string) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	actor, err := e.Repo.GetActor(ctx, tx, actorID)
	if err != nil {
		return domain.Process{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if err := requireAdmin(actor, opFinishProcess); err != nil {
		return domain.Process{}, err
	}
	p, err := e.Repo.GetProcess(ctx, tx, processID)
	if err != nil {
		return p, fmt.Errorf("process %s: %w", processID, err)
	}
	if p.Status != domain.ProcessInProgress {
		return p, invalid(Issue{Reason: fmt.Sprintf("processo %s não está em andamento", p.ID)})
	}
	subs, err := e.Repo.ListSubprocesses(ctx, tx, p.ID)
	if err != nil {
		return p, err
	}
	var issues []Issue
	for _, sp := range subs {
		if !lifecycle.Final(sp.Situation) {
			issues = append(issues, Issue{Unit: sp.UnitID, Reason: fmt.Sprintf("subprocesso em %s", sp.Situation)})
		}
	}
	if len(issues) > 0 {
		return p, invalid(issues...)
	}
	now := e.stamp()
	if p.Kind != domain.KindDiagnosis {
		for _, sp := range subs {
			if err := e.Repo.SetVigenteMap(ctx, tx, sp.UnitID, sp.ID, now); err != nil {
				return p, err
			}
		}
	}
	if err := e.Repo.UpdateProcessStatus(ctx, tx, p.ID, domain.ProcessInProgress, domain.ProcessFinished, now); err != nil {
		return p, err
	}
	if err := e.journal().Append(ctx, tx, "process.finished", p.ID, "process", p.ID, actor.ID, nil); err != nil {
		return p, err
	}
	units, err := e.Repo.ProcessTree(ctx, tx, p.ID)
	if err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = domain.ProcessFinished
	p.FinishedAt = &now
	e.emit(ctx, processAlerts(p, permission.NewTree(units), domain.AlertProcessFinished,
		fmt.Sprintf("Conclusão do processo %s", p.Description)))
	return p, nil
}

// SetMapDeadline sets the stage-2 deadline of a subprocess in its map phase.
func (e Engine) SetMapDeadline(ctx context.Context, subprocessID, actorID, deadline string) (domain.Subprocess, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subprocess{}, err
	}
	defer tx.Rollback()

	sc, err := e.loadScope(ctx, tx, subprocessID, actorID)
	if err != nil {
		return domain.Subprocess{}, err
	}
	if err := requireAdmin(sc.actor, opSetMapDeadline); err != nil {
		return sc.sp, err
	}
	if lifecycle.PhaseOf(sc.sp.Situation) != lifecycle.PhaseMap {
		return sc.sp, invalid(Issue{Reason: fmt.Sprintf("prazo da etapa 2 não se aplica em %s", sc.sp.Situation)})
	}
	d, err := parseDeadline(deadline)
	if err != nil {
		return sc.sp, invalid(Issue{Reason: err.Error()})
	}
	sp := sc.sp
	formatted := d.Format(time.RFC3339)
	sp.Stage2Deadline = &formatted
	sp.UpdatedAt = e.stamp()
	version, err := e.Repo.UpdateSubprocess(ctx, tx, sp, sc.sp.Version)
	if err != nil {
		return sc.sp, err
	}
	sp.Version = version
	if err := e.journal().Append(ctx, tx, "subprocess.deadline", sp.ProcessID, "subprocess", sp.ID, sc.actor.ID, ledger.Payload{
		"stage2_deadline": formatted,
	}); err != nil {
		return sc.sp, err
	}
	if err := tx.Commit(); err != nil {
		return sc.sp, err
	}
	return sp, nil
}
