package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"mapline/internal/domain"
	"mapline/internal/impact"
	"mapline/internal/ledger"
	"mapline/internal/lifecycle"
	"mapline/internal/logging"
	"mapline/internal/permission"
	"mapline/internal/repo"
	"mapline/internal/telemetry"
)

// TransitionRequest asks for one action on one subprocess.
type TransitionRequest struct {
	SubprocessID string
	ActorID      string
	Action       domain.Action
	// Observation is the analysis note; REOPEN requires it as justification.
	Observation string
	// ExpectedVersion, when positive, must match the stored version.
	ExpectedVersion int64
}

type TransitionResult struct {
	Subprocess domain.Subprocess     `json:"subprocess"`
	From       domain.Situation      `json:"from"`
	Movement   domain.Movement       `json:"movement"`
	Analysis   *domain.Analysis      `json:"analysis,omitempty"`
	Alerts     []domain.AlertRequest `json:"alerts"`
	// Impact is set when the transition consulted the impact analyzer.
	Impact *impact.Report `json:"impact,omitempty"`
}

const cleanRevisionMovement = "Revisão do cadastro homologada sem impactos no mapa de competências"

// ApplyTransition validates and applies one lifecycle action. Either the
// situação change commits together with its ledger rows, or nothing does.
// Alerts are emitted after commit and never fail the call.
func (e Engine) ApplyTransition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	started := time.Now()
	res, err := e.applyTransition(ctx, req)
	e.Metrics.RecordTransition(ctx, string(req.Action), string(res.From), string(res.Subprocess.Situation), outcomeOf(err), time.Since(started))
	if err != nil {
		logging.With(e.logger().Debug(),
			logging.Subprocess(req.SubprocessID),
			logging.Actor(req.ActorID),
			logging.Action(req.Action),
			logging.Err(err),
		).Msg("transition rejected")
		return TransitionResult{}, err
	}
	logging.With(e.logger().Info(),
		logging.Subprocess(res.Subprocess.ID),
		logging.Unit(res.Subprocess.UnitID),
		logging.Actor(req.ActorID),
		logging.Action(req.Action),
		logging.Move(res.From, res.Subprocess.Situation),
		logging.Duration(time.Since(started)),
	).Msg("transition applied")
	e.emit(ctx, res.Alerts)
	return res, nil
}

func (e Engine) applyTransition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()

	sc, err := e.loadScope(ctx, tx, req.SubprocessID, req.ActorID)
	if err != nil {
		return TransitionResult{}, err
	}
	if req.ExpectedVersion > 0 && sc.sp.Version != req.ExpectedVersion {
		return TransitionResult{From: sc.sp.Situation}, repo.ErrVersionConflict
	}
	res, err := e.transitionTx(ctx, tx, &sc, req.Action, req.Observation, true)
	if err != nil {
		return TransitionResult{From: sc.sp.Situation}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{From: sc.sp.Situation}, err
	}
	return res, nil
}

func outcomeOf(err error) string {
	var invalidTr *lifecycle.InvalidTransitionError
	var forbidden permission.ForbiddenError
	var failed *ValidationError
	switch {
	case err == nil:
		return telemetry.OutcomeApplied
	case errors.Is(err, repo.ErrVersionConflict):
		return telemetry.OutcomeConflict
	case errors.As(err, &invalidTr), errors.As(err, &forbidden), errors.As(err, &failed):
		return telemetry.OutcomeRejected
	}
	return telemetry.OutcomeError
}

// transitionTx runs lookup, authorization, gates and writes inside tx and
// updates sc.sp. Implicit transitions skip authorization because the edit
// that triggers them was already authorized.
func (e Engine) transitionTx(ctx context.Context, tx *sql.Tx, sc *scope, action domain.Action, observation string, authorize bool) (TransitionResult, error) {
	sp := sc.sp
	tr, err := lifecycle.Lookup(sp.Kind, sp.Situation, action)
	if err != nil {
		return TransitionResult{}, err
	}
	if authorize {
		if err := sc.authorize(action); err != nil {
			return TransitionResult{}, err
		}
	}
	observation = strings.TrimSpace(observation)
	switch tr.Gate {
	case lifecycle.GateCatalogue:
		err = e.checkCatalogue(ctx, tx, sp.ID)
	case lifecycle.GateMap:
		err = e.checkMap(ctx, tx, sp)
	case lifecycle.GateJustification:
		err = e.checkJustification(ctx, tx, sp.ID, observation)
	}
	if err != nil {
		return TransitionResult{}, err
	}

	to := tr.To
	description := tr.Movement
	var report *impact.Report
	if tr.ToWhenNoImpact != "" {
		r, err := e.impactTx(ctx, tx, sp)
		if err != nil {
			return TransitionResult{}, err
		}
		report = &r
		if !r.HasImpact {
			to = tr.ToWhenNoImpact
			description = cleanRevisionMovement
		}
	}

	origin := sp.CurrentUnitID
	dest, err := e.custodyTarget(ctx, tx, *sc, tr.Custody)
	if err != nil {
		return TransitionResult{}, err
	}
	now := e.stamp()
	next := sp
	next.Situation = to
	if dest != origin {
		prev := origin
		next.PreviousUnitID = &prev
		next.CurrentUnitID = dest
	}
	stampStages(&next, action, lifecycle.PhaseOf(sp.Situation), now)
	next.UpdatedAt = now
	version, err := e.Repo.UpdateSubprocess(ctx, tx, next, sp.Version)
	if err != nil {
		return TransitionResult{}, err
	}
	next.Version = version

	mv, err := e.journal().AppendMovement(ctx, tx, domain.Movement{
		SubprocessID:  sp.ID,
		TS:            now,
		OriginUnitID:  origin,
		DestUnitID:    dest,
		Description:   description,
		ActorID:       sc.actor.ID,
		FromSituation: sp.Situation,
		ToSituation:   to,
	})
	if err != nil {
		return TransitionResult{}, err
	}
	res := TransitionResult{Subprocess: next, From: sp.Situation, Movement: mv, Impact: report}
	if tr.RecordsAnalysis {
		an, err := e.journal().AppendAnalysis(ctx, tx, domain.Analysis{
			SubprocessID: sp.ID,
			TS:           now,
			UnitID:       sc.actor.UnitID,
			Action:       action,
			ActorID:      sc.actor.ID,
			Observation:  observation,
		})
		if err != nil {
			return TransitionResult{}, err
		}
		res.Analysis = &an
	}
	if err := e.journal().Append(ctx, tx, "subprocess.transition", sp.ProcessID, "subprocess", sp.ID, sc.actor.ID, ledger.Payload{
		"action":  string(action),
		"from":    string(sp.Situation),
		"to":      string(to),
		"version": version,
	}); err != nil {
		return TransitionResult{}, err
	}
	sc.sp = next
	res.Alerts = alertsFor(*sc, tr, action, description)
	return res, nil
}

// custodyTarget resolves where the subprocess sits after the transition.
func (e Engine) custodyTarget(ctx context.Context, tx *sql.Tx, sc scope, c lifecycle.Custody) (string, error) {
	switch c {
	case lifecycle.CustodyUp:
		if parent, ok := sc.tree.Parent(sc.sp.CurrentUnitID); ok {
			return parent, nil
		}
		return e.adminUnitID(ctx, tx)
	case lifecycle.CustodyToUnit:
		return sc.sp.UnitID, nil
	case lifecycle.CustodyToAdmin:
		return e.adminUnitID(ctx, tx)
	}
	return sc.sp.CurrentUnitID, nil
}

// stampStages keeps the stage completion dates in step with the situação.
func stampStages(sp *domain.Subprocess, action domain.Action, phase lifecycle.Phase, now string) {
	switch action {
	case domain.ActionDisponibilize:
		if phase == lifecycle.PhaseCadastro {
			sp.Stage1DoneAt = &now
		} else {
			sp.Stage2DoneAt = nil
		}
	case domain.ActionValidate, domain.ActionSuggest:
		sp.Stage2DoneAt = &now
	case domain.ActionConclude:
		sp.Stage1DoneAt = &now
	case domain.ActionReturn:
		if phase == lifecycle.PhaseCadastro {
			sp.Stage1DoneAt = nil
		}
		sp.Stage2DoneAt = nil
	case domain.ActionReopen:
		sp.Stage1DoneAt = nil
		sp.Stage2DoneAt = nil
	}
}

func alertsFor(sc scope, tr lifecycle.Transition, action domain.Action, description string) []domain.AlertRequest {
	sp := sc.sp
	var targets []string
	switch tr.Notify {
	case lifecycle.AudienceCustodian:
		targets = []string{sp.CurrentUnitID}
	case lifecycle.AudienceUnit:
		targets = []string{sp.UnitID}
	case lifecycle.AudienceUnitAndSuperiors:
		targets = append([]string{sp.UnitID}, sc.tree.Superiors(sp.UnitID)...)
	default:
		return nil
	}
	kind := domain.AlertSituationChanged
	if action == domain.ActionReopen {
		kind = domain.AlertReopened
	}
	msg := fmt.Sprintf("%s: %s", sc.sigla(sp.UnitID), description)
	out := make([]domain.AlertRequest, 0, len(targets))
	for _, unitID := range targets {
		out = append(out, domain.AlertRequest{
			TargetUnitID: unitID,
			ProcessID:    sp.ProcessID,
			SubprocessID: sp.ID,
			Message:      msg,
			Kind:         kind,
		})
	}
	return out
}

const (
	reasonEmptyCatalogue    = "cadastro sem atividades"
	reasonNoKnowledge       = "sem conhecimento associado"
	reasonEmptyMap          = "mapa sem competências"
	reasonCompetencyNoLinks = "competência sem atividade associada"
	reasonActivityUnmapped  = "atividade não associada a nenhuma competência"
	reasonNoMapDeadline     = "prazo da etapa de validação não definido"
	reasonNotHomologated    = "não há homologação vigente para reabrir"
	reasonUnknownActivity   = "atividade inexistente no cadastro"
)

func (e Engine) checkCatalogue(ctx context.Context, tx *sql.Tx, subprocessID string) error {
	acts, err := e.Repo.ListActivities(ctx, tx, subprocessID)
	if err != nil {
		return err
	}
	if len(acts) == 0 {
		return invalid(Issue{Reason: reasonEmptyCatalogue})
	}
	var issues []Issue
	for _, a := range acts {
		if len(a.Knowledge) == 0 {
			issues = append(issues, Issue{Activity: a.ID, Reason: reasonNoKnowledge})
		}
	}
	if len(issues) > 0 {
		return invalid(issues...)
	}
	return nil
}

func (e Engine) checkMap(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) error {
	m, err := e.Repo.LoadMap(ctx, tx, sp)
	if err != nil {
		return err
	}
	var issues []Issue
	if len(m.Competencies) == 0 {
		issues = append(issues, Issue{Reason: reasonEmptyMap})
	}
	linked := map[string]bool{}
	for _, c := range m.Competencies {
		if len(c.ActivityIDs) == 0 {
			issues = append(issues, Issue{Competency: c.ID, Reason: reasonCompetencyNoLinks})
		}
		for _, id := range c.ActivityIDs {
			linked[id] = true
		}
	}
	if len(m.Competencies) > 0 {
		for _, a := range m.Activities {
			if !linked[a.ID] {
				issues = append(issues, Issue{Activity: a.ID, Reason: reasonActivityUnmapped})
			}
		}
	}
	if sp.Stage2Deadline == nil {
		issues = append(issues, Issue{Reason: reasonNoMapDeadline})
	}
	if len(issues) > 0 {
		return invalid(issues...)
	}
	return nil
}

func (e Engine) checkJustification(ctx context.Context, tx *sql.Tx, subprocessID, justification string) error {
	minLen := e.cfg().Rules.ReopenMinJustification
	if utf8.RuneCountInString(justification) < minLen {
		return invalid(Issue{Reason: fmt.Sprintf("justificativa obrigatória com pelo menos %d caracteres", minLen)})
	}
	history, err := ledger.History(ctx, tx, subprocessID)
	if err != nil {
		return err
	}
	if !ledger.CanReopen(history) {
		return invalid(Issue{Reason: reasonNotHomologated})
	}
	return nil
}

// impactTx compares the working catalogue with the unit's vigente map.
// A unit without a vigente map yields an empty report.
func (e Engine) impactTx(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) (impact.Report, error) {
	vigente, err := e.Repo.VigenteMap(ctx, tx, sp.UnitID)
	if errors.Is(err, repo.ErrNotFound) {
		return impact.Analyze(impact.Baseline{}, impact.Candidate{}), nil
	}
	if err != nil {
		return impact.Report{}, err
	}
	acts, err := e.Repo.ListActivities(ctx, tx, sp.ID)
	if err != nil {
		return impact.Report{}, err
	}
	return impact.Analyze(
		impact.Baseline{Competencies: vigente.Competencies, Activities: vigente.Activities},
		impact.Candidate{Activities: acts},
	), nil
}
