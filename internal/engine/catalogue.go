package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mapline/internal/domain"
	"mapline/internal/ledger"
	"mapline/internal/repo"
)

// ActivityInput carries a catalogue edit.
type ActivityInput struct {
	SubprocessID string
	ActorID      string
	ActivityID   string
	Description  string
	Knowledge    []string
}

// CompetencyInput carries a map edit.
type CompetencyInput struct {
	SubprocessID string
	ActorID      string
	CompetencyID string
	Description  string
	ActivityIDs  []string
}

// editFunc mutates the catalogue or map inside the edit transaction.
type editFunc func(tx *sql.Tx, sc *scope) error

// edit authorizes perm, applies the implicit transition the current
// situação calls for, runs fn and commits.
func (e Engine) edit(ctx context.Context, subprocessID, actorID string, perm domain.Action, evt string, payload ledger.Payload, fn editFunc) (domain.Subprocess, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subprocess{}, err
	}
	defer tx.Rollback()

	sc, err := e.loadScope(ctx, tx, subprocessID, actorID)
	if err != nil {
		return domain.Subprocess{}, err
	}
	if err := sc.authorize(perm); err != nil {
		return sc.sp, err
	}
	var alerts []domain.AlertRequest
	if implicit, ok := implicitAction(sc.sp, perm); ok {
		res, err := e.transitionTx(ctx, tx, &sc, implicit, "", false)
		if err != nil {
			return sc.sp, err
		}
		alerts = res.Alerts
	}
	if err := fn(tx, &sc); err != nil {
		return sc.sp, err
	}
	if err := e.journal().Append(ctx, tx, evt, sc.sp.ProcessID, "subprocess", sc.sp.ID, sc.actor.ID, payload); err != nil {
		return sc.sp, err
	}
	if err := tx.Commit(); err != nil {
		return sc.sp, err
	}
	e.emit(ctx, alerts)
	return sc.sp, nil
}

// implicitAction is the transition an edit performs on its own: editing
// the catalogue starts (or resumes) the cadastro, and the first map edit
// after homologation opens the map.
func implicitAction(sp domain.Subprocess, perm domain.Action) (domain.Action, bool) {
	switch perm {
	case domain.ActionEditCadastro:
		switch sp.Situation {
		case domain.NotStarted, domain.CadastroReturned, domain.RevisionCadastroReturned:
			return domain.ActionStart, true
		}
	case domain.ActionEditMap:
		switch sp.Situation {
		case domain.CadastroHomologated:
			return domain.ActionCreateMap, true
		case domain.RevisionCadastroHomologated:
			return domain.ActionAdjustMap, true
		}
	}
	return "", false
}

func (e Engine) AddActivity(ctx context.Context, in ActivityInput) (domain.Activity, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return domain.Activity{}, invalid(Issue{Reason: "descrição da atividade obrigatória"})
	}
	a := domain.Activity{ID: in.ActivityID, Description: desc, Knowledge: []domain.Knowledge{}}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	for _, k := range in.Knowledge {
		if k = strings.TrimSpace(k); k != "" {
			a.Knowledge = append(a.Knowledge, domain.Knowledge{ID: uuid.NewString(), ActivityID: a.ID, Description: k})
		}
	}
	_, err := e.edit(ctx, in.SubprocessID, in.ActorID, domain.ActionEditCadastro, "activity.added",
		ledger.Payload{"activity_id": a.ID, "knowledge": len(a.Knowledge)},
		func(tx *sql.Tx, sc *scope) error {
			return e.Repo.InsertActivity(ctx, tx, sc.sp.ID, a)
		})
	if err != nil {
		return domain.Activity{}, err
	}
	return a, nil
}

func (e Engine) UpdateActivity(ctx context.Context, in ActivityInput) error {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return invalid(Issue{Activity: in.ActivityID, Reason: "descrição da atividade obrigatória"})
	}
	_, err := e.edit(ctx, in.SubprocessID, in.ActorID, domain.ActionEditCadastro, "activity.updated",
		ledger.Payload{"activity_id": in.ActivityID},
		func(tx *sql.Tx, sc *scope) error {
			return notFoundAs(e.Repo.UpdateActivity(ctx, tx, sc.sp.ID, in.ActivityID, desc), "activity", in.ActivityID)
		})
	return err
}

// RemoveActivity drops the activity with its knowledge and its competency
// associations.
func (e Engine) RemoveActivity(ctx context.Context, subprocessID, actorID, activityID string) error {
	_, err := e.edit(ctx, subprocessID, actorID, domain.ActionEditCadastro, "activity.removed",
		ledger.Payload{"activity_id": activityID},
		func(tx *sql.Tx, sc *scope) error {
			return notFoundAs(e.Repo.DeleteActivity(ctx, tx, sc.sp.ID, activityID), "activity", activityID)
		})
	return err
}

func (e Engine) AddKnowledge(ctx context.Context, subprocessID, actorID, activityID, description string) (domain.Knowledge, error) {
	desc := strings.TrimSpace(description)
	if desc == "" {
		return domain.Knowledge{}, invalid(Issue{Activity: activityID, Reason: "descrição do conhecimento obrigatória"})
	}
	k := domain.Knowledge{ID: uuid.NewString(), ActivityID: activityID, Description: desc}
	_, err := e.edit(ctx, subprocessID, actorID, domain.ActionEditCadastro, "knowledge.added",
		ledger.Payload{"activity_id": activityID, "knowledge_id": k.ID},
		func(tx *sql.Tx, sc *scope) error {
			known, err := e.activityIDs(ctx, tx, sc.sp.ID)
			if err != nil {
				return err
			}
			if !known[activityID] {
				return fmt.Errorf("activity %s: %w", activityID, repo.ErrNotFound)
			}
			return e.Repo.InsertKnowledge(ctx, tx, sc.sp.ID, k)
		})
	if err != nil {
		return domain.Knowledge{}, err
	}
	return k, nil
}

func (e Engine) RemoveKnowledge(ctx context.Context, subprocessID, actorID, knowledgeID string) error {
	_, err := e.edit(ctx, subprocessID, actorID, domain.ActionEditCadastro, "knowledge.removed",
		ledger.Payload{"knowledge_id": knowledgeID},
		func(tx *sql.Tx, sc *scope) error {
			return notFoundAs(e.Repo.DeleteKnowledge(ctx, tx, sc.sp.ID, knowledgeID), "knowledge", knowledgeID)
		})
	return err
}

func (e Engine) AddCompetency(ctx context.Context, in CompetencyInput) (domain.Competency, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return domain.Competency{}, invalid(Issue{Reason: "descrição da competência obrigatória"})
	}
	c := domain.Competency{ID: in.CompetencyID, Description: desc, ActivityIDs: dedupe(in.ActivityIDs)}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := e.edit(ctx, in.SubprocessID, in.ActorID, domain.ActionEditMap, "competency.added",
		ledger.Payload{"competency_id": c.ID, "activities": c.ActivityIDs},
		func(tx *sql.Tx, sc *scope) error {
			if err := e.checkAssociation(ctx, tx, sc.sp.ID, c.ID, c.ActivityIDs); err != nil {
				return err
			}
			return e.Repo.InsertCompetency(ctx, tx, sc.sp.ID, c)
		})
	if err != nil {
		return domain.Competency{}, err
	}
	return c, nil
}

func (e Engine) RemoveCompetency(ctx context.Context, subprocessID, actorID, competencyID string) error {
	_, err := e.edit(ctx, subprocessID, actorID, domain.ActionEditMap, "competency.removed",
		ledger.Payload{"competency_id": competencyID},
		func(tx *sql.Tx, sc *scope) error {
			return notFoundAs(e.Repo.DeleteCompetency(ctx, tx, sc.sp.ID, competencyID), "competency", competencyID)
		})
	return err
}

// AssociateActivities replaces the activity set of a competency.
func (e Engine) AssociateActivities(ctx context.Context, in CompetencyInput) error {
	ids := dedupe(in.ActivityIDs)
	_, err := e.edit(ctx, in.SubprocessID, in.ActorID, domain.ActionEditMap, "competency.associated",
		ledger.Payload{"competency_id": in.CompetencyID, "activities": ids},
		func(tx *sql.Tx, sc *scope) error {
			comps, err := e.Repo.ListCompetencies(ctx, tx, sc.sp.ID)
			if err != nil {
				return err
			}
			found := false
			for _, c := range comps {
				found = found || c.ID == in.CompetencyID
			}
			if !found {
				return fmt.Errorf("competency %s: %w", in.CompetencyID, repo.ErrNotFound)
			}
			if err := e.checkAssociation(ctx, tx, sc.sp.ID, in.CompetencyID, ids); err != nil {
				return err
			}
			return e.Repo.SetCompetencyActivities(ctx, tx, sc.sp.ID, in.CompetencyID, ids)
		})
	return err
}

// checkAssociation keeps every competency's activities a non-empty subset
// of the catalogue.
func (e Engine) checkAssociation(ctx context.Context, tx *sql.Tx, subprocessID, competencyID string, activityIDs []string) error {
	if len(activityIDs) == 0 {
		return invalid(Issue{Competency: competencyID, Reason: reasonCompetencyNoLinks})
	}
	known, err := e.activityIDs(ctx, tx, subprocessID)
	if err != nil {
		return err
	}
	var issues []Issue
	for _, id := range activityIDs {
		if !known[id] {
			issues = append(issues, Issue{Activity: id, Competency: competencyID, Reason: reasonUnknownActivity})
		}
	}
	if len(issues) > 0 {
		return invalid(issues...)
	}
	return nil
}

func (e Engine) activityIDs(ctx context.Context, tx *sql.Tx, subprocessID string) (map[string]bool, error) {
	acts, err := e.Repo.ListActivities(ctx, tx, subprocessID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(acts))
	for _, a := range acts {
		out[a.ID] = true
	}
	return out, nil
}

func notFoundAs(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
	}
	return err
}
