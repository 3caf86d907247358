package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mapline/internal/config"
	"mapline/internal/domain"
	"mapline/internal/repo"
)

// Bootstrap makes sure the admin unit named in the config and an ADMIN actor
// exist, creating them on first use. It returns the admin actor.
func Bootstrap(ctx context.Context, r repo.Repo, cfg *config.Config, adminActorID string) (domain.Actor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if adminActorID == "" {
		adminActorID = "admin"
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	sigla := cfg.Organization.AdminUnit
	unit, err := r.GetUnitBySigla(ctx, tx, sigla)
	if errors.Is(err, repo.ErrNotFound) {
		unit = domain.Unit{ID: sigla, Sigla: sigla, Name: sigla}
		if err := r.InsertUnit(ctx, tx, unit); err != nil {
			return domain.Actor{}, fmt.Errorf("create admin unit: %w", err)
		}
	} else if err != nil {
		return domain.Actor{}, err
	}

	actor, err := r.GetActor(ctx, tx, adminActorID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		actor = domain.Actor{
			ID:        adminActorID,
			Role:      domain.RoleAdmin,
			UnitID:    unit.ID,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := r.UpsertActor(ctx, tx, actor); err != nil {
			return domain.Actor{}, fmt.Errorf("create admin actor: %w", err)
		}
	case err != nil:
		return domain.Actor{}, err
	case actor.Role != domain.RoleAdmin:
		return domain.Actor{}, fmt.Errorf("actor %s exists with role %s", actor.ID, actor.Role)
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}
