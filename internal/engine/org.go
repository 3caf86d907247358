package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mapline/internal/domain"
	"mapline/internal/ledger"
	"mapline/internal/repo"
)

// RegisterUnit adds or renames a unit of the organization tree. Processes
// already started keep the tree they froze.
func (e Engine) RegisterUnit(ctx context.Context, actorID string, u domain.Unit) (domain.Unit, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unit{}, err
	}
	defer tx.Rollback()

	actor, err := e.Repo.GetActor(ctx, tx, actorID)
	if err != nil {
		return domain.Unit{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if err := requireAdmin(actor, opManageUnits); err != nil {
		return domain.Unit{}, err
	}
	u.Sigla = strings.ToUpper(strings.TrimSpace(u.Sigla))
	if u.ID == "" {
		u.ID = u.Sigla
	}
	if u.ParentID != nil {
		if err := e.checkParent(ctx, tx, u.ID, *u.ParentID); err != nil {
			return domain.Unit{}, err
		}
	}
	if err := e.Repo.InsertUnit(ctx, tx, u); err != nil {
		return domain.Unit{}, err
	}
	if err := e.journal().Append(ctx, tx, "unit.registered", "", "unit", u.ID, actor.ID, ledger.Payload{
		"sigla": u.Sigla,
	}); err != nil {
		return domain.Unit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Unit{}, err
	}
	return e.Repo.GetUnit(ctx, nil, u.ID)
}

// checkParent rejects unknown parents and parent chains that loop back.
func (e Engine) checkParent(ctx context.Context, tx *sql.Tx, unitID, parentID string) error {
	seen := map[string]bool{unitID: true}
	for id := parentID; id != ""; {
		if seen[id] {
			return invalid(Issue{Unit: unitID, Reason: "hierarquia de unidades circular"})
		}
		seen[id] = true
		parent, err := e.Repo.GetUnit(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return invalid(Issue{Unit: id, Reason: "unidade superior inexistente"})
		}
		if err != nil {
			return err
		}
		if parent.ParentID == nil {
			break
		}
		id = *parent.ParentID
	}
	return nil
}

// RegisterActor stores an actor with its role and unit.
func (e Engine) RegisterActor(ctx context.Context, actorID string, a domain.Actor) (domain.Actor, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	admin, err := e.Repo.GetActor(ctx, tx, actorID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if err := requireAdmin(admin, opManageUnits); err != nil {
		return domain.Actor{}, err
	}
	if _, err := e.Repo.GetUnit(ctx, tx, a.UnitID); err != nil {
		return domain.Actor{}, fmt.Errorf("unit %s: %w", a.UnitID, err)
	}
	if a.CreatedAt == "" {
		a.CreatedAt = e.stamp()
	}
	if err := e.Repo.UpsertActor(ctx, tx, a); err != nil {
		return domain.Actor{}, err
	}
	if err := e.journal().Append(ctx, tx, "actor.registered", "", "actor", a.ID, admin.ID, ledger.Payload{
		"role": string(a.Role),
		"unit": a.UnitID,
	}); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// IssueAPIKey creates a key for an actor. The raw key is only returned here.
func (e Engine) IssueAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetActor(ctx, nil, actorID); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("actor %s: %w", actorID, err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "ml_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}
