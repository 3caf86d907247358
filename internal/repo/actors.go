package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"mapline/internal/domain"
)

// UpsertActor stores an actor with its role and unit.
func (r Repo) UpsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("actor id required")
	}
	if !a.Role.Valid() {
		return errors.New("actor role must be one of ADMIN, GESTOR, CHEFE, SERVIDOR")
	}
	if a.UnitID == "" {
		return errors.New("actor unit required")
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO actors(id,name,role,unit_id,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, unit_id=excluded.unit_id`,
		a.ID, nullable(a.Name), string(a.Role), a.UnitID, a.CreatedAt)
	return err
}

func scanActor(row interface{ Scan(...any) error }) (domain.Actor, error) {
	var a domain.Actor
	var name sql.NullString
	var role string
	if err := row.Scan(&a.ID, &name, &role, &a.UnitID, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, ErrNotFound
		}
		return a, err
	}
	a.Name = name.String
	a.Role = domain.Role(role)
	return a, nil
}

func (r Repo) GetActor(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	return scanActor(r.conn(tx).QueryRowContext(ctx, `SELECT id,name,role,unit_id,created_at FROM actors WHERE id=?`, id))
}

func (r Repo) ListActors(ctx context.Context, unitID string) ([]domain.Actor, error) {
	query := `SELECT id,name,role,unit_id,created_at FROM actors`
	var args []any
	if unitID != "" {
		query += ` WHERE unit_id=?`
		args = append(args, unitID)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
