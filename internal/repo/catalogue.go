package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mapline/internal/domain"
)

func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, subprocessID string, a domain.Activity) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO activities(subprocess_id,id,description) VALUES (?,?,?)`, subprocessID, a.ID, a.Description)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	for _, k := range a.Knowledge {
		k.ActivityID = a.ID
		if err := r.InsertKnowledge(ctx, tx, subprocessID, k); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdateActivity(ctx context.Context, tx *sql.Tx, subprocessID, activityID, description string) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE activities SET description=? WHERE subprocess_id=? AND id=?`, description, subprocessID, activityID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteActivity removes the activity; knowledge and competency links cascade.
func (r Repo) DeleteActivity(ctx context.Context, tx *sql.Tx, subprocessID, activityID string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM activities WHERE subprocess_id=? AND id=?`, subprocessID, activityID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) InsertKnowledge(ctx context.Context, tx *sql.Tx, subprocessID string, k domain.Knowledge) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO knowledge(subprocess_id,id,activity_id,description) VALUES (?,?,?,?)`,
		subprocessID, k.ID, k.ActivityID, k.Description)
	if err != nil {
		return fmt.Errorf("insert knowledge: %w", err)
	}
	return nil
}

func (r Repo) DeleteKnowledge(ctx context.Context, tx *sql.Tx, subprocessID, knowledgeID string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM knowledge WHERE subprocess_id=? AND id=?`, subprocessID, knowledgeID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListActivities returns the catalogue of a subprocess ordered by id, each
// activity carrying its knowledge.
func (r Repo) ListActivities(ctx context.Context, tx *sql.Tx, subprocessID string) ([]domain.Activity, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT a.id, a.description, k.id, k.description
FROM activities a LEFT JOIN knowledge k ON k.subprocess_id=a.subprocess_id AND k.activity_id=a.id
WHERE a.subprocess_id=? ORDER BY a.id, k.id`, subprocessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Activity
	for rows.Next() {
		var id, desc string
		var kid, kdesc sql.NullString
		if err := rows.Scan(&id, &desc, &kid, &kdesc); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, domain.Activity{ID: id, Description: desc, Knowledge: []domain.Knowledge{}})
		}
		if kid.Valid {
			last := &out[len(out)-1]
			last.Knowledge = append(last.Knowledge, domain.Knowledge{ID: kid.String, ActivityID: id, Description: kdesc.String})
		}
	}
	return out, rows.Err()
}

func (r Repo) InsertCompetency(ctx context.Context, tx *sql.Tx, subprocessID string, c domain.Competency) error {
	if _, err := r.conn(tx).ExecContext(ctx, `INSERT INTO competencies(subprocess_id,id,description) VALUES (?,?,?)`,
		subprocessID, c.ID, c.Description); err != nil {
		return fmt.Errorf("insert competency: %w", err)
	}
	return r.SetCompetencyActivities(ctx, tx, subprocessID, c.ID, c.ActivityIDs)
}

func (r Repo) DeleteCompetency(ctx context.Context, tx *sql.Tx, subprocessID, competencyID string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM competencies WHERE subprocess_id=? AND id=?`, subprocessID, competencyID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetCompetencyActivities replaces the associated-activity set.
func (r Repo) SetCompetencyActivities(ctx context.Context, tx *sql.Tx, subprocessID, competencyID string, activityIDs []string) error {
	if _, err := r.conn(tx).ExecContext(ctx, `DELETE FROM competency_activities WHERE subprocess_id=? AND competency_id=?`,
		subprocessID, competencyID); err != nil {
		return err
	}
	for _, aid := range activityIDs {
		if _, err := r.conn(tx).ExecContext(ctx, `INSERT OR IGNORE INTO competency_activities(subprocess_id,competency_id,activity_id) VALUES (?,?,?)`,
			subprocessID, competencyID, aid); err != nil {
			return fmt.Errorf("associate activity %s: %w", aid, err)
		}
	}
	return nil
}

func (r Repo) ListCompetencies(ctx context.Context, tx *sql.Tx, subprocessID string) ([]domain.Competency, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT c.id, c.description, ca.activity_id
FROM competencies c LEFT JOIN competency_activities ca ON ca.subprocess_id=c.subprocess_id AND ca.competency_id=c.id
WHERE c.subprocess_id=? ORDER BY c.id, ca.activity_id`, subprocessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Competency
	for rows.Next() {
		var id, desc string
		var aid sql.NullString
		if err := rows.Scan(&id, &desc, &aid); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, domain.Competency{ID: id, Description: desc, ActivityIDs: []string{}})
		}
		if aid.Valid {
			last := &out[len(out)-1]
			last.ActivityIDs = append(last.ActivityIDs, aid.String)
		}
	}
	return out, rows.Err()
}

// LoadMap assembles the competency map of a subprocess.
func (r Repo) LoadMap(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) (domain.Map, error) {
	comps, err := r.ListCompetencies(ctx, tx, sp.ID)
	if err != nil {
		return domain.Map{}, err
	}
	acts, err := r.ListActivities(ctx, tx, sp.ID)
	if err != nil {
		return domain.Map{}, err
	}
	return domain.Map{SubprocessID: sp.ID, UnitID: sp.UnitID, Competencies: comps, Activities: acts}, nil
}

func (r Repo) SetVigenteMap(ctx context.Context, tx *sql.Tx, unitID, subprocessID, ts string) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO vigente_maps(unit_id,subprocess_id,published_at) VALUES (?,?,?)
ON CONFLICT(unit_id) DO UPDATE SET subprocess_id=excluded.subprocess_id, published_at=excluded.published_at`,
		unitID, subprocessID, ts)
	return err
}

// VigenteMap returns the currently effective map of a unit or ErrNotFound.
func (r Repo) VigenteMap(ctx context.Context, tx *sql.Tx, unitID string) (domain.Map, error) {
	var subprocessID, published string
	err := r.conn(tx).QueryRowContext(ctx, `SELECT subprocess_id, published_at FROM vigente_maps WHERE unit_id=?`, unitID).
		Scan(&subprocessID, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Map{}, ErrNotFound
	}
	if err != nil {
		return domain.Map{}, err
	}
	m, err := r.LoadMap(ctx, tx, domain.Subprocess{ID: subprocessID, UnitID: unitID})
	if err != nil {
		return m, err
	}
	m.PublishedAt = &published
	return m, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
