package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mapline/internal/domain"
)

const subprocessColumns = `s.id,s.process_id,s.unit_id,s.situation,s.current_unit_id,s.previous_unit_id,
s.stage1_deadline,s.stage1_done_at,s.stage2_deadline,s.stage2_done_at,s.version,s.updated_at,p.kind`

func scanSubprocess(row interface{ Scan(...any) error }) (domain.Subprocess, error) {
	var sp domain.Subprocess
	var situation, kind string
	var previous, stage1Done, stage2Deadline, stage2Done sql.NullString
	err := row.Scan(&sp.ID, &sp.ProcessID, &sp.UnitID, &situation, &sp.CurrentUnitID, &previous,
		&sp.Stage1Deadline, &stage1Done, &stage2Deadline, &stage2Done, &sp.Version, &sp.UpdatedAt, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return sp, ErrNotFound
	}
	if err != nil {
		return sp, err
	}
	sp.Situation = domain.Situation(situation)
	sp.Kind = domain.ProcessKind(kind)
	sp.PreviousUnitID = ptr(previous)
	sp.Stage1DoneAt = ptr(stage1Done)
	sp.Stage2Deadline = ptr(stage2Deadline)
	sp.Stage2DoneAt = ptr(stage2Done)
	return sp, nil
}

func (r Repo) InsertSubprocess(ctx context.Context, tx *sql.Tx, sp domain.Subprocess) error {
	if sp.Version == 0 {
		sp.Version = 1
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO subprocesses(id,process_id,unit_id,situation,current_unit_id,previous_unit_id,
stage1_deadline,stage1_done_at,stage2_deadline,stage2_done_at,version,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		sp.ID, sp.ProcessID, sp.UnitID, string(sp.Situation), sp.CurrentUnitID, nullablePtr(sp.PreviousUnitID),
		sp.Stage1Deadline, nullablePtr(sp.Stage1DoneAt), nullablePtr(sp.Stage2Deadline), nullablePtr(sp.Stage2DoneAt), sp.Version, sp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert subprocess: %w", err)
	}
	return nil
}

func (r Repo) GetSubprocess(ctx context.Context, tx *sql.Tx, id string) (domain.Subprocess, error) {
	return scanSubprocess(r.conn(tx).QueryRowContext(ctx, `SELECT `+subprocessColumns+`
FROM subprocesses s JOIN processes p ON p.id=s.process_id WHERE s.id=?`, id))
}

func (r Repo) GetSubprocessByUnit(ctx context.Context, tx *sql.Tx, processID, unitID string) (domain.Subprocess, error) {
	return scanSubprocess(r.conn(tx).QueryRowContext(ctx, `SELECT `+subprocessColumns+`
FROM subprocesses s JOIN processes p ON p.id=s.process_id WHERE s.process_id=? AND s.unit_id=?`, processID, unitID))
}

func (r Repo) ListSubprocesses(ctx context.Context, tx *sql.Tx, processID string) ([]domain.Subprocess, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT `+subprocessColumns+`
FROM subprocesses s JOIN processes p ON p.id=s.process_id WHERE s.process_id=? ORDER BY s.unit_id`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Subprocess
	for rows.Next() {
		sp, err := scanSubprocess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// UpdateSubprocess writes sp if its stored version still equals
// expectedVersion and returns the bumped version. A lost race yields
// ErrVersionConflict and writes nothing.
func (r Repo) UpdateSubprocess(ctx context.Context, tx *sql.Tx, sp domain.Subprocess, expectedVersion int64) (int64, error) {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE subprocesses SET situation=?, current_unit_id=?, previous_unit_id=?,
stage1_done_at=?, stage2_deadline=?, stage2_done_at=?, updated_at=?, version=version+1
WHERE id=? AND version=?`,
		string(sp.Situation), sp.CurrentUnitID, nullablePtr(sp.PreviousUnitID),
		nullablePtr(sp.Stage1DoneAt), nullablePtr(sp.Stage2Deadline), nullablePtr(sp.Stage2DoneAt), sp.UpdatedAt,
		sp.ID, expectedVersion)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}
