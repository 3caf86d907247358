package repo

import (
	"context"
	"database/sql"

	"mapline/internal/domain"
)

func (r Repo) InsertAlert(ctx context.Context, tx *sql.Tx, ts string, req domain.AlertRequest) (int64, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO alerts(ts,kind,target_unit_id,process_id,subprocess_id,message) VALUES (?,?,?,?,?,?)`,
		ts, string(req.Kind), req.TargetUnitID, req.ProcessID, nullable(req.SubprocessID), req.Message)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AlertsAfter pages the outbox by id; unitID filters when non-empty.
func (r Repo) AlertsAfter(ctx context.Context, afterID int64, limit int, unitID string) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,kind,target_unit_id,process_id,COALESCE(subprocess_id,''),message FROM alerts WHERE id>?`
	args := []any{afterID}
	if unitID != "" {
		query += ` AND target_unit_id=?`
		args = append(args, unitID)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var kind string
		if err := rows.Scan(&a.ID, &a.TS, &kind, &a.Request.TargetUnitID, &a.Request.ProcessID, &a.Request.SubprocessID, &a.Request.Message); err != nil {
			return nil, err
		}
		a.Request.Kind = domain.AlertKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r Repo) LatestAlertID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM alerts`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
