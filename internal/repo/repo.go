package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mapline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict: subprocess changed since it was read")
)

// DBTX is the subset shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns tx when set, the pool otherwise.
func (r Repo) conn(tx *sql.Tx) DBTX {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) InsertUnit(ctx context.Context, tx *sql.Tx, u domain.Unit) error {
	if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Sigla) == "" {
		return errors.New("unit id and sigla required")
	}
	if u.Name == "" {
		u.Name = u.Sigla
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO units(id,sigla,name,parent_id) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET sigla=excluded.sigla, name=excluded.name, parent_id=excluded.parent_id`,
		u.ID, u.Sigla, u.Name, nullablePtr(u.ParentID))
	return err
}

func scanUnit(row interface{ Scan(...any) error }) (domain.Unit, error) {
	var u domain.Unit
	var parent sql.NullString
	if err := row.Scan(&u.ID, &u.Sigla, &u.Name, &parent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, ErrNotFound
		}
		return u, err
	}
	if parent.Valid {
		u.ParentID = &parent.String
	}
	return u, nil
}

func (r Repo) GetUnit(ctx context.Context, tx *sql.Tx, id string) (domain.Unit, error) {
	return scanUnit(r.conn(tx).QueryRowContext(ctx, `SELECT id,sigla,name,parent_id FROM units WHERE id=?`, id))
}

func (r Repo) GetUnitBySigla(ctx context.Context, tx *sql.Tx, sigla string) (domain.Unit, error) {
	return scanUnit(r.conn(tx).QueryRowContext(ctx, `SELECT id,sigla,name,parent_id FROM units WHERE sigla=?`, sigla))
}

func (r Repo) ListUnits(ctx context.Context, tx *sql.Tx) ([]domain.Unit, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT id,sigla,name,parent_id FROM units ORDER BY sigla`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r Repo) InsertProcess(ctx context.Context, tx *sql.Tx, p domain.Process) error {
	if _, err := r.conn(tx).ExecContext(ctx, `INSERT INTO processes(id,kind,description,status,deadline,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, string(p.Kind), p.Description, string(p.Status), p.Deadline, p.CreatedAt); err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	for _, unitID := range p.UnitIDs {
		if _, err := r.conn(tx).ExecContext(ctx, `INSERT INTO process_participants(process_id,unit_id) VALUES (?,?)`, p.ID, unitID); err != nil {
			return fmt.Errorf("insert participant %s: %w", unitID, err)
		}
	}
	return nil
}

func (r Repo) GetProcess(ctx context.Context, tx *sql.Tx, id string) (domain.Process, error) {
	var p domain.Process
	var kind, status string
	var started, finished sql.NullString
	err := r.conn(tx).QueryRowContext(ctx, `SELECT id,kind,description,status,deadline,created_at,started_at,finished_at FROM processes WHERE id=?`, id).
		Scan(&p.ID, &kind, &p.Description, &status, &p.Deadline, &p.CreatedAt, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Kind = domain.ProcessKind(kind)
	p.Status = domain.ProcessStatus(status)
	p.StartedAt = ptr(started)
	p.FinishedAt = ptr(finished)
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT unit_id FROM process_participants WHERE process_id=? ORDER BY unit_id`, id)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	for rows.Next() {
		var unitID string
		if err := rows.Scan(&unitID); err != nil {
			return p, err
		}
		p.UnitIDs = append(p.UnitIDs, unitID)
	}
	return p, rows.Err()
}

func (r Repo) ListProcesses(ctx context.Context, status domain.ProcessStatus) ([]domain.Process, error) {
	query := `SELECT id FROM processes`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Process, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetProcess(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdateProcessStatus moves a process forward; from guards against races.
func (r Repo) UpdateProcessStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProcessStatus, ts string) error {
	column := "started_at"
	if to == domain.ProcessFinished {
		column = "finished_at"
	}
	res, err := r.conn(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE processes SET status=?, %s=? WHERE id=? AND status=?`, column),
		string(to), ts, id, string(from))
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// InsertProcessTree freezes the unit hierarchy for a process.
func (r Repo) InsertProcessTree(ctx context.Context, tx *sql.Tx, processID string, units []domain.Unit) error {
	for _, u := range units {
		if _, err := r.conn(tx).ExecContext(ctx, `INSERT INTO process_units(process_id,unit_id,sigla,name,parent_id) VALUES (?,?,?,?,?)`,
			processID, u.ID, u.Sigla, u.Name, nullablePtr(u.ParentID)); err != nil {
			return fmt.Errorf("snapshot unit %s: %w", u.ID, err)
		}
	}
	return nil
}

// ProcessTree returns the frozen hierarchy, or the live one before start.
func (r Repo) ProcessTree(ctx context.Context, tx *sql.Tx, processID string) ([]domain.Unit, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT unit_id,sigla,name,parent_id FROM process_units WHERE process_id=? ORDER BY sigla`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return r.ListUnits(ctx, tx)
	}
	return out, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func ptr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// ActiveParticipations maps each unit taking part in an unfinished process
// of kind to that process id.
func (r Repo) ActiveParticipations(ctx context.Context, tx *sql.Tx, kind domain.ProcessKind) (map[string]string, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT pp.unit_id, p.id FROM process_participants pp
JOIN processes p ON p.id=pp.process_id WHERE p.kind=? AND p.status<>?`, string(kind), string(domain.ProcessFinished))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var unitID, processID string
		if err := rows.Scan(&unitID, &processID); err != nil {
			return nil, err
		}
		out[unitID] = processID
	}
	return out, rows.Err()
}
