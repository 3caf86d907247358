// Package ledger is the append-only history of subprocess analyses and
// movements, plus the generic audit event log.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mapline/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) now() string {
	if w.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return w.Now().UTC().Format(time.RFC3339)
}

// Append records a generic audit event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, processID, entityKind, entityID, actorID string, payload Payload) error {
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,process_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		w.now(), evtType, nullable(processID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM (SELECT seq FROM analyses UNION ALL SELECT seq FROM movements)`).Scan(&seq)
	return seq, err
}

// AppendMovement stores m and returns it with ID and TS filled in.
func (w Writer) AppendMovement(ctx context.Context, tx *sql.Tx, m domain.Movement) (domain.Movement, error) {
	if m.TS == "" {
		m.TS = w.now()
	}
	seq, err := nextSeq(ctx, tx)
	if err != nil {
		return m, fmt.Errorf("ledger sequence: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO movements(seq,subprocess_id,ts,origin_unit_id,destination_unit_id,description,actor_id,from_situation,to_situation)
VALUES (?,?,?,?,?,?,?,?,?)`,
		seq, m.SubprocessID, m.TS, m.OriginUnitID, m.DestUnitID, m.Description, m.ActorID, string(m.FromSituation), string(m.ToSituation))
	if err != nil {
		return m, fmt.Errorf("insert movement: %w", err)
	}
	m.ID, _ = res.LastInsertId()
	return m, nil
}

// AppendAnalysis stores a and returns it with ID and TS filled in.
func (w Writer) AppendAnalysis(ctx context.Context, tx *sql.Tx, a domain.Analysis) (domain.Analysis, error) {
	if a.TS == "" {
		a.TS = w.now()
	}
	seq, err := nextSeq(ctx, tx)
	if err != nil {
		return a, fmt.Errorf("ledger sequence: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO analyses(seq,subprocess_id,ts,unit_id,action,actor_id,observation) VALUES (?,?,?,?,?,?,?)`,
		seq, a.SubprocessID, a.TS, a.UnitID, string(a.Action), a.ActorID, nullable(a.Observation))
	if err != nil {
		return a, fmt.Errorf("insert analysis: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return a, nil
}

// History returns every analysis and movement of a subprocess, newest first.
func History(ctx context.Context, q Querier, subprocessID string) ([]domain.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
SELECT 'analysis', seq, id, ts, unit_id, action, actor_id, COALESCE(observation,''), '', '', '', ''
FROM analyses WHERE subprocess_id=?
UNION ALL
SELECT 'movement', seq, id, ts, '', '', actor_id, '', origin_unit_id, destination_unit_id, description, from_situation || '|' || to_situation
FROM movements WHERE subprocess_id=?
ORDER BY 2 DESC`, subprocessID, subprocessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			kind, ts, unit, action, actor, obs, origin, dest, desc, situations string
			seq, id                                                            int64
		)
		if err := rows.Scan(&kind, &seq, &id, &ts, &unit, &action, &actor, &obs, &origin, &dest, &desc, &situations); err != nil {
			return nil, err
		}
		entry := domain.HistoryEntry{Seq: seq, TS: ts, Kind: kind}
		if kind == "analysis" {
			entry.Analysis = &domain.Analysis{
				ID: id, SubprocessID: subprocessID, TS: ts, UnitID: unit,
				Action: domain.Action(action), ActorID: actor, Observation: obs,
			}
		} else {
			from, to := splitSituations(situations)
			entry.Movement = &domain.Movement{
				ID: id, SubprocessID: subprocessID, TS: ts, OriginUnitID: origin, DestUnitID: dest,
				Description: desc, ActorID: actor, FromSituation: from, ToSituation: to,
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func splitSituations(s string) (domain.Situation, domain.Situation) {
	from, to, _ := strings.Cut(s, "|")
	return domain.Situation(from), domain.Situation(to)
}

// CanReopen reports whether the newest HOMOLOGATE/REOPEN analysis is a
// HOMOLOGATE, i.e. the stage was ratified and not reopened since.
func CanReopen(history []domain.HistoryEntry) bool {
	for _, e := range history {
		if e.Analysis == nil {
			continue
		}
		switch e.Analysis.Action {
		case domain.ActionHomologate:
			return true
		case domain.ActionReopen:
			return false
		}
	}
	return false
}

// TimeInSituation measures how long the subprocess has been in current,
// counting from the newest movement that entered it.
func TimeInSituation(history []domain.HistoryEntry, current domain.Situation, now time.Time) time.Duration {
	for _, e := range history {
		if e.Movement == nil || e.Movement.ToSituation != current {
			continue
		}
		ts, err := time.Parse(time.RFC3339, e.Movement.TS)
		if err != nil {
			return 0
		}
		if d := now.Sub(ts); d > 0 {
			return d
		}
		return 0
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// LatestAnalysis returns the newest analysis of the given action, or
// sql.ErrNoRows when the subprocess has none.
func LatestAnalysis(ctx context.Context, tx *sql.Tx, subprocessID string, action domain.Action) (domain.Analysis, error) {
	a := domain.Analysis{SubprocessID: subprocessID}
	var obs sql.NullString
	var act string
	err := tx.QueryRowContext(ctx, `SELECT id, ts, unit_id, action, actor_id, observation FROM analyses
WHERE subprocess_id=? AND action=? ORDER BY seq DESC LIMIT 1`, subprocessID, string(action)).
		Scan(&a.ID, &a.TS, &a.UnitID, &act, &a.ActorID, &obs)
	if err != nil {
		return a, err
	}
	a.Action = domain.Action(act)
	a.Observation = obs.String
	return a, nil
}

// Events lists audit events of a process, oldest first. An empty processID
// lists everything.
func Events(ctx context.Context, q Querier, processID string, limit int) ([]domain.Event, error) {
	query := `SELECT id, ts, type, COALESCE(process_id,''), entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events`
	var args []any
	if processID != "" {
		query += ` WHERE process_id=?`
		args = append(args, processID)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.ProcessID, &ev.EntityKind, &ev.EntityID, &ev.ActorID, &ev.Payload); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
