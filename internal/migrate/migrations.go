// Package migrate brings a mapline database up to the embedded schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var scripts embed.FS

// step is one numbered script, e.g. 001_init.sql.
type step struct {
	version int
	file    string
	body    string
}

func steps() ([]step, error) {
	names, err := scripts.ReadDir("sql")
	if err != nil {
		return nil, err
	}
	out := make([]step, 0, len(names))
	for _, n := range names {
		prefix, _, ok := strings.Cut(n.Name(), "_")
		v, convErr := strconv.Atoi(prefix)
		if n.IsDir() || !ok || convErr != nil {
			return nil, fmt.Errorf("migration %q: name must start with NNN_", n.Name())
		}
		body, err := scripts.ReadFile(path.Join("sql", n.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, step{version: v, file: n.Name(), body: string(body)})
	}
	slices.SortFunc(out, func(a, b step) int { return a.version - b.version })
	return out, nil
}

// Migrate runs every script newer than the recorded schema version inside a
// single transaction and returns the version reached.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	pending, err := steps()
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	current, err := schemaVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	for _, s := range pending {
		if s.version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.body); err != nil {
			return 0, fmt.Errorf("migration %s: %w", s.file, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, s.version); err != nil {
			return 0, fmt.Errorf("record version %d: %w", s.version, err)
		}
		current = s.version
	}
	return current, tx.Commit()
}

// schemaVersion reads the recorded version, creating the bookkeeping table
// at version 0 on a fresh database.
func schemaVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("schema_version: %w", err)
	}
	var v int
	err := tx.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (0)`)
	}
	if err != nil {
		return 0, fmt.Errorf("schema_version: %w", err)
	}
	return v, nil
}
