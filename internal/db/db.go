// Package db opens the SQLite file that holds a mapline workspace.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Layout inside a workspace: <workspace>/.mapline/mapline.db
const (
	StateDir = ".mapline"
	FileName = "mapline.db"
)

const defaultBusyTimeoutMS = 5000

type Config struct {
	Workspace string
	// BusyTimeoutMS bounds how long a writer waits for the database lock.
	BusyTimeoutMS int
}

func stateDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, StateDir)
}

// Path returns where the workspace keeps its database.
func Path(workspace string) string {
	return filepath.Join(stateDir(workspace), FileName)
}

// EnsureWorkspace creates the state directory and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := stateDir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace %s: %w", dir, err)
	}
	return dir, nil
}

// dsn enables foreign keys and WAL. _txlock=immediate takes the write lock at
// BEGIN so concurrent transitions wait on busy_timeout instead of failing on
// upgrade.
func dsn(file string, busyMS int) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyMS))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + file + "?" + q.Encode()
}

func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = defaultBusyTimeoutMS
	}
	return sql.Open("sqlite", dsn(Path(cfg.Workspace), busy))
}
