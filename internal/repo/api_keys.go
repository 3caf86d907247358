package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"mapline/internal/domain"
)

// HashAPIKey is the only form of a key that reaches the database.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	for _, f := range [][2]string{{"id", key.ID}, {"actor_id", key.ActorID}, {"key_hash", key.KeyHash}} {
		if f[1] == "" {
			return fmt.Errorf("api key: %s required", f[0])
		}
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.conn(tx).ExecContext(ctx,
		`INSERT INTO api_keys(id, actor_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// ActorByAPIKey resolves a raw key to the actor holding it. Unknown and blank
// keys both report ErrNotFound.
func (r Repo) ActorByAPIKey(ctx context.Context, key string) (domain.Actor, error) {
	if strings.TrimSpace(key) == "" {
		return domain.Actor{}, ErrNotFound
	}
	const q = `SELECT a.id, a.name, a.role, a.unit_id, a.created_at
FROM actors a WHERE a.id = (SELECT actor_id FROM api_keys WHERE key_hash = ?)`
	return scanActor(r.DB.QueryRowContext(ctx, q, HashAPIKey(key)))
}

// ListAPIKeys lists keys newest first. The hash is left out of the result.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	const q = `SELECT id, actor_id, COALESCE(name,''), created_at FROM api_keys
WHERE (? = '' OR actor_id = ?) ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, q, actorID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []domain.APIKey{}
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.ActorID, &k.Name, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteAPIKey revokes a key; the next request using it is rejected.
func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("api key: id required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
