package repo_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapline/internal/repo"
)

func TestActorByAPIKeyLooksUpHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM api_keys WHERE key_hash = ?")).
		WithArgs(repo.HashAPIKey("ml_secret")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "role", "unit_id", "created_at"}).
			AddRow("A1", "Ana", "CHEFE", "SEDOC", "2024-01-01T00:00:00Z"))

	actor, err := repo.Repo{DB: db}.ActorByAPIKey(context.Background(), " ml_secret ")
	require.NoError(t, err)
	assert.Equal(t, "A1", actor.ID)
	assert.Equal(t, "SEDOC", actor.UnitID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActorByAPIKeyBlankKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = repo.Repo{DB: db}.ActorByAPIKey(context.Background(), "  ")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAPIKeysOmitsHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM api_keys")).
		WithArgs("A1", "A1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor_id", "name", "created_at"}).
			AddRow("K1", "A1", "ci", "2024-01-01T00:00:00Z"))

	keys, err := repo.Repo{DB: db}.ListAPIKeys(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci", keys[0].Name)
	assert.Empty(t, keys[0].KeyHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnknownAPIKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM api_keys")).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Repo{DB: db}.DeleteAPIKey(context.Background(), "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
