package ledger_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapline/internal/domain"
	"mapline/internal/ledger"
)

func analysis(action domain.Action) domain.HistoryEntry {
	return domain.HistoryEntry{Kind: "analysis", Analysis: &domain.Analysis{Action: action}}
}

func movement(to domain.Situation, ts string) domain.HistoryEntry {
	return domain.HistoryEntry{Kind: "movement", TS: ts, Movement: &domain.Movement{ToSituation: to, TS: ts}}
}

func TestCanReopen(t *testing.T) {
	cases := []struct {
		name    string
		history []domain.HistoryEntry
		want    bool
	}{
		{"empty", nil, false},
		{"homologated", []domain.HistoryEntry{analysis(domain.ActionHomologate), analysis(domain.ActionAccept)}, true},
		{"reopened since", []domain.HistoryEntry{analysis(domain.ActionReopen), analysis(domain.ActionHomologate)}, false},
		{"homologated again", []domain.HistoryEntry{
			movement(domain.CadastroHomologated, ""),
			analysis(domain.ActionHomologate),
			analysis(domain.ActionReopen),
			analysis(domain.ActionHomologate),
		}, true},
		{"only accepts", []domain.HistoryEntry{analysis(domain.ActionAccept)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ledger.CanReopen(tc.history))
		})
	}
}

func TestTimeInSituation(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	history := []domain.HistoryEntry{
		movement(domain.CadastroAvailable, "2024-01-07T00:00:00Z"),
		movement(domain.CadastroInProgress, "2024-01-02T00:00:00Z"),
		movement(domain.CadastroAvailable, "2024-01-01T00:00:00Z"),
	}
	assert.Equal(t, 72*time.Hour, ledger.TimeInSituation(history, domain.CadastroAvailable, now))
	assert.Equal(t, 8*24*time.Hour, ledger.TimeInSituation(history, domain.CadastroInProgress, now))
	assert.Zero(t, ledger.TimeInSituation(history, domain.MapCreated, now))
}

func TestAppendMovementUsesSharedSequence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(seq),0)+1")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(5))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO movements")).
		WithArgs(5, "S1", "2024-01-01T00:00:00Z", "U1", "DIR", "Disponibilização do cadastro", "chefe",
			"CADASTRO_IN_PROGRESS", "CADASTRO_AVAILABLE").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	w := ledger.Writer{Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	m, err := w.AppendMovement(ctx, tx, domain.Movement{
		SubprocessID:  "S1",
		OriginUnitID:  "U1",
		DestUnitID:    "DIR",
		Description:   "Disponibilização do cadastro",
		ActorID:       "chefe",
		FromSituation: domain.CadastroInProgress,
		ToSituation:   domain.CadastroAvailable,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.EqualValues(t, 3, m.ID)
	assert.Equal(t, "2024-01-01T00:00:00Z", m.TS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryDecodesBothKinds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"kind", "seq", "id", "ts", "unit", "action", "actor", "obs", "origin", "dest", "desc", "situations"}
	mock.ExpectQuery("FROM analyses WHERE subprocess_id").
		WithArgs("S1", "S1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("analysis", 2, 1, "2024-01-02T00:00:00Z", "DIR", "ACCEPT", "gestor", "ok", "", "", "", "").
			AddRow("movement", 1, 1, "2024-01-02T00:00:00Z", "", "", "gestor", "", "DIR", "SEDOC",
				"Cadastro aceito", "CADASTRO_AVAILABLE|CADASTRO_ACCEPTED"))

	history, err := ledger.History(context.Background(), db, "S1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	require.NotNil(t, history[0].Analysis)
	assert.Equal(t, domain.ActionAccept, history[0].Analysis.Action)
	assert.Equal(t, "ok", history[0].Analysis.Observation)

	require.NotNil(t, history[1].Movement)
	assert.Equal(t, domain.CadastroAvailable, history[1].Movement.FromSituation)
	assert.Equal(t, domain.CadastroAccepted, history[1].Movement.ToSituation)
	assert.Equal(t, "SEDOC", history[1].Movement.DestUnitID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
