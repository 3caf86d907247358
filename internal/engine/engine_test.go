package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapline/internal/alert"
	"mapline/internal/app"
	"mapline/internal/config"
	"mapline/internal/db"
	"mapline/internal/domain"
	"mapline/internal/engine"
	"mapline/internal/lifecycle"
	"mapline/internal/migrate"
	"mapline/internal/permission"
	"mapline/internal/repo"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Alerts *alert.Recorder
	Ctx    context.Context
}

// newTestEnv builds the tree SEDOC > SEC > DIR > {U1, U2} with one actor
// per role: admin (SEDOC), gsec (GESTOR, SEC), gestor (GESTOR, DIR),
// chefe1 (CHEFE, U1), chefe2 (CHEFE, U2) and servidor (SERVIDOR, U1).
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return fixedNow }
	rec := &alert.Recorder{}
	eng.Alerts = rec

	_, err = app.Bootstrap(ctx, eng.Repo, cfg, "admin")
	require.NoError(t, err)
	for _, u := range []domain.Unit{
		{Sigla: "SEC", Name: "Secretaria", ParentID: ptr("SEDOC")},
		{Sigla: "DIR", Name: "Diretoria", ParentID: ptr("SEC")},
		{Sigla: "U1", Name: "Seção 1", ParentID: ptr("DIR")},
		{Sigla: "U2", Name: "Seção 2", ParentID: ptr("DIR")},
	} {
		_, err := eng.RegisterUnit(ctx, "admin", u)
		require.NoError(t, err)
	}
	for _, a := range []domain.Actor{
		{ID: "gsec", Role: domain.RoleGestor, UnitID: "SEC"},
		{ID: "gestor", Role: domain.RoleGestor, UnitID: "DIR"},
		{ID: "chefe1", Role: domain.RoleChefe, UnitID: "U1"},
		{ID: "chefe2", Role: domain.RoleChefe, UnitID: "U2"},
		{ID: "servidor", Role: domain.RoleServidor, UnitID: "U1"},
	} {
		_, err := eng.RegisterActor(ctx, "admin", a)
		require.NoError(t, err)
	}
	return testEnv{Engine: eng, Alerts: rec, Ctx: ctx}
}

func ptr(s string) *string { return &s }

func (env testEnv) startProcess(t *testing.T, kind domain.ProcessKind, deadline string, units ...string) domain.Process {
	t.Helper()
	p, err := env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{
		Kind:        kind,
		Description: "Mapeamento 2024",
		Deadline:    deadline,
		UnitIDs:     units,
		ActorID:     "admin",
	})
	require.NoError(t, err)
	p, err = env.Engine.StartProcess(env.Ctx, p.ID, "admin")
	require.NoError(t, err)
	return p
}

func (env testEnv) subprocess(t *testing.T, processID, unitID string) domain.Subprocess {
	t.Helper()
	sp, err := env.Engine.Repo.GetSubprocessByUnit(env.Ctx, nil, processID, unitID)
	require.NoError(t, err)
	return sp
}

func (env testEnv) apply(t *testing.T, spID, actorID string, action domain.Action, obs string) engine.TransitionResult {
	t.Helper()
	res, err := env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{
		SubprocessID: spID, ActorID: actorID, Action: action, Observation: obs,
	})
	require.NoError(t, err, "%s by %s", action, actorID)
	return res
}

// fillCatalogue adds one activity with knowledge through the unit chief.
func (env testEnv) fillCatalogue(t *testing.T, spID, chief string) domain.Activity {
	t.Helper()
	a, err := env.Engine.AddActivity(env.Ctx, engine.ActivityInput{
		SubprocessID: spID,
		ActorID:      chief,
		Description:  "Fiscalizar contratos",
		Knowledge:    []string{"Lei 14.133"},
	})
	require.NoError(t, err)
	return a
}

// homologateCadastro drives a filled cadastro through both gestores and the admin.
func (env testEnv) homologateCadastro(t *testing.T, spID, chief string) {
	t.Helper()
	env.apply(t, spID, chief, domain.ActionDisponibilize, "")
	env.apply(t, spID, "gestor", domain.ActionAccept, "ok")
	env.apply(t, spID, "gsec", domain.ActionAccept, "ok")
	env.apply(t, spID, "admin", domain.ActionHomologate, "")
}

// homologateMap builds, validates and ratifies a one-competency map.
func (env testEnv) homologateMap(t *testing.T, spID, chief string, activityIDs ...string) {
	t.Helper()
	_, err := env.Engine.AddCompetency(env.Ctx, engine.CompetencyInput{
		SubprocessID: spID, ActorID: "admin", Description: "Gestão de contratos", ActivityIDs: activityIDs,
	})
	require.NoError(t, err)
	_, err = env.Engine.SetMapDeadline(env.Ctx, spID, "admin", "2024-02-15")
	require.NoError(t, err)
	env.apply(t, spID, "admin", domain.ActionDisponibilize, "")
	env.apply(t, spID, chief, domain.ActionValidate, "")
	env.apply(t, spID, "gestor", domain.ActionAccept, "")
	env.apply(t, spID, "gsec", domain.ActionAccept, "")
	env.apply(t, spID, "admin", domain.ActionHomologate, "")
}

func TestMappingHappyPath(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1")
	sp := env.subprocess(t, p.ID, "U1")
	assert.Equal(t, domain.NotStarted, sp.Situation)
	assert.Equal(t, "U1", sp.CurrentUnitID)

	act := env.fillCatalogue(t, sp.ID, "chefe1")
	sp = env.subprocess(t, p.ID, "U1")
	assert.Equal(t, domain.CadastroInProgress, sp.Situation, "editing starts the cadastro")

	res := env.apply(t, sp.ID, "chefe1", domain.ActionDisponibilize, "")
	assert.Equal(t, domain.CadastroAvailable, res.Subprocess.Situation)
	assert.Equal(t, "DIR", res.Subprocess.CurrentUnitID)
	assert.Equal(t, "U1", *res.Subprocess.PreviousUnitID)
	assert.NotNil(t, res.Subprocess.Stage1DoneAt)
	assert.Nil(t, res.Analysis)

	res = env.apply(t, sp.ID, "gestor", domain.ActionAccept, "de acordo")
	assert.Equal(t, domain.CadastroAccepted, res.Subprocess.Situation)
	assert.Equal(t, "SEC", res.Subprocess.CurrentUnitID)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, "DIR", res.Analysis.UnitID)
	assert.Equal(t, "de acordo", res.Analysis.Observation)

	res = env.apply(t, sp.ID, "gsec", domain.ActionAccept, "")
	assert.Equal(t, domain.CadastroAccepted, res.Subprocess.Situation, "acceptance climbs the hierarchy")
	assert.Equal(t, "SEDOC", res.Subprocess.CurrentUnitID)

	res = env.apply(t, sp.ID, "admin", domain.ActionHomologate, "")
	assert.Equal(t, domain.CadastroHomologated, res.Subprocess.Situation)

	env.homologateMap(t, sp.ID, "chefe1", act.ID)
	sp = env.subprocess(t, p.ID, "U1")
	assert.Equal(t, domain.MapHomologated, sp.Situation)
	assert.Equal(t, "SEDOC", sp.CurrentUnitID)
	assert.NotNil(t, sp.Stage2DoneAt)

	history, err := env.Engine.History(env.Ctx, sp.ID)
	require.NoError(t, err)
	var movements, analyses int
	for _, h := range history {
		if h.Movement != nil {
			movements++
		} else {
			analyses++
		}
	}
	// START CREATE_MAP DISPONIBILIZE×2 VALIDATE ACCEPT×4 HOMOLOGATE×2
	assert.Equal(t, 11, movements)
	assert.Equal(t, 6, analyses)
	require.NotNil(t, history[0].Analysis, "newest entry first")
	assert.Equal(t, domain.ActionHomologate, history[0].Analysis.Action)
	require.NotNil(t, history[1].Movement)
	assert.Equal(t, domain.MapHomologated, history[1].Movement.ToSituation)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i-1].Seq, history[i].Seq)
	}
}

func TestCatalogueGateRejectsWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1")
	sp := env.subprocess(t, p.ID, "U1")

	_, err := env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{SubprocessID: sp.ID, ActorID: "chefe1", Action: domain.ActionStart})
	require.NoError(t, err)
	a, err := env.Engine.AddActivity(env.Ctx, engine.ActivityInput{SubprocessID: sp.ID, ActorID: "chefe1", Description: "Sem conhecimento"})
	require.NoError(t, err)
	before := env.subprocess(t, p.ID, "U1")
	hist, err := env.Engine.History(env.Ctx, sp.ID)
	require.NoError(t, err)

	_, err = env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{SubprocessID: sp.ID, ActorID: "chefe1", Action: domain.ActionDisponibilize})
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Issues, 1)
	assert.Equal(t, a.ID, verr.Issues[0].Activity)

	after := env.subprocess(t, p.ID, "U1")
	assert.Equal(t, before, after)
	again, err := env.Engine.History(env.Ctx, sp.ID)
	require.NoError(t, err)
	assert.Len(t, again, len(hist))
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1")
	sp := env.subprocess(t, p.ID, "U1")

	_, err := env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{SubprocessID: sp.ID, ActorID: "admin", Action: domain.ActionHomologate})
	var invalid *lifecycle.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, sp, env.subprocess(t, p.ID, "U1"))
	assert.Len(t, env.Alerts.Requests(), 4, "only the process start alerts were emitted")
}

func TestForbiddenForOtherUnit(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1", "U2")
	sp := env.subprocess(t, p.ID, "U1")

	_, err := env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{SubprocessID: sp.ID, ActorID: "chefe2", Action: domain.ActionStart})
	var forbidden permission.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, domain.ActionStart, forbidden.Action)

	_, err = env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{SubprocessID: sp.ID, ActorID: "servidor", Action: domain.ActionStart})
	require.ErrorAs(t, err, &forbidden)

	_, err = env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{SubprocessID: sp.ID, ActorID: "ghost", Action: domain.ActionStart})
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{SubprocessID: "nope", ActorID: "chefe1", Action: domain.ActionStart})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestGestorNeedsCustody(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1")
	sp := env.subprocess(t, p.ID, "U1")
	env.fillCatalogue(t, sp.ID, "chefe1")
	env.apply(t, sp.ID, "chefe1", domain.ActionDisponibilize, "")

	_, err := env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{SubprocessID: sp.ID, ActorID: "gsec", Action: domain.ActionAccept})
	var forbidden permission.ForbiddenError
	require.ErrorAs(t, err, &forbidden, "SEC does not hold the subprocess yet")
}

func TestVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1")
	sp := env.subprocess(t, p.ID, "U1")
	env.apply(t, sp.ID, "chefe1", domain.ActionStart, "")

	_, err := env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{
		SubprocessID: sp.ID, ActorID: "chefe1", Action: domain.ActionDisponibilize, ExpectedVersion: sp.Version,
	})
	assert.ErrorIs(t, err, repo.ErrVersionConflict)
	assert.Equal(t, domain.CadastroInProgress, env.subprocess(t, p.ID, "U1").Situation)
}

func TestReturnResetsCustodyAndStage(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1")
	sp := env.subprocess(t, p.ID, "U1")
	env.fillCatalogue(t, sp.ID, "chefe1")
	env.apply(t, sp.ID, "chefe1", domain.ActionDisponibilize, "")
	env.Alerts.Reset()

	res := env.apply(t, sp.ID, "gestor", domain.ActionReturn, "faltam atividades")
	assert.Equal(t, domain.CadastroReturned, res.Subprocess.Situation)
	assert.Equal(t, "U1", res.Subprocess.CurrentUnitID)
	assert.Nil(t, res.Subprocess.Stage1DoneAt)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, domain.ActionReturn, res.Analysis.Action)

	alerts := env.Alerts.Requests()
	require.Len(t, alerts, 1)
	assert.Equal(t, "U1", alerts[0].TargetUnitID)
	assert.Equal(t, "U1: Devolução do cadastro de atividades", alerts[0].Message)

	// editing a returned cadastro resumes it
	env.fillCatalogue(t, sp.ID, "chefe1")
	assert.Equal(t, domain.CadastroInProgress, env.subprocess(t, p.ID, "U1").Situation)
}

func TestReopenRequiresJustification(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1")
	sp := env.subprocess(t, p.ID, "U1")
	env.fillCatalogue(t, sp.ID, "chefe1")
	env.homologateCadastro(t, sp.ID, "chefe1")

	var verr *engine.ValidationError
	for _, justification := range []string{"", "curta"} {
		_, err := env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{
			SubprocessID: sp.ID, ActorID: "admin", Action: domain.ActionReopen, Observation: justification,
		})
		require.ErrorAs(t, err, &verr, "%q", justification)
	}

	_, err := env.Engine.ApplyTransition(env.Ctx, engine.TransitionRequest{
		SubprocessID: sp.ID, ActorID: "gsec", Action: domain.ActionReopen, Observation: "erro material no cadastro",
	})
	var forbidden permission.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	env.Alerts.Reset()
	res := env.apply(t, sp.ID, "admin", domain.ActionReopen, "erro material no cadastro")
	assert.Equal(t, domain.CadastroInProgress, res.Subprocess.Situation)
	assert.Equal(t, "U1", res.Subprocess.CurrentUnitID)
	assert.Nil(t, res.Subprocess.Stage1DoneAt)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, "erro material no cadastro", res.Analysis.Observation)

	var targets []string
	for _, a := range env.Alerts.Requests() {
		assert.Equal(t, domain.AlertReopened, a.Kind)
		targets = append(targets, a.TargetUnitID)
	}
	assert.Equal(t, []string{"U1", "DIR", "SEC", "SEDOC"}, targets)
}

func TestAlertFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1")
	sp := env.subprocess(t, p.ID, "U1")
	env.fillCatalogue(t, sp.ID, "chefe1")

	env.Engine.Alerts = alert.Func(func(context.Context, domain.AlertRequest) error {
		return errors.New("smtp down")
	})
	res := env.apply(t, sp.ID, "chefe1", domain.ActionDisponibilize, "")
	assert.Equal(t, domain.CadastroAvailable, res.Subprocess.Situation)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "DIR", res.Alerts[0].TargetUnitID)
	assert.Equal(t, domain.AlertSituationChanged, res.Alerts[0].Kind)
}

func TestPermissionsView(t *testing.T) {
	env := newTestEnv(t)
	p := env.startProcess(t, domain.KindMapping, "2024-01-20", "U1")
	sp := env.subprocess(t, p.ID, "U1")

	perms, err := env.Engine.Permissions(env.Ctx, sp.ID, "chefe1")
	require.NoError(t, err)
	assert.Equal(t, "OWN", perms.Relation)
	assert.True(t, perms.Custodian)
	assert.Contains(t, perms.Actions, domain.ActionStart)
	assert.Contains(t, perms.Actions, domain.ActionEditCadastro)

	perms, err = env.Engine.Permissions(env.Ctx, sp.ID, "chefe2")
	require.NoError(t, err)
	assert.Equal(t, "UNRELATED", perms.Relation)
	assert.Empty(t, perms.Actions)

	_, err = env.Engine.GetSubprocess(env.Ctx, sp.ID, "chefe2")
	var forbidden permission.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	view, err := env.Engine.GetSubprocess(env.Ctx, sp.ID, "gestor")
	require.NoError(t, err)
	assert.Equal(t, sp.ID, view.Subprocess.ID)
}
