package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapline/internal/alert"
	"mapline/internal/app"
	"mapline/internal/bulk"
	"mapline/internal/config"
	"mapline/internal/db"
	"mapline/internal/domain"
	"mapline/internal/engine"
	"mapline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func ptr(s string) *string { return &s }

// newTestServer serves a workspace with SEDOC > DIR > {U1, U2} and the
// actors admin, gestor (DIR), chefe1 (U1) and chefe2 (U2).
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	cfg := config.Default()
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	e.Alerts = &alert.Recorder{}
	_, err = app.Bootstrap(ctx, e.Repo, cfg, "admin")
	require.NoError(t, err)
	_, err = e.RegisterUnit(ctx, "admin", domain.Unit{Sigla: "DIR", ParentID: ptr("SEDOC")})
	require.NoError(t, err)
	_, err = e.RegisterActor(ctx, "admin", domain.Actor{ID: "gestor", Role: domain.RoleGestor, UnitID: "DIR"})
	require.NoError(t, err)
	for i, u := range []string{"U1", "U2"} {
		_, err = e.RegisterUnit(ctx, "admin", domain.Unit{Sigla: u, ParentID: ptr("DIR")})
		require.NoError(t, err)
		_, err = e.RegisterActor(ctx, "admin", domain.Actor{ID: []string{"chefe1", "chefe2"}[i], Role: domain.RoleChefe, UnitID: u})
		require.NoError(t, err)
	}

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String() + "/v0", Engine: e, client: &http.Client{}}
}

func as(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func (s *testServer) call(t *testing.T, method, path string, body any, actorID string, want int) []byte {
	t.Helper()
	res, data := doJSON(t, s.client, method, s.URL+path, body, as(actorID))
	require.Equal(t, want, res.StatusCode, string(data))
	return data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type envelope struct {
	Error errorBody `json:"error"`
}

// startedProcess creates and starts a mapping process for U1 and U2 and
// returns the process ID with the subprocess ID per unit.
func (s *testServer) startedProcess(t *testing.T) (string, map[string]string) {
	t.Helper()
	p := decode[domain.Process](t, s.call(t, http.MethodPost, "/processes", map[string]any{
		"kind":        "MAPPING",
		"description": "Mapeamento 2024",
		"deadline":    "2024-02-01",
		"unit_ids":    []string{"U1", "U2"},
	}, "admin", http.StatusCreated))
	started := decode[domain.Process](t, s.call(t, http.MethodPost, "/processes/"+p.ID+"/start", nil, "admin", http.StatusOK))
	require.Equal(t, domain.ProcessInProgress, started.Status)

	list := decode[ListResponse[domain.Subprocess]](t, s.call(t, http.MethodGet, "/processes/"+p.ID+"/subprocesses", nil, "admin", http.StatusOK))
	ids := map[string]string{}
	for _, sp := range list.Items {
		ids[sp.UnitID] = sp.ID
	}
	require.Len(t, ids, 2)
	return p.ID, ids
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	health := decode[HealthResponse](t, data)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "2024-01-01T00:00:00Z", health.Time)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decode[envelope](t, data).Error.Code)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decode[envelope](t, data).Error.Code)

	res, _ = doJSON(t, s.client, http.MethodPost, s.URL+"/auth/dev/login", map[string]any{"actor_id": "ghost"}, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	forged, err := SignToken("other-secret", "admin", time.Hour)
	require.NoError(t, err)
	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/auth/dev/login", map[string]any{"actor_id": "chefe1"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	token := decode[DevLoginResponse](t, data).Token
	bearer := map[string]string{"Authorization": "Bearer " + token}

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[WhoAmIResponse](t, data)
	assert.Equal(t, "chefe1", me.Actor.ID)
	assert.Equal(t, "U1", me.Unit.Sigla)

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/api-keys", map[string]any{"name": "ci"}, bearer)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	key := decode[APIKeyResponse](t, data)
	assert.Equal(t, "chefe1", key.Key.ActorID)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, map[string]string{"X-Api-Key": key.Secret})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "chefe1", decode[WhoAmIResponse](t, data).Actor.ID)
}

func TestCadastroFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	processID, subs := s.startedProcess(t)
	u1 := "/subprocesses/" + subs["U1"]

	act := decode[domain.Activity](t, s.call(t, http.MethodPost, u1+"/activities", map[string]any{
		"description": "Atender usuários",
		"knowledge":   []string{"Comunicação"},
	}, "chefe1", http.StatusCreated))
	require.Len(t, act.Knowledge, 1)

	view := decode[engine.SubprocessView](t, s.call(t, http.MethodGet, u1, nil, "chefe1", http.StatusOK))
	assert.Equal(t, domain.CadastroInProgress, view.Subprocess.Situation)
	assert.Len(t, view.Map.Activities, 1)

	perms := decode[engine.Permissions](t, s.call(t, http.MethodGet, u1+"/permissions", nil, "chefe1", http.StatusOK))
	assert.Contains(t, perms.Actions, domain.ActionDisponibilize)

	tr := decode[engine.TransitionResult](t, s.call(t, http.MethodPost, u1+"/disponibilize", nil, "chefe1", http.StatusOK))
	assert.Equal(t, domain.CadastroAvailable, tr.Subprocess.Situation)
	assert.Equal(t, "DIR", tr.Subprocess.CurrentUnitID)

	tr = decode[engine.TransitionResult](t, s.call(t, http.MethodPost, u1+"/accept", map[string]any{"observation": "ok"}, "gestor", http.StatusOK))
	assert.Equal(t, domain.CadastroAccepted, tr.Subprocess.Situation)
	require.NotNil(t, tr.Analysis)
	assert.Equal(t, "ok", tr.Analysis.Observation)

	tr = decode[engine.TransitionResult](t, s.call(t, http.MethodPost, u1+"/homologate", nil, "admin", http.StatusOK))
	assert.Equal(t, domain.CadastroHomologated, tr.Subprocess.Situation)

	history := decode[ListResponse[domain.HistoryEntry]](t, s.call(t, http.MethodGet, u1+"/history", nil, "chefe1", http.StatusOK))
	require.NotEmpty(t, history.Items)
	assert.Equal(t, "analysis", history.Items[0].Kind)
	assert.Equal(t, domain.ActionHomologate, history.Items[0].Analysis.Action)

	events := decode[ListResponse[domain.Event]](t, s.call(t, http.MethodGet, "/processes/"+processID+"/events", nil, "admin", http.StatusOK))
	assert.NotEmpty(t, events.Items)
}

func TestErrorEnvelope(t *testing.T) {
	s := newTestServer(t)
	_, subs := s.startedProcess(t)
	u1 := "/subprocesses/" + subs["U1"]

	data := s.call(t, http.MethodPost, u1+"/accept", nil, "chefe1", http.StatusConflict)
	env := decode[envelope](t, data)
	assert.Equal(t, "invalid_transition", env.Error.Code)
	assert.Equal(t, string(domain.NotStarted), env.Error.Details["from"])

	env = decode[envelope](t, s.call(t, http.MethodPost, u1+"/start", nil, "chefe2", http.StatusForbidden))
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, string(domain.RoleChefe), env.Error.Details["role"])

	s.call(t, http.MethodPost, u1+"/start", nil, "chefe1", http.StatusOK)
	env = decode[envelope](t, s.call(t, http.MethodPost, u1+"/disponibilize", nil, "chefe1", http.StatusUnprocessableEntity))
	assert.Equal(t, "validation_failed", env.Error.Code)
	assert.NotEmpty(t, env.Error.Details["issues"])

	env = decode[envelope](t, s.call(t, http.MethodPost, u1+"/disponibilize", map[string]any{"expected_version": 99}, "chefe1", http.StatusConflict))
	assert.Equal(t, "version_conflict", env.Error.Code)

	env = decode[envelope](t, s.call(t, http.MethodGet, "/subprocesses/missing", nil, "admin", http.StatusNotFound))
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestBulkAcceptOverHTTP(t *testing.T) {
	s := newTestServer(t)
	processID, subs := s.startedProcess(t)
	for unit, chefe := range map[string]string{"U1": "chefe1", "U2": "chefe2"} {
		path := "/subprocesses/" + subs[unit]
		s.call(t, http.MethodPost, path+"/activities", map[string]any{
			"description": "Atender", "knowledge": []string{"Comunicação"},
		}, chefe, http.StatusCreated)
		s.call(t, http.MethodPost, path+"/disponibilize", nil, chefe, http.StatusOK)
	}

	eligible := decode[ListResponse[domain.Subprocess]](t, s.call(t, http.MethodGet, "/processes/"+processID+"/bulk/accept", nil, "gestor", http.StatusOK))
	assert.Len(t, eligible.Items, 2)

	res := decode[bulk.Result](t, s.call(t, http.MethodPost, "/processes/"+processID+"/bulk/accept", map[string]any{
		"unit_ids": []string{"U2", "U1"},
	}, "gestor", http.StatusOK))
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "U2", res.Outcomes[0].UnitID)
	assert.Equal(t, 2, res.Succeeded)

	env := decode[envelope](t, s.call(t, http.MethodPost, "/processes/"+processID+"/bulk/homologate", map[string]any{
		"unit_ids": []string{"U1"},
	}, "gestor", http.StatusForbidden))
	assert.Equal(t, "forbidden", env.Error.Code)

	s.call(t, http.MethodPost, "/processes/"+processID+"/bulk/delete", map[string]any{"unit_ids": []string{"U1"}}, "admin", http.StatusBadRequest)
}

func TestOrganizationEndpoints(t *testing.T) {
	s := newTestServer(t)

	u := decode[domain.Unit](t, s.call(t, http.MethodPost, "/units", map[string]any{
		"sigla": "u3", "name": "Unidade 3", "parent_id": "DIR",
	}, "admin", http.StatusCreated))
	assert.Equal(t, "U3", u.ID)

	s.call(t, http.MethodPost, "/units", map[string]any{"sigla": "U4"}, "gestor", http.StatusForbidden)

	a := decode[domain.Actor](t, s.call(t, http.MethodPost, "/actors", map[string]any{
		"id": "chefe3", "role": "CHEFE", "unit_id": "U3",
	}, "admin", http.StatusCreated))
	assert.Equal(t, domain.RoleChefe, a.Role)

	actors := decode[ListResponse[domain.Actor]](t, s.call(t, http.MethodGet, "/actors?unit_id=U3", nil, "admin", http.StatusOK))
	require.Len(t, actors.Items, 1)
	assert.Equal(t, "chefe3", actors.Items[0].ID)
}
