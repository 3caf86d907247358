package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/felixgeelhaar/bolt/v3"
	"github.com/go-chi/chi/v5"

	"mapline/internal/bulk"
	"mapline/internal/engine"
	"mapline/internal/lifecycle"
	"mapline/internal/logging"
	"mapline/internal/permission"
	"mapline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	// Bulk defaults to a coordinator built from Engine.
	Bulk     *bulk.Coordinator
	BasePath string
	Auth     AuthConfig
	Logger   *bolt.Logger
}

type errorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid transition: ACCEPT not allowed from NOT_STARTED (MAPPING process)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"NOT_STARTED\",\"action\":\"ACCEPT\"}"`
}

type bodyBytesKey struct{}

// ErrorEnvelope is what every failing endpoint answers with.
type ErrorEnvelope struct {
	status int
	Body   errorBody `json:"error"`
}

func (e *ErrorEnvelope) GetStatus() int { return e.status }
func (e *ErrorEnvelope) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Mapline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Bulk == nil {
		cfg.Bulk = bulk.New(cfg.Engine)
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema failures are malformed requests, not business rule failures.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(body))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Mapline API", apiVersion)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerOrganization(group, cfg.Engine)
	registerProcesses(group, cfg.Engine)
	registerReminders(group, cfg.Engine)
	registerBulk(group, cfg.Bulk)
	registerSubprocesses(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerCatalogue(group, cfg.Engine)
	registerFeeds(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth, cfg.Engine.Repo)
	registerOpenAPI(router, api, basePath)

	logging.With(logging.OrDiscard(cfg.Logger).Debug(), logging.Str("base_path", basePath)).Msg("api routes registered")
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = codeFor(status)
	}
	return &ErrorEnvelope{status: status, Body: errorBody{Code: code, Message: message, Details: details}}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var invalid *lifecycle.InvalidTransitionError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"kind":   invalid.Kind,
			"from":   invalid.From,
			"action": invalid.Action,
		})
	}
	var fe permission.ForbiddenError
	if errors.As(err, &fe) {
		details := map[string]any{"role": fe.Role, "action": fe.Action}
		if fe.Situation != "" {
			details["situation"] = fe.Situation
		}
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), details)
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"issues": ve.Issues})
	}
	switch {
	case errors.Is(err, repo.ErrVersionConflict):
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func normalizeLimit(in int) int {
	switch {
	case in <= 0:
		return 100
	case in > 1000:
		return 1000
	default:
		return in
	}
}
