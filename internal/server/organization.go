package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"mapline/internal/domain"
	"mapline/internal/engine"
	"mapline/internal/ledger"
)

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor and unit",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actor, err := e.Repo.GetActor(ctx, nil, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		unit, err := e.Repo.GetUnit(ctx, nil, actor.UnitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{Actor: actor, Unit: unit}}, nil
	})
}

func registerOrganization(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-unit",
		Method:        http.MethodPost,
		Path:          "/units",
		Summary:       "Register an organizational unit",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateUnitRequest `json:"body"`
	}) (*struct {
		Body domain.Unit `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.RegisterUnit(ctx, actorID, domain.Unit{
			ID:       strings.TrimSpace(input.Body.ID),
			Sigla:    input.Body.Sigla,
			Name:     input.Body.Name,
			ParentID: input.Body.ParentID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Unit `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-units",
		Method:      http.MethodGet,
		Path:        "/units",
		Summary:     "List units",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListResponse[domain.Unit] `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		units, err := e.Repo.ListUnits(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Unit] `json:"body"`
		}{Body: ListResponse[domain.Unit]{Items: nonNil(units)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register an actor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateActorRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RegisterActor(ctx, actorID, domain.Actor{
			ID:     strings.TrimSpace(input.Body.ID),
			Name:   input.Body.Name,
			Role:   domain.Role(strings.ToUpper(input.Body.Role)),
			UnitID: input.Body.UnitID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
	}, func(ctx context.Context, input *struct {
		UnitID string `query:"unit_id"`
	}) (*struct {
		Body ListResponse[domain.Actor] `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		actors, err := e.Repo.ListActors(ctx, input.UnitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Actor] `json:"body"`
		}{Body: ListResponse[domain.Actor]{Items: nonNil(actors)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key for the calling actor",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body" required:"false"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, raw, err := e.IssueAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{Key: key, Secret: raw}}, nil
	})
}

// registerFeeds exposes the alert outbox and the process event journal.
func registerFeeds(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "Alerts after a cursor, optionally for one unit",
	}, func(ctx context.Context, input *struct {
		After  int64  `query:"after"`
		Limit  int    `query:"limit"`
		UnitID string `query:"unit_id"`
	}) (*struct {
		Body AlertFeedResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		alerts, err := e.Repo.AlertsAfter(ctx, input.After, normalizeLimit(input.Limit), input.UnitID)
		if err != nil {
			return nil, handleError(err)
		}
		next := input.After
		if len(alerts) > 0 {
			next = alerts[len(alerts)-1].ID
		}
		return &struct {
			Body AlertFeedResponse `json:"body"`
		}{Body: AlertFeedResponse{Items: nonNil(alerts), NextID: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-process-events",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/events",
		Summary:     "Event journal of a process, oldest first",
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body ListResponse[domain.Event] `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProcess(ctx, nil, input.ProcessID); err != nil {
			return nil, handleError(err)
		}
		events, err := ledger.Events(ctx, e.DB, input.ProcessID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Event] `json:"body"`
		}{Body: ListResponse[domain.Event]{Items: nonNil(events)}}, nil
	})
}
