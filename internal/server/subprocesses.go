package server

import (
	"context"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"mapline/internal/domain"
	"mapline/internal/engine"
	"mapline/internal/impact"
	"mapline/internal/permission"
)

type SubprocessPath struct {
	SubprocessID string `path:"subprocess_id"`
}

func registerSubprocesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-subprocess",
		Method:      http.MethodGet,
		Path:        "/subprocesses/{subprocess_id}",
		Summary:     "Subprocess with its working map",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SubprocessPath) (*struct {
		Body engine.SubprocessView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.GetSubprocess(ctx, input.SubprocessID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SubprocessView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subprocess-permissions",
		Method:      http.MethodGet,
		Path:        "/subprocesses/{subprocess_id}/permissions",
		Summary:     "Actions the caller may perform now",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *SubprocessPath) (*struct {
		Body engine.Permissions `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		perms, err := e.Permissions(ctx, input.SubprocessID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		perms.Actions = nonNil(perms.Actions)
		return &struct {
			Body engine.Permissions `json:"body"`
		}{Body: perms}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subprocess-history",
		Method:      http.MethodGet,
		Path:        "/subprocesses/{subprocess_id}/history",
		Summary:     "Analyses and movements, newest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SubprocessPath) (*struct {
		Body ListResponse[domain.HistoryEntry] `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		perms, err := e.Permissions(ctx, input.SubprocessID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !slices.Contains(perms.Actions, domain.ActionView) {
			return nil, handleError(permission.ForbiddenError{Role: perms.Role, Action: domain.ActionView, Situation: perms.Situation})
		}
		entries, err := e.History(ctx, input.SubprocessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.HistoryEntry] `json:"body"`
		}{Body: ListResponse[domain.HistoryEntry]{Items: nonNil(entries)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subprocess-impact",
		Method:      http.MethodGet,
		Path:        "/subprocesses/{subprocess_id}/impact",
		Summary:     "Impact of the working catalogue on the vigente map",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SubprocessPath) (*struct {
		Body impact.Report `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		report, err := e.ImpactFor(ctx, input.SubprocessID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body impact.Report `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-map-deadline",
		Method:      http.MethodPut,
		Path:        "/subprocesses/{subprocess_id}/map-deadline",
		Summary:     "Set the stage-2 deadline",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubprocessPath
		Body MapDeadlineRequest `json:"body"`
	}) (*struct {
		Body domain.Subprocess `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sp, err := e.SetMapDeadline(ctx, input.SubprocessID, actorID, input.Body.Deadline)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subprocess `json:"body"`
		}{Body: sp}, nil
	})
}

// actionRoutes maps each transition endpoint onto its fixed action.
var actionRoutes = []struct {
	verb   string
	action domain.Action
}{
	{"start", domain.ActionStart},
	{"disponibilize", domain.ActionDisponibilize},
	{"accept", domain.ActionAccept},
	{"return", domain.ActionReturn},
	{"homologate", domain.ActionHomologate},
	{"reopen", domain.ActionReopen},
	{"suggest", domain.ActionSuggest},
	{"validate", domain.ActionValidate},
	{"conclude", domain.ActionConclude},
}

func registerActions(api huma.API, e engine.Engine) {
	for _, route := range actionRoutes {
		huma.Register(api, huma.Operation{
			OperationID: "subprocess-" + route.verb,
			Method:      http.MethodPost,
			Path:        "/subprocesses/{subprocess_id}/" + route.verb,
			Summary:     "Apply " + string(route.action),
			Tags:        []string{"transitions"},
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusUnprocessableEntity,
			},
		}, func(ctx context.Context, input *struct {
			SubprocessPath
			Body ActionRequest `json:"body" required:"false"`
		}) (*struct {
			Body engine.TransitionResult `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			res, err := e.ApplyTransition(ctx, engine.TransitionRequest{
				SubprocessID:    input.SubprocessID,
				ActorID:         actorID,
				Action:          route.action,
				Observation:     input.Body.Observation,
				ExpectedVersion: input.Body.ExpectedVersion,
			})
			if err != nil {
				return nil, handleError(err)
			}
			res.Alerts = nonNil(res.Alerts)
			return &struct {
				Body engine.TransitionResult `json:"body"`
			}{Body: res}, nil
		})
	}
}
