package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"mapline/internal/bulk"
	"mapline/internal/domain"
	"mapline/internal/engine"
)

type processPath struct {
	ProcessID string `path:"process_id"`
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processes",
		Summary:       "Create a process for a set of units",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateProcessRequest `json:"body"`
	}) (*struct {
		Body domain.Process `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProcess(ctx, engine.ProcessCreateOptions{
			ID:          strings.TrimSpace(input.Body.ID),
			Kind:        domain.ProcessKind(strings.ToUpper(input.Body.Kind)),
			Description: input.Body.Description,
			Deadline:    input.Body.Deadline,
			UnitIDs:     input.Body.UnitIDs,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Process `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List processes",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"CREATED,IN_PROGRESS,FINISHED"`
	}) (*struct {
		Body ListResponse[domain.Process] `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProcesses(ctx, domain.ProcessStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Process] `json:"body"`
		}{Body: ListResponse[domain.Process]{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}",
		Summary:     "Get a process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*struct {
		Body domain.Process `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProcess(ctx, nil, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Process `json:"body"`
		}{Body: p}, nil
	})

	lifecycleOps := []struct {
		id, verb, summary string
		run               func(context.Context, string, string) (domain.Process, error)
	}{
		{"start-process", "start", "Start a process and its subprocesses", e.StartProcess},
		{"finish-process", "finish", "Finish a process and publish its maps", e.FinishProcess},
	}
	for _, op := range lifecycleOps {
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/processes/{process_id}/" + op.verb,
			Summary:     op.summary,
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
		}, func(ctx context.Context, input *processPath) (*struct {
			Body domain.Process `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := op.run(ctx, input.ProcessID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Process `json:"body"`
			}{Body: p}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-subprocesses",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/subprocesses",
		Summary:     "Subprocesses of a process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*struct {
		Body ListResponse[domain.Subprocess] `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		subs, err := e.ListSubprocesses(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Subprocess] `json:"body"`
		}{Body: ListResponse[domain.Subprocess]{Items: nonNil(subs)}}, nil
	})
}

func registerReminders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reminders",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/reminders",
		Summary:     "Subprocesses close to or past their stage deadline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*struct {
		Body ListResponse[domain.Reminder] `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		due, err := e.DueForReminder(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Reminder] `json:"body"`
		}{Body: ListResponse[domain.Reminder]{Items: nonNil(due)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-reminder",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/reminders/{unit_id}",
		Summary:     "Send a deadline reminder to one unit",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
		UnitID    string `path:"unit_id"`
	}) (*struct {
		Body domain.AlertRequest `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.SendReminder(ctx, input.ProcessID, input.UnitID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AlertRequest `json:"body"`
		}{Body: req}, nil
	})
}

type BulkPath struct {
	ProcessID string `path:"process_id"`
	Kind      string `path:"kind" doc:"accept or homologate"`
}

func registerBulk(api huma.API, c *bulk.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-bulk-eligible",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/bulk/{kind}",
		Summary:     "Subprocesses the caller may select for a bulk action",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *BulkPath) (*struct {
		Body ListResponse[domain.Subprocess] `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind, err := bulk.ParseKind(input.Kind)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		subs, err := c.Eligible(ctx, input.ProcessID, actorID, kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Subprocess] `json:"body"`
		}{Body: ListResponse[domain.Subprocess]{Items: nonNil(subs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-bulk",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/bulk/{kind}",
		Summary:     "Apply accept or homologate to many units",
		Description: "Each unit is an independent transition. The response lists one outcome per requested unit in request order.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BulkPath
		Body BulkRequest `json:"body"`
	}) (*struct {
		Body bulk.Result `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind, err := bulk.ParseKind(input.Kind)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		res, err := c.Run(ctx, bulk.Request{
			ProcessID:   input.ProcessID,
			ActorID:     actorID,
			Kind:        kind,
			UnitIDs:     input.Body.UnitIDs,
			Observation: input.Body.Observation,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body bulk.Result `json:"body"`
		}{Body: res}, nil
	})
}
