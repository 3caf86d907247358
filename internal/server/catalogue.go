package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"mapline/internal/domain"
	"mapline/internal/engine"
)

var editErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

type ActivityPath struct {
	SubprocessID string `path:"subprocess_id"`
	ActivityID   string `path:"activity_id"`
}

type CompetencyPath struct {
	SubprocessID string `path:"subprocess_id"`
	CompetencyID string `path:"competency_id"`
}

func removed(id string) *struct {
	Body RemovedResponse `json:"body"`
} {
	return &struct {
		Body RemovedResponse `json:"body"`
	}{Body: RemovedResponse{ID: id, Removed: true}}
}

// registerCatalogue exposes cadastro and map editing. The first edit of a
// fresh or returned subprocess moves it into its in-progress situação.
func registerCatalogue(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-activity",
		Method:        http.MethodPost,
		Path:          "/subprocesses/{subprocess_id}/activities",
		Summary:       "Add an activity with its knowledge",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"cadastro"},
		Errors:        editErrors,
	}, func(ctx context.Context, input *struct {
		SubprocessPath
		Body ActivityRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AddActivity(ctx, engine.ActivityInput{
			SubprocessID: input.SubprocessID,
			ActorID:      actorID,
			Description:  input.Body.Description,
			Knowledge:    input.Body.Knowledge,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity",
		Method:      http.MethodPatch,
		Path:        "/subprocesses/{subprocess_id}/activities/{activity_id}",
		Summary:     "Change an activity description",
		Tags:        []string{"cadastro"},
		Errors:      editErrors,
	}, func(ctx context.Context, input *struct {
		ActivityPath
		Body UpdateActivityRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		err := e.UpdateActivity(ctx, engine.ActivityInput{
			SubprocessID: input.SubprocessID,
			ActorID:      actorID,
			ActivityID:   input.ActivityID,
			Description:  input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: domain.Activity{ID: input.ActivityID, Description: input.Body.Description, Knowledge: []domain.Knowledge{}}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-activity",
		Method:      http.MethodDelete,
		Path:        "/subprocesses/{subprocess_id}/activities/{activity_id}",
		Summary:     "Remove an activity and its knowledge",
		Tags:        []string{"cadastro"},
		Errors:      editErrors,
	}, func(ctx context.Context, input *ActivityPath) (*struct {
		Body RemovedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveActivity(ctx, input.SubprocessID, actorID, input.ActivityID); err != nil {
			return nil, handleError(err)
		}
		return removed(input.ActivityID), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-knowledge",
		Method:        http.MethodPost,
		Path:          "/subprocesses/{subprocess_id}/activities/{activity_id}/knowledge",
		Summary:       "Add knowledge to an activity",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"cadastro"},
		Errors:        editErrors,
	}, func(ctx context.Context, input *struct {
		ActivityPath
		Body KnowledgeRequest `json:"body"`
	}) (*struct {
		Body domain.Knowledge `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, err := e.AddKnowledge(ctx, input.SubprocessID, actorID, input.ActivityID, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Knowledge `json:"body"`
		}{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-knowledge",
		Method:      http.MethodDelete,
		Path:        "/subprocesses/{subprocess_id}/knowledge/{knowledge_id}",
		Summary:     "Remove a knowledge item",
		Tags:        []string{"cadastro"},
		Errors:      editErrors,
	}, func(ctx context.Context, input *struct {
		SubprocessID string `path:"subprocess_id"`
		KnowledgeID  string `path:"knowledge_id"`
	}) (*struct {
		Body RemovedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveKnowledge(ctx, input.SubprocessID, actorID, input.KnowledgeID); err != nil {
			return nil, handleError(err)
		}
		return removed(input.KnowledgeID), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-competency",
		Method:        http.MethodPost,
		Path:          "/subprocesses/{subprocess_id}/competencies",
		Summary:       "Add a competency linked to activities",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"map"},
		Errors:        editErrors,
	}, func(ctx context.Context, input *struct {
		SubprocessPath
		Body CompetencyRequest `json:"body"`
	}) (*struct {
		Body domain.Competency `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddCompetency(ctx, engine.CompetencyInput{
			SubprocessID: input.SubprocessID,
			ActorID:      actorID,
			Description:  input.Body.Description,
			ActivityIDs:  input.Body.ActivityIDs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Competency `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-competency",
		Method:      http.MethodDelete,
		Path:        "/subprocesses/{subprocess_id}/competencies/{competency_id}",
		Summary:     "Remove a competency",
		Tags:        []string{"map"},
		Errors:      editErrors,
	}, func(ctx context.Context, input *CompetencyPath) (*struct {
		Body RemovedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveCompetency(ctx, input.SubprocessID, actorID, input.CompetencyID); err != nil {
			return nil, handleError(err)
		}
		return removed(input.CompetencyID), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "associate-activities",
		Method:      http.MethodPut,
		Path:        "/subprocesses/{subprocess_id}/competencies/{competency_id}/activities",
		Summary:     "Replace the activities linked to a competency",
		Tags:        []string{"map"},
		Errors:      editErrors,
	}, func(ctx context.Context, input *struct {
		CompetencyPath
		Body AssociationRequest `json:"body"`
	}) (*struct {
		Body AssociationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		err := e.AssociateActivities(ctx, engine.CompetencyInput{
			SubprocessID: input.SubprocessID,
			ActorID:      actorID,
			CompetencyID: input.CompetencyID,
			ActivityIDs:  input.Body.ActivityIDs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssociationResponse `json:"body"`
		}{Body: AssociationResponse{CompetencyID: input.CompetencyID, ActivityIDs: nonNil(input.Body.ActivityIDs)}}, nil
	})
}
