package server

import "mapline/internal/domain"

// Request payloads

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type CreateUnitRequest struct {
	ID       string  `json:"id,omitempty"`
	Sigla    string  `json:"sigla"`
	Name     string  `json:"name,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

type CreateActorRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role" enum:"ADMIN,GESTOR,CHEFE,SERVIDOR"`
	UnitID string `json:"unit_id"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateProcessRequest struct {
	ID          string   `json:"id,omitempty"`
	Kind        string   `json:"kind" enum:"MAPPING,REVISION,DIAGNOSIS"`
	Description string   `json:"description"`
	Deadline    string   `json:"deadline" example:"2024-02-01"`
	UnitIDs     []string `json:"unit_ids"`
}

// ActionRequest is the optional body of every transition endpoint.
type ActionRequest struct {
	Observation     string `json:"observation,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type MapDeadlineRequest struct {
	Deadline string `json:"deadline" example:"2024-03-01"`
}

type ActivityRequest struct {
	Description string   `json:"description"`
	Knowledge   []string `json:"knowledge,omitempty"`
}

type UpdateActivityRequest struct {
	Description string `json:"description"`
}

type KnowledgeRequest struct {
	Description string `json:"description"`
}

type CompetencyRequest struct {
	Description string   `json:"description"`
	ActivityIDs []string `json:"activity_ids"`
}

type AssociationRequest struct {
	ActivityIDs []string `json:"activity_ids"`
}

type BulkRequest struct {
	UnitIDs     []string `json:"unit_ids"`
	Observation string   `json:"observation,omitempty"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

type WhoAmIResponse struct {
	Actor domain.Actor `json:"actor"`
	Unit  domain.Unit  `json:"unit"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type AlertFeedResponse struct {
	Items  []domain.Alert `json:"items"`
	NextID int64          `json:"next_id"`
}

type RemovedResponse struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

type AssociationResponse struct {
	CompetencyID string   `json:"competency_id"`
	ActivityIDs  []string `json:"activity_ids"`
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
