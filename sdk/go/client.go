package maplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Mapline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Process represents the API process model.
type Process struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Deadline    string   `json:"deadline"`
	UnitIDs     []string `json:"unit_ids"`
}

// Subprocess represents one unit's participation (partial).
type Subprocess struct {
	ID            string `json:"id"`
	ProcessID     string `json:"process_id"`
	UnitID        string `json:"unit_id"`
	Situation     string `json:"situation"`
	CurrentUnitID string `json:"current_unit_id"`
	Version       int64  `json:"version"`
}

// Transition is the outcome of one lifecycle action.
type Transition struct {
	Subprocess Subprocess `json:"subprocess"`
	From       string     `json:"from"`
}

// HistoryEntry is one analysis or movement.
type HistoryEntry struct {
	Seq      int64           `json:"seq"`
	TS       string          `json:"ts"`
	Kind     string          `json:"kind"`
	Analysis json.RawMessage `json:"analysis,omitempty"`
	Movement json.RawMessage `json:"movement,omitempty"`
}

// Activity is a cadastro entry.
type Activity struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// BulkOutcome reports one unit of a bulk action.
type BulkOutcome struct {
	UnitID       string `json:"unit_id"`
	SubprocessID string `json:"subprocess_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	Situation    string `json:"situation"`
}

type BulkResult struct {
	ProcessID string        `json:"process_id"`
	Kind      string        `json:"kind"`
	Outcomes  []BulkOutcome `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type list[T any] struct {
	Items []T `json:"items"`
}

// CreateProcess creates a process for the given units.
func (c *Client) CreateProcess(ctx context.Context, kind, description, deadline string, unitIDs []string) (Process, error) {
	body := map[string]any{
		"kind":        kind,
		"description": description,
		"deadline":    deadline,
		"unit_ids":    unitIDs,
	}
	var resp Process
	err := c.do(ctx, http.MethodPost, "v0/processes", body, &resp)
	return resp, err
}

// StartProcess starts a created process.
func (c *Client) StartProcess(ctx context.Context, processID string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/processes/%s/start", url.PathEscape(processID)), nil, &resp)
	return resp, err
}

// FinishProcess finishes a process once every subprocess is homologated.
func (c *Client) FinishProcess(ctx context.Context, processID string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/processes/%s/finish", url.PathEscape(processID)), nil, &resp)
	return resp, err
}

// Subprocesses lists the subprocesses of a process.
func (c *Client) Subprocesses(ctx context.Context, processID string) ([]Subprocess, error) {
	var resp list[Subprocess]
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/processes/%s/subprocesses", url.PathEscape(processID)), nil, &resp)
	return resp.Items, err
}

// Apply runs one action (start, disponibilize, accept, return, homologate,
// reopen, suggest, validate, conclude). A positive expectedVersion turns a
// concurrent change into a version_conflict error.
func (c *Client) Apply(ctx context.Context, subprocessID, action, observation string, expectedVersion int64) (Transition, error) {
	body := map[string]any{}
	if observation != "" {
		body["observation"] = observation
	}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Transition
	endpoint := fmt.Sprintf("v0/subprocesses/%s/%s", url.PathEscape(subprocessID), strings.ToLower(action))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// History returns analyses and movements, newest first.
func (c *Client) History(ctx context.Context, subprocessID string) ([]HistoryEntry, error) {
	var resp list[HistoryEntry]
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/subprocesses/%s/history", url.PathEscape(subprocessID)), nil, &resp)
	return resp.Items, err
}

// AddActivity adds an activity with its knowledge to a cadastro.
func (c *Client) AddActivity(ctx context.Context, subprocessID, description string, knowledge []string) (Activity, error) {
	body := map[string]any{"description": description, "knowledge": knowledge}
	var resp Activity
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/subprocesses/%s/activities", url.PathEscape(subprocessID)), body, &resp)
	return resp, err
}

// Bulk runs accept or homologate for many units of a process.
func (c *Client) Bulk(ctx context.Context, processID, kind string, unitIDs []string, observation string) (BulkResult, error) {
	body := map[string]any{"unit_ids": unitIDs}
	if observation != "" {
		body["observation"] = observation
	}
	var resp BulkResult
	endpoint := fmt.Sprintf("v0/processes/%s/bulk/%s", url.PathEscape(processID), url.PathEscape(strings.ToLower(kind)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
