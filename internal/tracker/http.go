package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTP is a generic REST tracker adapter: POST {baseURL}/issues to create,
// GET {baseURL}/issues/{key} to fetch. Auth is a bearer token, matching the
// bulk of ticketing REST APIs (Jira Cloud, Linear, generic webhooks).
type HTTP struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTP creates a live tracker adapter.
func NewHTTP(baseURL, token string) *HTTP {
	return &HTTP{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type httpCreateRequest struct {
	Project     string `json:"project"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	StoryPoints *int   `json:"story_points,omitempty"`
}

type httpTicketResponse struct {
	Key       string    `json:"key"`
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *HTTP) CreateTicket(ctx context.Context, in CreateTicketInput) (Ticket, error) {
	body, err := json.Marshal(httpCreateRequest{
		Project:     in.Project,
		Summary:     in.Summary,
		Description: in.Description,
		Priority:    in.Priority,
		AssigneeID:  in.AssigneeID,
		StoryPoints: in.StoryPoints,
	})
	if err != nil {
		return Ticket{}, fmt.Errorf("tracker: marshal create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/issues", bytes.NewReader(body))
	if err != nil {
		return Ticket{}, fmt.Errorf("tracker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)

	return h.do(req)
}

func (h *HTTP) GetTicket(ctx context.Context, key string) (Ticket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/issues/"+key, nil)
	if err != nil {
		return Ticket{}, fmt.Errorf("tracker: get request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)

	t, err := h.do(req)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return Ticket{}, ErrNotFound
		}
		return Ticket{}, err
	}
	return t, nil
}

func (h *HTTP) do(req *http.Request) (Ticket, error) {
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Ticket{}, fmt.Errorf("tracker: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Ticket{}, fmt.Errorf("tracker: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Ticket{}, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out httpTicketResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Ticket{}, fmt.Errorf("tracker: unmarshal response: %w", err)
	}
	return Ticket{Key: out.Key, ID: out.ID, Status: out.Status, CreatedAt: out.CreatedAt}, nil
}

var _ Provider = (*HTTP)(nil)
