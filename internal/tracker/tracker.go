// Package tracker adapts Execute's ticket-creation step to an external
// issue tracker. Provider is the seam; Mock is an in-memory stand-in used
// when no live tracker is configured, and HTTP is a generic REST adapter for
// a real one.
package tracker

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned by Get when no ticket with the given key exists.
var ErrNotFound = errors.New("tracker: ticket not found")

// CreateTicketInput is everything the tracker adapter needs to open one
// issue for a Decision's assignment.
type CreateTicketInput struct {
	Project     string
	Summary     string
	Description string
	Priority    string
	AssigneeID  string
	StoryPoints *int
}

// Ticket is the tracker's view of a created or fetched issue.
type Ticket struct {
	Key       string
	ID        string
	Status    string
	CreatedAt time.Time
}

// Provider creates and looks up tickets in an external tracker.
type Provider interface {
	CreateTicket(ctx context.Context, in CreateTicketInput) (Ticket, error)
	GetTicket(ctx context.Context, key string) (Ticket, error)
}

// Retryable reports whether err represents a transient failure (transport
// error, 5xx, or 429) that a retrying caller should retry. Non-retryable
// errors are any other 4xx.
func Retryable(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}
	// Anything that isn't a recognized HTTP status error is a transport-level
	// failure (dial/timeout/DNS) and is treated as retryable.
	return err != nil
}

// HTTPStatusError wraps a non-2xx tracker response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return "tracker: unexpected status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}
