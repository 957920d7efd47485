// Package execute turns a Decision into an external ticket: it validates
// every mapping a ticket requires up front, formats a deterministic
// description, creates the ticket with retry, and — if the tracker is
// unreachable after retrying — persists a fallback record instead of
// losing the assignment.
package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsloop/saiban/internal/config"
	"github.com/opsloop/saiban/internal/model"
	"github.com/opsloop/saiban/internal/storage"
	"github.com/opsloop/saiban/internal/tracker"
)

// ErrMappingInvalid is returned when a required mapping (service→project,
// severity→priority, human→tracker account) cannot be resolved.
var ErrMappingInvalid = errors.New("execute: required mapping unavailable")

// DB is the subset of storage.DB Execute depends on.
type DB interface {
	GetHuman(ctx context.Context, id string) (model.Human, error)
	CreateExecutedAction(ctx context.Context, a model.ExecutedAction) (model.ExecutedAction, error)
	GetExecutedActionByDecision(ctx context.Context, decisionID uuid.UUID) (model.ExecutedAction, error)
	ListExecutedActionsByDecision(ctx context.Context, decisionID uuid.UUID) ([]model.ExecutedAction, error)
	SetWorkItemExternalTicketKey(ctx context.Context, id uuid.UUID, key string) error
}

// Service implements the Execute component: POST /execute.
type Service struct {
	db      DB
	tracker tracker.Provider
	cfg     config.Config
	logger  *slog.Logger
}

// New constructs an Execute service.
func New(db DB, provider tracker.Provider, cfg config.Config, logger *slog.Logger) *Service {
	return &Service{db: db, tracker: provider, cfg: cfg, logger: logger}
}

// Execute creates (or replays) the ticket for a Decision. Idempotency is
// keyed on decision_id: a second call with the same decision_id returns the
// already-stored ExecutedAction rather than creating a second ticket.
func (s *Service) Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecutedAction, error) {
	if existing, err := s.db.GetExecutedActionByDecision(ctx, req.DecisionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.ExecutedAction{}, fmt.Errorf("execute: check existing action: %w", err)
	}

	project := s.jiraProject(req.Service)
	priority := s.jiraPriority(req.Severity)
	accountID, err := s.trackerAccountID(ctx, req.PrimaryHumanID)
	if err != nil {
		return model.ExecutedAction{}, err
	}

	description := formatDescription(req)
	summary := ticketSummary(req)

	in := tracker.CreateTicketInput{
		Project:     project,
		Summary:     summary,
		Description: description,
		Priority:    priority,
		AssigneeID:  accountID,
		StoryPoints: req.StoryPoints,
	}

	action := model.ExecutedAction{
		ID:              uuid.New(),
		DecisionID:      req.DecisionID,
		AssignedHumanID: req.PrimaryHumanID,
		BackupHumanIDs:  req.BackupHumanIDs,
		CreatedAt:       time.Now().UTC(),
	}

	ticket, err := tracker.CreateWithRetry(ctx, s.tracker, in, s.cfg.ExecuteMaxRetries, s.cfg.ExecuteBaseDelay)
	if err != nil {
		s.logger.Error("execute: ticket creation failed, falling back to stored message",
			"decision_id", req.DecisionID, "error", err)
		msg := fallbackMessage(req, err)
		action.FallbackMessage = &msg
		action.FallbackUsed = true
	} else {
		key := ticket.Key
		id := ticket.ID
		action.ExternalTicketKey = &key
		action.ExternalTicketID = &id
	}

	stored, err := s.db.CreateExecutedAction(ctx, action)
	if err != nil {
		return model.ExecutedAction{}, fmt.Errorf("execute: store executed action: %w", err)
	}

	if stored.ExternalTicketKey != nil {
		if err := s.db.SetWorkItemExternalTicketKey(ctx, req.WorkItemID, *stored.ExternalTicketKey); err != nil {
			s.logger.Warn("execute: failed to link ticket key to work item", "work_item_id", req.WorkItemID, "error", err)
		}
	}

	return stored, nil
}

// ListByDecision returns the (0 or 1) ExecutedAction rows for a decision,
// behind GET /executed_actions?decision_id.
func (s *Service) ListByDecision(ctx context.Context, decisionID uuid.UUID) ([]model.ExecutedAction, error) {
	return s.db.ListExecutedActionsByDecision(ctx, decisionID)
}

// jiraProject maps a service name to its tracker project key, falling back
// to the configured default project when no explicit mapping is set.
func (s *Service) jiraProject(service string) string {
	key := strings.ToLower(service)
	if project, ok := s.cfg.ServiceProjectMap[key]; ok {
		return project
	}
	return s.cfg.DefaultProject
}

// jiraPriority maps a severity to its tracker priority, defaulting to the
// middle of the scale when the severity is unrecognized rather than failing
// the whole execution over a label.
func (s *Service) jiraPriority(severity model.Severity) string {
	if priority, ok := s.cfg.SeverityPriorityMap[string(severity)]; ok {
		return priority
	}
	return "Medium"
}

// trackerAccountID resolves the assignee's tracker account id, failing fast
// (before any ticket-creation attempt) if the human is unknown or has never
// been linked to the tracker.
func (s *Service) trackerAccountID(ctx context.Context, humanID string) (string, error) {
	human, err := s.db.GetHuman(ctx, humanID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: no human found for human_id %q", ErrMappingInvalid, humanID)
	}
	if err != nil {
		return "", fmt.Errorf("execute: fetch human: %w", err)
	}
	if human.TrackerAccountID == nil || *human.TrackerAccountID == "" {
		return "", fmt.Errorf("%w: no tracker_account_id for human_id %q", ErrMappingInvalid, humanID)
	}
	return *human.TrackerAccountID, nil
}

func ticketSummary(req model.ExecuteRequest) string {
	summary := req.Description
	if len(summary) > 255 {
		summary = summary[:255]
	}
	return summary
}
