package execute

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/saiban/internal/config"
	"github.com/opsloop/saiban/internal/model"
	"github.com/opsloop/saiban/internal/storage"
	"github.com/opsloop/saiban/internal/tracker"
)

type fakeDB struct {
	mu      sync.Mutex
	humans  map[string]model.Human
	actions map[uuid.UUID]model.ExecutedAction
}

func newFakeDB() *fakeDB {
	return &fakeDB{humans: map[string]model.Human{}, actions: map[uuid.UUID]model.ExecutedAction{}}
}

func (f *fakeDB) GetHuman(_ context.Context, id string) (model.Human, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.humans[id]
	if !ok {
		return model.Human{}, storage.ErrNotFound
	}
	return h, nil
}

func (f *fakeDB) CreateExecutedAction(_ context.Context, a model.ExecutedAction) (model.ExecutedAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions[a.DecisionID] = a
	return a, nil
}

func (f *fakeDB) GetExecutedActionByDecision(_ context.Context, decisionID uuid.UUID) (model.ExecutedAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actions[decisionID]
	if !ok {
		return model.ExecutedAction{}, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeDB) ListExecutedActionsByDecision(_ context.Context, decisionID uuid.UUID) ([]model.ExecutedAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actions[decisionID]
	if !ok {
		return nil, nil
	}
	return []model.ExecutedAction{a}, nil
}

func (f *fakeDB) SetWorkItemExternalTicketKey(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

func testConfig() config.Config {
	return config.Config{
		ServiceProjectMap:   map[string]string{"payments": "PAY"},
		DefaultProject:      "OPS",
		SeverityPriorityMap: map[string]string{"sev1": "Critical"},
		ExecuteMaxRetries:   1,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteFailsWhenHumanHasNoTrackerAccount(t *testing.T) {
	db := newFakeDB()
	db.humans["h1"] = model.Human{ID: "h1"} // no TrackerAccountID
	svc := New(db, tracker.NewMock(), testConfig(), discardLogger())

	_, err := svc.Execute(context.Background(), model.ExecuteRequest{
		DecisionID:     uuid.New(),
		PrimaryHumanID: "h1",
		Service:        "payments",
		Severity:       model.Sev1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMappingInvalid)
}

func TestExecuteFailsWhenHumanUnknown(t *testing.T) {
	db := newFakeDB()
	svc := New(db, tracker.NewMock(), testConfig(), discardLogger())

	_, err := svc.Execute(context.Background(), model.ExecuteRequest{
		DecisionID:     uuid.New(),
		PrimaryHumanID: "ghost",
		Service:        "payments",
		Severity:       model.Sev1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMappingInvalid)
}

func TestExecuteCreatesTicketAndIsIdempotentByDecisionID(t *testing.T) {
	db := newFakeDB()
	acct := "acct-1"
	db.humans["h1"] = model.Human{ID: "h1", TrackerAccountID: &acct}
	svc := New(db, tracker.NewMock(), testConfig(), discardLogger())

	req := model.ExecuteRequest{
		DecisionID:     uuid.New(),
		PrimaryHumanID: "h1",
		Service:        "payments",
		Severity:       model.Sev1,
		Description:    "disk full",
	}

	first, err := svc.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first.ExternalTicketKey)
	assert.False(t, first.FallbackUsed)

	second, err := svc.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID) // replayed, not recreated

	actions, err := svc.ListByDecision(context.Background(), req.DecisionID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

type alwaysFailTracker struct{}

func (alwaysFailTracker) CreateTicket(context.Context, tracker.CreateTicketInput) (tracker.Ticket, error) {
	return tracker.Ticket{}, assertErr
}
func (alwaysFailTracker) GetTicket(context.Context, string) (tracker.Ticket, error) {
	return tracker.Ticket{}, assertErr
}

var assertErr = &tracker.HTTPStatusError{StatusCode: 503, Body: "unavailable"}

func TestExecuteFallsBackWhenTrackerUnreachable(t *testing.T) {
	db := newFakeDB()
	acct := "acct-1"
	db.humans["h1"] = model.Human{ID: "h1", TrackerAccountID: &acct}
	svc := New(db, alwaysFailTracker{}, testConfig(), discardLogger())

	req := model.ExecuteRequest{
		DecisionID:     uuid.New(),
		PrimaryHumanID: "h1",
		Service:        "payments",
		Severity:       model.Sev1,
		Description:    "disk full",
	}

	action, err := svc.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, action.FallbackUsed)
	require.NotNil(t, action.FallbackMessage)
	assert.Nil(t, action.ExternalTicketKey)
}
