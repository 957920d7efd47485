package learner_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/saiban/internal/learner"
	"github.com/opsloop/saiban/internal/model"
	"github.com/opsloop/saiban/internal/storage"
	"github.com/opsloop/saiban/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		panic(err)
	}
	defer testDB.Close(context.Background())

	os.Exit(m.Run())
}

func seedHuman(t *testing.T, id string) {
	t.Helper()
	_, err := testDB.Pool().Exec(context.Background(), `
		INSERT INTO humans (id, display_name, max_story_points, current_story_points, active, on_call)
		VALUES ($1, $1, 21, 0, true, false)`, id)
	require.NoError(t, err)
}

func seedWorkItem(t *testing.T, service string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := testDB.Pool().Exec(context.Background(), `
		INSERT INTO work_items (id, type, service, severity, description, created_at, origin_system)
		VALUES ($1, 'incident', $2, 'sev2', 'test item', now(), 'test')`, id, service)
	require.NoError(t, err)
	return id
}

func newService() *learner.Service {
	return learner.New(testDB, nil, nil, nil, testutil.TestLogger())
}

// Scenario 4 (spec §8.4): a resolved outcome increments resolves_count,
// strictly raises fit_score, and records last_resolved_at.
func TestProcessOutcomeResolvedUpdatesStats(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	service := "api-" + uuid.New().String()[:8]
	human := "h-" + uuid.New().String()[:8]
	seedHuman(t, human)
	wi := seedWorkItem(t, service)

	before, err := svc.GetProfiles(ctx, service)
	require.NoError(t, err)
	assert.Empty(t, before) // no stats row yet

	ts := time.Now().UTC()
	result, err := svc.ProcessOutcome(ctx, model.Outcome{
		EventID:    "evt-" + uuid.New().String(),
		WorkItemID: wi,
		Type:       model.OutcomeResolved,
		ActorID:    human,
		Service:    service,
		Timestamp:  ts,
	})
	require.NoError(t, err)
	assert.True(t, result.Processed)

	after, err := svc.GetProfiles(ctx, service)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 1, after[0].ResolvesCount)
	require.NotNil(t, after[0].LastResolvedAt)
	assert.WithinDuration(t, ts, *after[0].LastResolvedAt, time.Second)
	assert.Greater(t, after[0].FitScore, 0.5)
}

func TestProcessOutcomeReplayedEventIDIsNoop(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	service := "api-" + uuid.New().String()[:8]
	human := "h-" + uuid.New().String()[:8]
	seedHuman(t, human)
	wi := seedWorkItem(t, service)

	eventID := "evt-" + uuid.New().String()
	ts := time.Now().UTC()
	outcome := model.Outcome{
		EventID:    eventID,
		WorkItemID: wi,
		Type:       model.OutcomeResolved,
		ActorID:    human,
		Service:    service,
		Timestamp:  ts,
	}

	first, err := svc.ProcessOutcome(ctx, outcome)
	require.NoError(t, err)
	assert.True(t, first.Processed)

	afterFirst, err := svc.GetProfiles(ctx, service)
	require.NoError(t, err)
	require.Len(t, afterFirst, 1)

	second, err := svc.ProcessOutcome(ctx, outcome)
	require.NoError(t, err)
	assert.False(t, second.Processed)

	afterSecond, err := svc.GetProfiles(ctx, service)
	require.NoError(t, err)
	require.Len(t, afterSecond, 1)
	assert.Equal(t, afterFirst[0].ResolvesCount, afterSecond[0].ResolvesCount)
}

// Scenario 5 (spec §8.5): a reassigned outcome with an omitted original
// assignee is resolved via Decision's read-only port; the original loses
// fit/gains a transfer, the new assignee gains a small fit bump, and a
// TransferredEdge is recorded.
func TestProcessOutcomeReassignedLooksUpOriginalViaDecision(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	service := "api-" + uuid.New().String()[:8]
	h1 := "h1-" + uuid.New().String()[:8]
	h2 := "h2-" + uuid.New().String()[:8]
	seedHuman(t, h1)
	seedHuman(t, h2)
	wi := seedWorkItem(t, service)

	decisionID := uuid.New()
	_, err := testDB.Pool().Exec(ctx, `
		INSERT INTO decisions (id, work_item_id, primary_human_id, backup_human_ids, confidence, created_at)
		VALUES ($1, $2, $3, '{}', 0.8, now())`, decisionID, wi, h1)
	require.NoError(t, err)

	// seed an initial resolved outcome for h1 so it has a stats row to decrement.
	_, err = svc.ProcessOutcome(ctx, model.Outcome{
		EventID:    "seed-" + uuid.New().String(),
		WorkItemID: wi,
		Type:       model.OutcomeResolved,
		ActorID:    h1,
		Service:    service,
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, err)

	before, err := svc.GetProfiles(ctx, service)
	require.NoError(t, err)
	var h1Before model.CandidateProfile
	for _, p := range before {
		if p.HumanID == h1 {
			h1Before = p
		}
	}

	newAssignee := h2
	result, err := svc.ProcessOutcome(ctx, model.Outcome{
		EventID:       "reassign-" + uuid.New().String(),
		WorkItemID:    wi,
		DecisionID:    &decisionID,
		Type:          model.OutcomeReassigned,
		ActorID:       h1,
		NewAssigneeID: &newAssignee,
		Service:       service,
		Timestamp:     time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, result.Processed)

	after, err := svc.GetProfiles(ctx, service)
	require.NoError(t, err)
	var h1After, h2After model.CandidateProfile
	for _, p := range after {
		switch p.HumanID {
		case h1:
			h1After = p
		case h2:
			h2After = p
		}
	}
	assert.Equal(t, h1Before.TransfersCount+1, h1After.TransfersCount)
	assert.Less(t, h1After.FitScore, h1Before.FitScore)
	assert.Greater(t, h2After.FitScore, 0.5)

	var edgeCount int
	err = testDB.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM transferred_edges WHERE work_item_id = $1`, wi).Scan(&edgeCount)
	require.NoError(t, err)
	assert.Equal(t, 1, edgeCount)
}

func TestProcessOutcomeUnknownTypeFails(t *testing.T) {
	svc := newService()
	_, err := svc.ProcessOutcome(context.Background(), model.Outcome{
		EventID:    "evt-" + uuid.New().String(),
		WorkItemID: uuid.New(),
		Type:       "bogus",
		ActorID:    "x",
		Service:    "api",
		Timestamp:  time.Now(),
	})
	assert.Error(t, err)
}

func TestSyncClosedBootstrapsStatsIdempotently(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	service := "api-" + uuid.New().String()[:8]
	human := "h-" + uuid.New().String()[:8]
	seedHuman(t, human)
	wi := seedWorkItem(t, service)

	req := model.SyncClosedRequest{
		Records: []model.ClosedRecord{
			{WorkItemID: wi.String(), HumanID: human, Service: service, ResolvedAt: time.Now().UTC()},
		},
	}

	applied, err := svc.SyncClosed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// Replaying the same batch applies nothing new (same synthesized event_id).
	applied2, err := svc.SyncClosed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, applied2)

	profiles, err := svc.GetProfiles(ctx, service)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, 1, profiles[0].ResolvesCount)
}

func TestGetStatsAggregatesAcrossServices(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	human := "h-" + uuid.New().String()[:8]
	seedHuman(t, human)
	svcA := "svc-a-" + uuid.New().String()[:8]
	svcB := "svc-b-" + uuid.New().String()[:8]
	wiA := seedWorkItem(t, svcA)
	wiB := seedWorkItem(t, svcB)

	_, err := svc.ProcessOutcome(ctx, model.Outcome{
		EventID: "a-" + uuid.New().String(), WorkItemID: wiA, Type: model.OutcomeResolved,
		ActorID: human, Service: svcA, Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = svc.ProcessOutcome(ctx, model.Outcome{
		EventID: "b-" + uuid.New().String(), WorkItemID: wiB, Type: model.OutcomeResolved,
		ActorID: human, Service: svcB, Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	summary, err := svc.GetStats(ctx, human)
	require.NoError(t, err)
	assert.Len(t, summary.Stats, 2)
	assert.Contains(t, summary.Stats, svcA)
	assert.Contains(t, summary.Stats, svcB)
}
