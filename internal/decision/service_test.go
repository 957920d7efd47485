package decision_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/saiban/internal/decision"
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

// seedHuman inserts a Human row directly: the core has no human-registration
// endpoint (Human provisioning is an external/admin concern per spec §1),
// so tests seed fixtures the same way an operator's sync job would.
func seedHuman(t *testing.T, id, service string, fit float64, resolves, transfers int, maxSP, currentSP int, active bool) {
	t.Helper()
	ctx := context.Background()
	_, err := testDB.Pool().Exec(ctx, `
		INSERT INTO humans (id, display_name, max_story_points, current_story_points, active, on_call)
		VALUES ($1, $1, $2, $3, $4, false)`, id, maxSP, currentSP, active)
	require.NoError(t, err)

	_, err = testDB.Pool().Exec(ctx, `
		INSERT INTO human_service_stats (human_id, service, fit_score, resolves_count, transfers_count)
		VALUES ($1, $2, $3, $4, $5)`, id, service, fit, resolves, transfers)
	require.NoError(t, err)
}

func createWorkItem(t *testing.T, service string, severity model.Severity, storyPoints *int) model.WorkItem {
	t.Helper()
	wi := model.WorkItem{
		ID:           uuid.New(),
		Type:         model.WorkItemIncident,
		Service:      service,
		Severity:     severity,
		Description:  "500 on /v1/users",
		CreatedAt:    time.Now().UTC(),
		OriginSystem: "test",
		StoryPoints:  storyPoints,
	}
	require.NoError(t, testDB.CreateWorkItem(context.Background(), wi))
	return wi
}

type fakeExplainer struct{ called bool }

func (f *fakeExplainer) Explain(_ context.Context, _ model.ExplainRequest) (model.Explanation, error) {
	f.called = true
	return model.Explanation{}, nil
}

type fakeExecutor struct{ called bool }

func (f *fakeExecutor) Execute(_ context.Context, _ model.ExecuteRequest) (model.ExecutedAction, error) {
	f.called = true
	return model.ExecutedAction{}, nil
}

func newService(t *testing.T) *decision.Service {
	t.Helper()
	learnerSvc := learner.New(testDB, nil, nil, nil, testutil.TestLogger())
	return decision.New(testDB, nil, nil, learnerSvc, nil, nil, decision.Config{
		SimilarIncidentLimit: 20,
		TxMaxRetries:         1,
	}, testutil.TestLogger())
}

// Scenario 1 (spec §8.1): straight path, no constraints, H1 scores higher
// than H2, H1 becomes primary with H2 as the sole backup.
func TestDecideStraightPath(t *testing.T) {
	svc := newService(t)
	service := "api-" + uuid.New().String()[:8]
	seedHuman(t, "h1-"+service, service, 0.85, 12, 1, 21, 13, true)
	seedHuman(t, "h2-"+service, service, 0.75, 8, 0, 21, 9, true)

	wi := createWorkItem(t, service, model.Sev2, nil)

	d, err := svc.Decide(context.Background(), wi.ID)
	require.NoError(t, err)

	assert.Equal(t, "h1-"+service, d.PrimaryHumanID)
	require.Len(t, d.BackupHumanIDs, 1)
	assert.Equal(t, "h2-"+service, d.BackupHumanIDs[0])
	assert.GreaterOrEqual(t, d.Confidence, 0.0)
	assert.LessOrEqual(t, d.Confidence, 1.0)

	audit, err := svc.GetAudit(context.Background(), wi.ID)
	require.NoError(t, err)
	require.Len(t, audit.Candidates, 2)

	var primaryRow model.DecisionCandidate
	for _, c := range audit.Candidates {
		if c.Rank == 1 {
			primaryRow = c
		}
	}
	assert.False(t, primaryRow.Filtered)
	assert.Equal(t, d.PrimaryHumanID, primaryRow.HumanID)
}

// Scenario 2 (spec §8.2): capacity veto filters the otherwise-best
// candidate, confidence is lower than the unconstrained case.
func TestDecideCapacityVeto(t *testing.T) {
	svc := newService(t)
	service := "api-" + uuid.New().String()[:8]
	seedHuman(t, "h1-"+service, service, 0.85, 12, 1, 21, 15, true)
	seedHuman(t, "h2-"+service, service, 0.75, 8, 0, 21, 9, true)

	sp := 10
	wi := createWorkItem(t, service, model.Sev2, &sp)

	d, err := svc.Decide(context.Background(), wi.ID)
	require.NoError(t, err)

	assert.Equal(t, "h2-"+service, d.PrimaryHumanID)

	audit, err := svc.GetAudit(context.Background(), wi.ID)
	require.NoError(t, err)
	var filteredRow model.DecisionCandidate
	for _, c := range audit.Candidates {
		if c.HumanID == "h1-"+service {
			filteredRow = c
		}
	}
	assert.True(t, filteredRow.Filtered)
	require.NotNil(t, filteredRow.FilterReason)
	assert.Contains(t, *filteredRow.FilterReason, "capacity")
}

// Scenario 3 (spec §8.3): every candidate filtered out returns
// ErrConstraintExhausted and no Decision is persisted.
func TestDecideAllFilteredReturnsConstraintExhausted(t *testing.T) {
	svc := newService(t)
	service := "api-" + uuid.New().String()[:8]
	seedHuman(t, "h1-"+service, service, 0.85, 12, 1, 21, 21, true)
	seedHuman(t, "h2-"+service, service, 0.75, 8, 0, 21, 21, true)

	sp := 100
	wi := createWorkItem(t, service, model.Sev2, &sp)

	_, err := svc.Decide(context.Background(), wi.ID)
	require.ErrorIs(t, err, decision.ErrConstraintExhausted)

	_, getErr := testDB.GetDecisionByWorkItem(context.Background(), wi.ID)
	assert.ErrorIs(t, getErr, storage.ErrNotFound)
}

// Unavailable (inactive) candidates are filtered by the availability
// constraint before capacity is even considered.
func TestDecideFiltersInactiveCandidate(t *testing.T) {
	svc := newService(t)
	service := "api-" + uuid.New().String()[:8]
	seedHuman(t, "h1-"+service, service, 0.9, 20, 0, 21, 0, false)
	seedHuman(t, "h2-"+service, service, 0.5, 1, 0, 21, 0, true)

	wi := createWorkItem(t, service, model.Sev3, nil)

	d, err := svc.Decide(context.Background(), wi.ID)
	require.NoError(t, err)
	assert.Equal(t, "h2-"+service, d.PrimaryHumanID)
}

// decide() is idempotent: a second call with the same work_item_id returns
// the already-persisted Decision unchanged.
func TestDecideIsIdempotent(t *testing.T) {
	svc := newService(t)
	service := "api-" + uuid.New().String()[:8]
	seedHuman(t, "h1-"+service, service, 0.6, 1, 0, 21, 0, true)

	wi := createWorkItem(t, service, model.Sev3, nil)

	first, err := svc.Decide(context.Background(), wi.ID)
	require.NoError(t, err)
	second, err := svc.Decide(context.Background(), wi.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.PrimaryHumanID, second.PrimaryHumanID)
	assert.Equal(t, first.Confidence, second.Confidence)
}

// With no humans at all known for the service, Decide surfaces ErrNoCandidates.
func TestDecideNoCandidatesForService(t *testing.T) {
	svc := newService(t)
	service := "empty-" + uuid.New().String()[:8]
	wi := createWorkItem(t, service, model.Sev4, nil)

	_, err := svc.Decide(context.Background(), wi.ID)
	assert.ErrorIs(t, err, decision.ErrNoCandidates)
}

// A missing WorkItem is a hard failure — NotFound, not a degraded decision.
func TestDecideMissingWorkItemFails(t *testing.T) {
	svc := newService(t)
	_, err := svc.Decide(context.Background(), uuid.New())
	require.Error(t, err)
}

// Fan-out to Explain/Execute only runs when Config.Fanout is enabled, and
// never blocks or fails the caller even when both are wired.
func TestDecideFanoutIsBestEffort(t *testing.T) {
	service := "api-" + uuid.New().String()[:8]
	seedHuman(t, "h1-"+service, service, 0.6, 1, 0, 21, 0, true)
	wi := createWorkItem(t, service, model.Sev3, nil)

	explainer := &fakeExplainer{}
	executor := &fakeExecutor{}
	learnerSvc := learner.New(testDB, nil, nil, nil, testutil.TestLogger())
	svc := decision.New(testDB, nil, nil, learnerSvc, explainer, executor, decision.Config{
		Fanout:       true,
		TxMaxRetries: 1,
	}, testutil.TestLogger())

	_, err := svc.Decide(context.Background(), wi.ID)
	require.NoError(t, err)

	// fan-out runs in a goroutine; give it a moment to land before asserting.
	require.Eventually(t, func() bool { return explainer.called && executor.called }, 2*time.Second, 10*time.Millisecond)
}
