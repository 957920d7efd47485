package ingest_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/saiban/internal/ingest"
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

type fakeDecider struct {
	decisionID uuid.UUID
	called     chan uuid.UUID
}

func newFakeDecider() *fakeDecider {
	return &fakeDecider{decisionID: uuid.New(), called: make(chan uuid.UUID, 1)}
}

func (f *fakeDecider) Decide(_ context.Context, workItemID uuid.UUID) (model.Decision, error) {
	f.called <- workItemID
	return model.Decision{ID: f.decisionID, WorkItemID: workItemID, PrimaryHumanID: "h1"}, nil
}

func newService(t *testing.T, decider ingest.Decider, learner ingest.OutcomeRecorder, cfg ingest.Config) *ingest.Service {
	t.Helper()
	return ingest.New(testDB, nil, nil, nil, nil, decider, learner, cfg, testutil.TestLogger())
}

func TestCreateWorkItemPersistsAndDefaultsOriginSystem(t *testing.T) {
	svc := newService(t, nil, nil, ingest.Config{})
	wi, err := svc.CreateWorkItem(context.Background(), model.CreateWorkItemInput{
		Type:        model.WorkItemIncident,
		Service:     "api-" + uuid.New().String()[:8],
		Severity:    model.Sev2,
		Description: "500s on checkout",
	})
	require.NoError(t, err)
	assert.Equal(t, "manual", wi.OriginSystem)

	fetched, err := svc.GetWorkItem(context.Background(), wi.ID)
	require.NoError(t, err)
	assert.Equal(t, wi.Description, fetched.Description)
}

func TestCreateWorkItemTriggersDecisionBestEffort(t *testing.T) {
	decider := newFakeDecider()
	svc := newService(t, decider, nil, ingest.Config{})
	wi, err := svc.CreateWorkItem(context.Background(), model.CreateWorkItemInput{
		Type:        model.WorkItemIncident,
		Service:     "api-" + uuid.New().String()[:8],
		Severity:    model.Sev3,
		Description: "disk full",
	})
	require.NoError(t, err)

	select {
	case id := <-decider.called:
		assert.Equal(t, wi.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("decider was not called within timeout")
	}
}

func TestListWorkItemsFiltersByService(t *testing.T) {
	svc := newService(t, nil, nil, ingest.Config{})
	service := "api-" + uuid.New().String()[:8]
	_, err := svc.CreateWorkItem(context.Background(), model.CreateWorkItemInput{
		Type: model.WorkItemIncident, Service: service, Severity: model.Sev2, Description: "a",
	})
	require.NoError(t, err)
	other := "other-" + uuid.New().String()[:8]
	_, err = svc.CreateWorkItem(context.Background(), model.CreateWorkItemInput{
		Type: model.WorkItemIncident, Service: other, Severity: model.Sev2, Description: "b",
	})
	require.NoError(t, err)

	items, err := svc.ListWorkItems(context.Background(), model.WorkItemFilter{Service: service, Limit: 10})
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, service, it.Service)
	}
}

type recordingLearner struct {
	got model.Outcome
}

func (r *recordingLearner) ProcessOutcome(_ context.Context, o model.Outcome) (model.OutcomeResult, error) {
	r.got = o
	return model.OutcomeResult{Processed: true}, nil
}

func TestRecordOutcomeDefaultsServiceFromWorkItem(t *testing.T) {
	learner := &recordingLearner{}
	svc := newService(t, nil, learner, ingest.Config{})
	service := "api-" + uuid.New().String()[:8]
	wi, err := svc.CreateWorkItem(context.Background(), model.CreateWorkItemInput{
		Type: model.WorkItemIncident, Service: service, Severity: model.Sev2, Description: "oops",
	})
	require.NoError(t, err)

	result, err := svc.RecordOutcome(context.Background(), wi.ID, model.Outcome{
		EventID: "evt-1",
		Type:    model.OutcomeResolved,
		ActorID: "h1",
	})
	require.NoError(t, err)
	assert.True(t, result.Processed)
	assert.Equal(t, service, learner.got.Service)
	assert.Equal(t, wi.ID, learner.got.WorkItemID)
}

func TestRecordOutcomeFailsForUnknownWorkItem(t *testing.T) {
	learner := &recordingLearner{}
	svc := newService(t, nil, learner, ingest.Config{})
	_, err := svc.RecordOutcome(context.Background(), uuid.New(), model.Outcome{
		EventID: "evt-2", Type: model.OutcomeResolved, ActorID: "h1",
	})
	require.Error(t, err)
}

func TestVerifySignatureAcceptsAnyWhenNoSecretConfigured(t *testing.T) {
	svc := newService(t, nil, nil, ingest.Config{})
	assert.NoError(t, svc.VerifySignature([]byte(`{"a":1}`), "garbage"))
}

func TestVerifySignatureRejectsMismatch(t *testing.T) {
	svc := newService(t, nil, nil, ingest.Config{WebhookSecret: "s3cr3t"})
	assert.Error(t, svc.VerifySignature([]byte(`{"a":1}`), "sha256=deadbeef"))
}

func TestVerifySignatureAcceptsValidHMAC(t *testing.T) {
	secret := "s3cr3t"
	svc := newService(t, nil, nil, ingest.Config{WebhookSecret: secret})
	body := []byte(`{"service":"api","urgency":"high","description":"down"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.NoError(t, svc.VerifySignature(body, sig))
}

func TestWebhookMapsUrgencyAndCreatesWorkItem(t *testing.T) {
	svc := newService(t, nil, nil, ingest.Config{})
	service := "api-" + uuid.New().String()[:8]
	body, err := json.Marshal(model.IncomingWebhookEvent{
		Service:     service,
		Urgency:     "high",
		Description: "payment gateway down",
	})
	require.NoError(t, err)

	wi, err := svc.Webhook(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, model.Sev2, wi.Severity)
	assert.Equal(t, "webhook", wi.OriginSystem)
}

func TestWebhookRejectsMissingService(t *testing.T) {
	svc := newService(t, nil, nil, ingest.Config{})
	body, err := json.Marshal(model.IncomingWebhookEvent{Urgency: "low", Description: "x"})
	require.NoError(t, err)
	_, err = svc.Webhook(context.Background(), body)
	require.Error(t, err)
}

func TestWebhookDefaultsUnknownUrgencyToSev3(t *testing.T) {
	svc := newService(t, nil, nil, ingest.Config{})
	body, err := json.Marshal(model.IncomingWebhookEvent{
		Service: "api-" + uuid.New().String()[:8], Urgency: "medium", Description: "y",
	})
	require.NoError(t, err)
	wi, err := svc.Webhook(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, model.Sev3, wi.Severity)
}
