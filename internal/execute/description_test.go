package execute

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/opsloop/saiban/internal/model"
)

func TestFormatDescriptionIncludesPrimaryAndBackups(t *testing.T) {
	req := model.ExecuteRequest{
		PrimaryHumanID: "h1",
		BackupHumanIDs: []string{"h2", "h3"},
		Description:    "disk full on web-01",
		Evidence: []model.EvidenceBullet{
			{Text: "resolved 5 similar incidents", TimeWindow: "last 90 days", Source: "Learner stats"},
		},
	}
	out := formatDescription(req)
	assert.Contains(t, out, "*Primary Assignee:* h1")
	assert.Contains(t, out, "*Backup Assignees:* h2, h3")
	assert.Contains(t, out, "resolved 5 similar incidents (last 90 days) [Learner stats]")
	assert.Contains(t, out, "disk full on web-01")
}

func TestFormatDescriptionOmitsBackupsSectionWhenNone(t *testing.T) {
	req := model.ExecuteRequest{PrimaryHumanID: "h1", Description: "x"}
	out := formatDescription(req)
	assert.NotContains(t, out, "Backup Assignees")
}

func TestFallbackMessageIncludesAllIdentifyingFields(t *testing.T) {
	req := model.ExecuteRequest{
		DecisionID:     uuid.New(),
		WorkItemID:     uuid.New(),
		Service:        "payments",
		Severity:       model.Sev1,
		PrimaryHumanID: "h1",
		BackupHumanIDs: []string{"h2"},
		Description:    "checkout failing",
		Evidence:       []model.EvidenceBullet{{Text: "on call"}},
	}
	msg := fallbackMessage(req, errors.New("tracker unreachable"))
	assert.Contains(t, msg, "payments")
	assert.Contains(t, msg, "sev1")
	assert.Contains(t, msg, "h1")
	assert.Contains(t, msg, "h2")
	assert.Contains(t, msg, "checkout failing")
	assert.Contains(t, msg, "on call")
	assert.Contains(t, msg, "tracker unreachable")
}

func TestFallbackMessageNoBackupsShowsNone(t *testing.T) {
	req := model.ExecuteRequest{PrimaryHumanID: "h1", Description: "x"}
	msg := fallbackMessage(req, errors.New("boom"))
	assert.Contains(t, msg, "Backup Assignees: None")
}

func TestTicketSummaryTruncatesAt255(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	req := model.ExecuteRequest{Severity: model.Sev2, Description: string(long)}
	summary := ticketSummary(req)
	assert.Len(t, summary, 255)
}
