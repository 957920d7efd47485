package execute

import (
	"fmt"
	"strings"

	"github.com/opsloop/saiban/internal/model"
)

// formatDescription renders the ticket body: assignment summary, evidence
// bullets, and the original work item description, in that fixed order.
func formatDescription(req model.ExecuteRequest) string {
	var parts []string
	parts = append(parts, "Assigned by Saiban Decision Engine", "")
	parts = append(parts, fmt.Sprintf("*Primary Assignee:* %s", req.PrimaryHumanID))

	if len(req.BackupHumanIDs) > 0 {
		parts = append(parts, fmt.Sprintf("*Backup Assignees:* %s", strings.Join(req.BackupHumanIDs, ", ")))
	}

	if len(req.Evidence) > 0 {
		parts = append(parts, "", "*Evidence:*")
		for _, ev := range req.Evidence {
			timeInfo := ""
			if ev.TimeWindow != "" {
				timeInfo = fmt.Sprintf(" (%s)", ev.TimeWindow)
			}
			sourceInfo := ""
			if ev.Source != "" {
				sourceInfo = fmt.Sprintf(" [%s]", ev.Source)
			}
			parts = append(parts, fmt.Sprintf("- %s%s%s", ev.Text, timeInfo, sourceInfo))
		}
	}

	parts = append(parts, "", fmt.Sprintf("*Original Description:*\n%s", req.Description))
	return strings.Join(parts, "\n")
}

// fallbackMessage renders the record kept in place of a ticket when the
// tracker is unreachable after every retry. Its shape mirrors what a human
// would otherwise have read in the ticket: every field a responder needs to
// act on the assignment without the tracker.
func fallbackMessage(req model.ExecuteRequest, cause error) string {
	backups := "None"
	if len(req.BackupHumanIDs) > 0 {
		backups = strings.Join(req.BackupHumanIDs, ", ")
	}

	var evidenceLines []string
	for _, ev := range req.Evidence {
		evidenceLines = append(evidenceLines, fmt.Sprintf("- %s", ev.Text))
	}

	return fmt.Sprintf(
		"Ticket Creation Failed\n\n"+
			"Decision ID: %s\n"+
			"Work Item ID: %s\n"+
			"Service: %s\n"+
			"Severity: %s\n"+
			"Primary Assignee: %s\n"+
			"Backup Assignees: %s\n\n"+
			"Description:\n%s\n\n"+
			"Evidence:\n%s\n\n"+
			"Error: %s",
		req.DecisionID, req.WorkItemID, req.Service, req.Severity,
		req.PrimaryHumanID, backups, req.Description, strings.Join(evidenceLines, "\n"), cause,
	)
}
