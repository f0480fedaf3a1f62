package mutation

import (
	"fmt"

	"lifeos/api/internal/dashboard"
)

const queuedInfo = "Stored offline and will sync automatically when network is available."

var actionLabels = map[string]string{
	"job-sprint":     "Run Job Sprint",
	"content-launch": "Launch Content",
	"event-planner":  "Plan Event",
	"doc-vault":      "Sort Documents",
}

// ActionLabel is the display label for a quick action, falling back to the
// raw id for actions this client does not know.
func ActionLabel(actionID string) string {
	if label, ok := actionLabels[actionID]; ok {
		return label
	}
	return actionID
}

// Apply projects q onto snapshot as if the server had already accepted it.
// The input snapshot is not modified.
func Apply(snapshot dashboard.Snapshot, q Queued) dashboard.Snapshot {
	next := snapshot.Clone()
	if q.CreatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = q.CreatedAt
	}

	switch m := q.Mutation.(type) {
	case RunAction:
		label := ActionLabel(m.ActionID)
		entry := dashboard.TimelineEntry{
			ID:    q.ID,
			Time:  dashboard.TimeLabel(q.CreatedAt.UTC()),
			Event: "Queued: " + label,
			Info:  queuedInfo,
		}
		next.Timeline = append([]dashboard.TimelineEntry{entry}, next.Timeline...)
		if len(next.Timeline) > dashboard.TimelineLimit {
			next.Timeline = next.Timeline[:dashboard.TimelineLimit]
		}
		next.AssistantText = "Queued action: " + label
		next.Stats = dashboard.BumpTaskCount(next.Stats)

	case UpdateApproval:
		for i := range next.Approvals {
			if next.Approvals[i].ID == m.ApprovalID {
				next.Approvals[i].Status = m.Status
			}
		}
		next.AssistantText = fmt.Sprintf("Queued approval update: %s", m.ApprovalID)

	case ToggleAutomation:
		for i := range next.Automations {
			if next.Automations[i].ID == m.AutomationID {
				next.Automations[i].Status = m.Status
			}
		}
		next.AssistantText = fmt.Sprintf("Queued automation update: %s", m.AutomationID)

	default:
		return snapshot
	}
	return next
}

// Fold applies queue to snapshot in order. An empty queue returns snapshot
// unchanged.
func Fold(snapshot dashboard.Snapshot, queue []Queued) dashboard.Snapshot {
	out := snapshot
	for _, q := range queue {
		out = Apply(out, q)
	}
	return out
}
