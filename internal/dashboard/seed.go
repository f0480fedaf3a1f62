package dashboard

import "time"

const DefaultAssistantText = "I can run today's tasks end-to-end. Tap any action and I will execute with your policy rules."

// TaskStatID is the stat bumped by every executed action.
const TaskStatID = "tasks"

// TimelineLimit caps the activity timeline kept on the server.
const TimelineLimit = 60

type QuickAction struct {
	ID                string
	Title             string
	ShortLabel        string
	Detail            string
	Domain            string
	AssistantResponse string
}

var QuickActions = []QuickAction{
	{
		ID:                "job-sprint",
		Title:             "Apply to 12 matched jobs",
		ShortLabel:        "Job Sprint",
		Detail:            "AI customizes CV + cover letters, fills forms, and drafts recruiter follow-ups.",
		Domain:            "Career",
		AssistantResponse: "Starting full career sprint: role discovery, CV tuning, applications, and follow-up scheduling.",
	},
	{
		ID:                "content-launch",
		Title:             "Publish today's 4 social posts",
		ShortLabel:        "Launch Content",
		Detail:            "Writes captions, generates visuals, schedules LinkedIn/X/Instagram/TikTok.",
		Domain:            "Social",
		AssistantResponse: "Generating a 7-day social campaign with captions, visuals, and platform scheduling.",
	},
	{
		ID:                "event-planner",
		Title:             "Plan a budget dinner event",
		ShortLabel:        "Plan Event",
		Detail:            "Selects venue, checks guest availability, drafts invite sequence, and books food.",
		Domain:            "Lifestyle",
		AssistantResponse: "Building your dinner plan with venue shortlist, invites, reminders, and food ordering.",
	},
	{
		ID:                "doc-vault",
		Title:             "Sort docs into tax-ready vault",
		ShortLabel:        "Sort Docs",
		Detail:            "Extracts key data from receipts/contracts and files by legal and finance policy.",
		Domain:            "Admin",
		AssistantResponse: "Organizing uploaded documents into legal, finance, personal, and tax-ready collections.",
	},
}

func FindQuickAction(id string) (QuickAction, bool) {
	for _, action := range QuickActions {
		if action.ID == id {
			return action, true
		}
	}
	return QuickAction{}, false
}

// Defaults returns the seeded snapshot given to a new user and to every reset.
// Only UpdatedAt depends on the input.
func Defaults(now time.Time) Snapshot {
	return Snapshot{
		AssistantText: DefaultAssistantText,
		Stats: []Stat{
			{ID: TaskStatID, Value: "128", Label: "Tasks completed this week"},
			{ID: "automations", Value: "23", Label: "Automations running"},
			{ID: "auto-rate", Value: "94%", Label: "Actions done without manual effort"},
		},
		Approvals: []Approval{
			{ID: "offer-letter", Title: "Send signed offer letter", Note: "High impact legal action", CTA: "Review", Status: ApprovalPending},
			{ID: "catering", Title: "Order catering for 24 guests", Note: "$284 estimated total", CTA: "Approve", Status: ApprovalPending},
			{ID: "opinion-post", Title: "Publish political-opinion post", Note: "Outside standard social policy", CTA: "Edit", Status: ApprovalPending},
		},
		Automations: []Automation{
			{ID: "morning-brief", Name: "Morning Command Brief", Trigger: "Daily at 6:45 AM", Effect: "Delivers top priorities, urgent tasks, weather, meetings, and commute risk.", Status: AutomationActive},
			{ID: "opportunity-hunter", Name: "Opportunity Hunter", Trigger: "Every 3 hours", Effect: "Finds relevant job openings, ranks fit score, and drafts instant applications.", Status: AutomationActive},
			{ID: "household-pulse", Name: "Household Pulse", Trigger: "Thursday at 7:00 PM", Effect: "Creates groceries plan, utility reminders, maintenance tasks, and family schedule.", Status: AutomationReview},
			{ID: "document-guardian", Name: "Document Guardian", Trigger: "When file is uploaded", Effect: "Renames, tags, summarizes, and stores docs with source link + retention policy.", Status: AutomationActive},
		},
		Timeline: []TimelineEntry{
			{ID: "1", Time: "08:00", Event: "Submitted 4 tailored applications", Info: "Target roles: Product Designer, AI UX Engineer, Frontend Lead"},
			{ID: "2", Time: "09:25", Event: "Auto-updated CV for FinTech role", Info: "Added impact metrics and built a role-specific summary section"},
			{ID: "3", Time: "11:00", Event: "Scheduled 6 social posts", Info: "Balanced educational, thought-leadership, and project demo content"},
			{ID: "4", Time: "14:10", Event: "Prepared birthday dinner logistics", Info: "Reservation confirmed, reminders sent, dietary options included"},
		},
		UpdatedAt: now,
	}
}

// TimeLabel formats a timeline timestamp as a 24h clock label.
func TimeLabel(t time.Time) string {
	return t.Format("15:04")
}
