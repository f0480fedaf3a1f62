// Package dashboard holds the workspace snapshot model shared by the server
// and the sync client, together with the request/response shapes of the
// mutation endpoints.
package dashboard

import (
	"encoding/json"
	"time"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type AutomationStatus string

const (
	AutomationActive AutomationStatus = "active"
	AutomationReview AutomationStatus = "review"
	AutomationPaused AutomationStatus = "paused"
)

type Stat struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Label string `json:"label"`
}

type Approval struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Note   string         `json:"note"`
	CTA    string         `json:"cta"`
	Status ApprovalStatus `json:"status"`
}

type Automation struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Trigger string           `json:"trigger"`
	Effect  string           `json:"effect"`
	Status  AutomationStatus `json:"status"`
}

type TimelineEntry struct {
	ID    string `json:"id"`
	Time  string `json:"time"`
	Event string `json:"event"`
	Info  string `json:"info"`
}

// Snapshot is the complete per-user workspace state. Version is the
// optimistic-concurrency counter owned by the snapshot store.
type Snapshot struct {
	AssistantText string          `json:"assistantText"`
	Stats         []Stat          `json:"stats"`
	Approvals     []Approval      `json:"approvals"`
	Automations   []Automation    `json:"automations"`
	Timeline      []TimelineEntry `json:"timeline"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Version       int64           `json:"version"`
}

// Clone returns a deep copy so callers can transform a snapshot without
// aliasing the slices of the original.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Stats = append([]Stat(nil), s.Stats...)
	out.Approvals = append([]Approval(nil), s.Approvals...)
	out.Automations = append([]Automation(nil), s.Automations...)
	out.Timeline = append([]TimelineEntry(nil), s.Timeline...)
	return out
}

func (s Snapshot) PendingApprovals() []Approval {
	pending := make([]Approval, 0, len(s.Approvals))
	for _, item := range s.Approvals {
		if item.Status == ApprovalPending {
			pending = append(pending, item)
		}
	}
	return pending
}

func (s Snapshot) FindApproval(id string) (Approval, bool) {
	for _, item := range s.Approvals {
		if item.ID == id {
			return item, true
		}
	}
	return Approval{}, false
}

func (s Snapshot) FindAutomation(id string) (Automation, bool) {
	for _, item := range s.Automations {
		if item.ID == id {
			return item, true
		}
	}
	return Automation{}, false
}

func (s Snapshot) Stat(id string) (Stat, bool) {
	for _, item := range s.Stats {
		if item.ID == id {
			return item, true
		}
	}
	return Stat{}, false
}

// MergeDefaults fills fields missing from a stored snapshot with seeded
// defaults. Rows written before a field existed decode with nil slices.
func MergeDefaults(stored Snapshot, now time.Time) Snapshot {
	base := Defaults(now)
	if stored.AssistantText == "" {
		stored.AssistantText = base.AssistantText
	}
	if stored.Stats == nil {
		stored.Stats = base.Stats
	}
	if stored.Approvals == nil {
		stored.Approvals = base.Approvals
	}
	if stored.Automations == nil {
		stored.Automations = base.Automations
	}
	if stored.Timeline == nil {
		stored.Timeline = base.Timeline
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	return stored
}

type LlmMode string

const (
	LlmMock     LlmMode = "mock"
	LlmOpenAI   LlmMode = "openai"
	LlmOllama   LlmMode = "ollama"
	LlmLlamaCpp LlmMode = "llamacpp"
)

func LlmModes() []LlmMode {
	return []LlmMode{LlmMock, LlmOpenAI, LlmOllama, LlmLlamaCpp}
}

func ValidLlmMode(mode string) bool {
	for _, candidate := range LlmModes() {
		if string(candidate) == mode {
			return true
		}
	}
	return false
}

type RunActionRequest struct {
	ActionID string `json:"actionId"`
}

type Orchestration struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type RunActionResponse struct {
	AssistantText string         `json:"assistantText"`
	Timeline      TimelineEntry  `json:"timeline"`
	Approvals     []Approval     `json:"approvals"`
	Stats         []Stat         `json:"stats"`
	Orchestration *Orchestration `json:"orchestration,omitempty"`
}

type ApprovalUpdateRequest struct {
	ApprovalID string         `json:"approvalId"`
	Status     ApprovalStatus `json:"status"`
}

type ApprovalUpdateResponse struct {
	Approval      Approval  `json:"approval"`
	AssistantText string    `json:"assistantText"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type AutomationToggleRequest struct {
	AutomationID string           `json:"automationId"`
	Status       AutomationStatus `json:"status"`
}

type AutomationToggleResponse struct {
	Automation Automation `json:"automation"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type LlmStatusResponse struct {
	Mode      LlmMode   `json:"mode"`
	Options   []LlmMode `json:"options"`
	Ready     bool      `json:"ready"`
	Reason    string    `json:"reason"`
	Model     string    `json:"model"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type LoginResponse struct {
	Token string   `json:"token"`
	User  AuthUser `json:"user"`
}

// LivePulse is the ancillary read-only feed the client caches next to the
// snapshot. The server treats it as opaque JSON.
type LivePulse struct {
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
