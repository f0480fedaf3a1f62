// Package mutation describes the writes a client can queue while offline and
// projects them onto a dashboard snapshot.
package mutation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/util"
)

type Kind string

const (
	KindRunAction        Kind = "run-action"
	KindUpdateApproval   Kind = "update-approval"
	KindToggleAutomation Kind = "toggle-automation"
)

var ErrUnknownKind = errors.New("unknown mutation kind")

// Mutation is one of RunAction, UpdateApproval or ToggleAutomation.
type Mutation interface {
	Kind() Kind
	// Target is the id of the action, approval or automation being changed.
	Target() string
	isMutation()
}

type RunAction struct {
	ActionID string `json:"actionId"`
}

type UpdateApproval struct {
	ApprovalID string                   `json:"approvalId"`
	Status     dashboard.ApprovalStatus `json:"status"`
}

type ToggleAutomation struct {
	AutomationID string                     `json:"automationId"`
	Status       dashboard.AutomationStatus `json:"status"`
}

func (RunAction) Kind() Kind        { return KindRunAction }
func (UpdateApproval) Kind() Kind   { return KindUpdateApproval }
func (ToggleAutomation) Kind() Kind { return KindToggleAutomation }

func (m RunAction) Target() string        { return m.ActionID }
func (m UpdateApproval) Target() string   { return m.ApprovalID }
func (m ToggleAutomation) Target() string { return m.AutomationID }

func (RunAction) isMutation()        {}
func (UpdateApproval) isMutation()   {}
func (ToggleAutomation) isMutation() {}

// Queued is a mutation waiting for delivery. Entries are values; the queue is
// rewritten whole rather than edited in place.
type Queued struct {
	ID        string
	Key       string
	Mutation  Mutation
	CreatedAt time.Time
}

// NewQueued wraps m for the queue. key is the idempotency key already used for
// the synchronous attempt, so the server can recognise a delivery that
// succeeded before the response was lost. An empty key gets a fresh one.
// The ID carries the key so two entries queued in the same millisecond for the
// same target stay distinct.
func NewQueued(m Mutation, key string, now time.Time) Queued {
	if key == "" {
		key = util.NewKey()
	}
	return Queued{
		ID:        fmt.Sprintf("%d-%s-%s", now.UnixMilli(), m.Target(), key),
		Key:       key,
		Mutation:  m,
		CreatedAt: now.UTC(),
	}
}

type queuedJSON struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Type      Kind            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (q Queued) MarshalJSON() ([]byte, error) {
	if q.Mutation == nil {
		return nil, fmt.Errorf("queued %s: missing mutation", q.ID)
	}
	payload, err := json.Marshal(q.Mutation)
	if err != nil {
		return nil, err
	}
	return json.Marshal(queuedJSON{
		ID:        q.ID,
		Key:       q.Key,
		Type:      q.Mutation.Kind(),
		Payload:   payload,
		CreatedAt: q.CreatedAt,
	})
}

func (q *Queued) UnmarshalJSON(data []byte) error {
	var raw queuedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var m Mutation
	switch raw.Type {
	case KindRunAction:
		var v RunAction
		if err := json.Unmarshal(raw.Payload, &v); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Type, err)
		}
		m = v
	case KindUpdateApproval:
		var v UpdateApproval
		if err := json.Unmarshal(raw.Payload, &v); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Type, err)
		}
		m = v
	case KindToggleAutomation:
		var v ToggleAutomation
		if err := json.Unmarshal(raw.Payload, &v); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Type, err)
		}
		m = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, raw.Type)
	}

	*q = Queued{ID: raw.ID, Key: raw.Key, Mutation: m, CreatedAt: raw.CreatedAt}
	return nil
}
