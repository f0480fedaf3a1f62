// Package syncloop keeps a client's view of the dashboard in step with the
// server while tolerating outages: mutations that cannot be delivered are
// queued locally, projected onto the view, and replayed on the next refresh.
package syncloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lifeos/api/internal/client"
	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/mutation"
	"lifeos/api/internal/util"
)

type Status string

const (
	StatusColdStart  Status = "cold-start"
	StatusHydrating  Status = "hydrating"
	StatusIdle       Status = "idle"
	StatusRefreshing Status = "refreshing"
)

// API is the subset of the LifeOS API the loop drives.
type API interface {
	Dashboard(ctx context.Context) (dashboard.Snapshot, error)
	Pulse(ctx context.Context) (dashboard.LivePulse, error)
	RunAction(ctx context.Context, key, actionID string) (dashboard.RunActionResponse, error)
	UpdateApproval(ctx context.Context, key, approvalID string, status dashboard.ApprovalStatus) (dashboard.ApprovalUpdateResponse, error)
	ToggleAutomation(ctx context.Context, key, automationID string, status dashboard.AutomationStatus) (dashboard.AutomationToggleResponse, error)
	Send(ctx context.Context, q mutation.Queued) error
}

// State is the durable client-side storage.
type State interface {
	Enqueue(ctx context.Context, userID string, q mutation.Queued) error
	ReadQueue(ctx context.Context, userID string) ([]mutation.Queued, error)
	WriteQueue(ctx context.Context, userID string, queue []mutation.Queued) error
	SaveSnapshot(ctx context.Context, userID string, snapshot dashboard.Snapshot) error
	ReadSnapshot(ctx context.Context, userID string) (dashboard.Snapshot, bool, error)
	SavePulse(ctx context.Context, userID string, pulse dashboard.LivePulse) error
	ReadPulse(ctx context.Context, userID string) (dashboard.LivePulse, bool, error)
}

// View is what the loop currently shows the user.
type View struct {
	Status      Status
	Snapshot    dashboard.Snapshot
	HasSnapshot bool
	Pulse       dashboard.LivePulse
	HasPulse    bool
	QueueLen    int
	Offline     bool
}

// Outcome reports how a user mutation was handled.
type Outcome struct {
	Queued bool
	Entry  mutation.Queued
}

// FlushResult counts what one flush pass did with each queued entry.
type FlushResult struct {
	Sent    int `json:"sent"`
	Dropped int `json:"dropped"`
	Kept    int `json:"kept"`
}

type Option func(*Loop)

// WithOnChange registers a callback invoked with every published view.
func WithOnChange(fn func(View)) Option {
	return func(l *Loop) { l.onChange = fn }
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

type Loop struct {
	api    API
	state  State
	userID string
	logger *slog.Logger
	now    func() time.Time
	newKey func() string

	onChange func(View)

	// queueMu orders queue rewrites against concurrent enqueues.
	queueMu sync.Mutex

	mu         sync.Mutex
	view       View
	started    bool
	hydrating  bool
	refreshing int
}

func New(api API, state State, userID string, logger *slog.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		api:    api,
		state:  state,
		userID: userID,
		logger: logger.With("user_id", userID),
		now:    time.Now,
		newKey: util.NewKey,
		view:   View{Status: StatusColdStart},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view
}

// Hydrate shows whatever was cached, then syncs with the server.
func (l *Loop) Hydrate(ctx context.Context) error {
	l.mu.Lock()
	l.started = true
	l.hydrating = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.hydrating = false
		l.mu.Unlock()
		l.publish(func(*View) {})
	}()

	cached, hasCached, err := l.state.ReadSnapshot(ctx, l.userID)
	if err != nil {
		return err
	}
	pulse, hasPulse, err := l.state.ReadPulse(ctx, l.userID)
	if err != nil {
		return err
	}
	queue, err := l.state.ReadQueue(ctx, l.userID)
	if err != nil {
		return err
	}
	l.publish(func(v *View) {
		if hasCached {
			v.Snapshot, v.HasSnapshot = cached, true
		}
		if hasPulse {
			v.Pulse, v.HasPulse = pulse, true
		}
		v.QueueLen = len(queue)
	})

	return l.sync(ctx)
}

// Refresh flushes the queue and re-fetches the dashboard. Concurrent refreshes
// are allowed; whichever finishes last decides the view.
func (l *Loop) Refresh(ctx context.Context) error {
	l.mu.Lock()
	l.started = true
	l.refreshing++
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.refreshing--
		l.mu.Unlock()
		l.publish(func(*View) {})
	}()
	l.publish(func(*View) {})

	return l.sync(ctx)
}

func (l *Loop) sync(ctx context.Context) error {
	if _, err := l.FlushQueue(ctx); err != nil {
		return err
	}

	fresh, err := l.api.Dashboard(ctx)
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return err
	case err != nil:
		l.logger.WarnContext(ctx, "dashboard fetch failed, staying offline", "error", err)
		l.publish(func(v *View) { v.Offline = true })
	default:
		queue, err := l.state.ReadQueue(ctx, l.userID)
		if err != nil {
			return err
		}
		projected := mutation.Fold(fresh, queue)
		if err := l.state.SaveSnapshot(ctx, l.userID, projected); err != nil {
			return err
		}
		l.publish(func(v *View) {
			v.Snapshot, v.HasSnapshot = projected, true
			v.QueueLen = len(queue)
			v.Offline = false
		})
	}

	pulse, err := l.api.Pulse(ctx)
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return err
	case err != nil:
		l.logger.DebugContext(ctx, "live pulse unavailable", "error", err)
	default:
		if err := l.state.SavePulse(ctx, l.userID, pulse); err != nil {
			return err
		}
		l.publish(func(v *View) { v.Pulse, v.HasPulse = pulse, true })
	}
	return nil
}

// FlushQueue attempts every queued mutation once, in order. Successes and
// permanently rejected entries leave the queue; retryable failures stay in
// their original order. An authentication failure stops the pass and keeps
// everything not yet delivered.
func (l *Loop) FlushQueue(ctx context.Context) (FlushResult, error) {
	var result FlushResult
	queue, err := l.state.ReadQueue(ctx, l.userID)
	if err != nil {
		return result, err
	}
	if len(queue) == 0 {
		l.publish(func(v *View) { v.QueueLen = 0 })
		return result, nil
	}

	pending := make([]mutation.Queued, 0, len(queue))
	var authErr error
	for i, q := range queue {
		err := l.api.Send(ctx, q)
		switch {
		case err == nil:
			result.Sent++
		case errors.Is(err, client.ErrUnauthorized):
			authErr = err
			pending = append(pending, queue[i:]...)
		case client.Retryable(err):
			result.Kept++
			pending = append(pending, q)
		default:
			result.Dropped++
			l.logger.WarnContext(ctx, "dropping rejected mutation", "id", q.ID, "type", q.Mutation.Kind(), "error", err)
		}
		if authErr != nil {
			result.Kept += len(queue) - i
			break
		}
	}

	remaining, err := l.commitQueue(ctx, queue, pending)
	if err != nil {
		return result, err
	}
	l.publish(func(v *View) {
		v.QueueLen = remaining
		if remaining > 0 {
			v.Offline = true
		}
	})
	if authErr != nil {
		return result, authErr
	}
	return result, nil
}

// commitQueue stores pending plus anything enqueued after attempted was read.
// A pending entry that is no longer in the stored queue was settled by an
// overlapping flush and stays gone.
func (l *Loop) commitQueue(ctx context.Context, attempted, pending []mutation.Queued) (int, error) {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()

	current, err := l.state.ReadQueue(ctx, l.userID)
	if err != nil {
		return 0, err
	}
	stored := make(map[string]struct{}, len(current))
	for _, q := range current {
		stored[entryKey(q)] = struct{}{}
	}
	seen := make(map[string]struct{}, len(attempted))
	for _, q := range attempted {
		seen[entryKey(q)] = struct{}{}
	}

	next := make([]mutation.Queued, 0, len(pending)+len(current))
	for _, q := range pending {
		if _, ok := stored[entryKey(q)]; ok {
			next = append(next, q)
		}
	}
	for _, q := range current {
		if _, ok := seen[entryKey(q)]; !ok {
			next = append(next, q)
		}
	}
	if err := l.state.WriteQueue(ctx, l.userID, next); err != nil {
		return 0, err
	}
	return len(next), nil
}

func entryKey(q mutation.Queued) string {
	return q.ID + "\x00" + q.Key
}

func (l *Loop) RunAction(ctx context.Context, actionID string) (Outcome, error) {
	q := mutation.NewQueued(mutation.RunAction{ActionID: actionID}, l.newKey(), l.now())
	resp, err := l.api.RunAction(ctx, q.Key, actionID)
	if err != nil {
		return l.fallback(ctx, q, err)
	}
	return Outcome{Entry: q}, l.applyRemote(ctx, func(s dashboard.Snapshot) dashboard.Snapshot {
		next := s.Clone()
		next.AssistantText = resp.AssistantText
		next.Timeline = append([]dashboard.TimelineEntry{resp.Timeline}, next.Timeline...)
		next.Approvals = append(append([]dashboard.Approval{}, resp.Approvals...), next.Approvals...)
		if len(resp.Stats) > 0 {
			next.Stats = resp.Stats
		} else {
			next.Stats = dashboard.BumpTaskCount(next.Stats)
		}
		next.UpdatedAt = l.now().UTC()
		return next
	})
}

func (l *Loop) UpdateApproval(ctx context.Context, approvalID string, status dashboard.ApprovalStatus) (Outcome, error) {
	q := mutation.NewQueued(mutation.UpdateApproval{ApprovalID: approvalID, Status: status}, l.newKey(), l.now())
	resp, err := l.api.UpdateApproval(ctx, q.Key, approvalID, status)
	if err != nil {
		return l.fallback(ctx, q, err)
	}
	return Outcome{Entry: q}, l.applyRemote(ctx, func(s dashboard.Snapshot) dashboard.Snapshot {
		next := s.Clone()
		for i := range next.Approvals {
			if next.Approvals[i].ID == resp.Approval.ID {
				next.Approvals[i] = resp.Approval
			}
		}
		next.AssistantText = resp.AssistantText
		next.UpdatedAt = resp.UpdatedAt
		return next
	})
}

func (l *Loop) ToggleAutomation(ctx context.Context, automationID string, status dashboard.AutomationStatus) (Outcome, error) {
	q := mutation.NewQueued(mutation.ToggleAutomation{AutomationID: automationID, Status: status}, l.newKey(), l.now())
	resp, err := l.api.ToggleAutomation(ctx, q.Key, automationID, status)
	if err != nil {
		return l.fallback(ctx, q, err)
	}
	return Outcome{Entry: q}, l.applyRemote(ctx, func(s dashboard.Snapshot) dashboard.Snapshot {
		next := s.Clone()
		for i := range next.Automations {
			if next.Automations[i].ID == resp.Automation.ID {
				next.Automations[i] = resp.Automation
			}
		}
		next.UpdatedAt = resp.UpdatedAt
		return next
	})
}

// fallback queues q when the synchronous attempt failed for a reason a later
// retry could fix. q keeps the key of that attempt.
func (l *Loop) fallback(ctx context.Context, q mutation.Queued, cause error) (Outcome, error) {
	if !client.Retryable(cause) {
		return Outcome{}, cause
	}

	l.queueMu.Lock()
	err := l.state.Enqueue(ctx, l.userID, q)
	l.queueMu.Unlock()
	if err != nil {
		return Outcome{}, err
	}
	l.logger.InfoContext(ctx, "mutation queued", "id", q.ID, "type", q.Mutation.Kind(), "error", cause)

	var projected dashboard.Snapshot
	var has bool
	l.publish(func(v *View) {
		if v.HasSnapshot {
			v.Snapshot = mutation.Apply(v.Snapshot, q)
			projected, has = v.Snapshot, true
		}
		v.QueueLen++
		v.Offline = true
	})
	if has {
		if err := l.state.SaveSnapshot(ctx, l.userID, projected); err != nil {
			return Outcome{Queued: true, Entry: q}, err
		}
	}
	return Outcome{Queued: true, Entry: q}, nil
}

func (l *Loop) applyRemote(ctx context.Context, merge func(dashboard.Snapshot) dashboard.Snapshot) error {
	var next dashboard.Snapshot
	var has bool
	l.publish(func(v *View) {
		if v.HasSnapshot {
			v.Snapshot = merge(v.Snapshot)
			next, has = v.Snapshot, true
		}
	})
	if !has {
		return nil
	}
	return l.state.SaveSnapshot(ctx, l.userID, next)
}

// Run hydrates, then refreshes every interval until ctx is done. It stops
// early only when the session is no longer authenticated.
func (l *Loop) Run(ctx context.Context, interval time.Duration) error {
	if err := l.Hydrate(ctx); err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return err
		}
		l.logger.WarnContext(ctx, "hydrate failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				if errors.Is(err, client.ErrUnauthorized) {
					return err
				}
				l.logger.WarnContext(ctx, "refresh failed", "error", err)
			}
		}
	}
}

func (l *Loop) publish(update func(*View)) {
	l.mu.Lock()
	update(&l.view)
	switch {
	case !l.started:
		l.view.Status = StatusColdStart
	case l.hydrating:
		l.view.Status = StatusHydrating
	case l.refreshing > 0:
		l.view.Status = StatusRefreshing
	default:
		l.view.Status = StatusIdle
	}
	view := l.view
	onChange := l.onChange
	l.mu.Unlock()

	if onChange != nil {
		onChange(view)
	}
}
