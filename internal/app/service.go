package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lifeos/api/internal/actions"
	"lifeos/api/internal/auth"
	"lifeos/api/internal/authpw"
	"lifeos/api/internal/compose"
	"lifeos/api/internal/config"
	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/ledger"
	"lifeos/api/internal/store"
	"lifeos/api/internal/util"
)

// Operation names scope idempotency keys in the ledger.
const (
	OpRunAction        = "actions.run"
	OpUpdateApproval   = "approvals.update"
	OpToggleAutomation = "automations.toggle"
	OpReset            = "dashboard.reset"
)

type DataStore interface {
	ReadSnapshot(context.Context, string) (dashboard.Snapshot, error)
	WriteSnapshot(context.Context, string, dashboard.Snapshot) error
	ResetSnapshot(context.Context, string) (dashboard.Snapshot, error)
	ReadLlmMode(context.Context, string) (dashboard.LlmMode, bool, error)
	WriteLlmMode(context.Context, string, dashboard.LlmMode) error
	authpw.UserStore
	Ping(ctx context.Context) error
}

type llmPipeline interface {
	compose.Composer
	Status(ctx context.Context, mode dashboard.LlmMode) (bool, string, string)
}

type detailsRunner interface {
	Details(ctx context.Context, actionID string) (actions.Details, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Store    DataStore
	Ledger   ledger.Ledger
	Composer llmPipeline
	Details  detailsRunner
	Logger   *slog.Logger
}

type Service struct {
	cfg      config.Config
	store    DataStore
	ledger   ledger.Ledger
	executor *ledger.Executor
	users    *authpw.Service
	tokens   *auth.Manager
	composer llmPipeline
	details  detailsRunner
	logger   *slog.Logger
	locks    *userLocks
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		ledger:   deps.Ledger,
		executor: ledger.NewExecutor(deps.Ledger, logger),
		users:    authpw.NewService(deps.Store),
		tokens:   auth.NewManager(cfg.AuthSecret, cfg.AuthIssuer, cfg.AccessTTL),
		composer: deps.Composer,
		details:  deps.Details,
		logger:   logger,
		locks:    newUserLocks(),
		now:      time.Now,
	}
}

// mutate runs handler through the idempotency executor while holding the
// user's lock, so same-key retries that race each other execute once.
func (s *Service) mutate(ctx context.Context, userID, operation, key string, handler ledger.Handler) (ledger.Result, error) {
	unlock := s.locks.lock(userID)
	defer unlock()
	return s.executor.Run(ctx, userID, operation, key, handler)
}

func (s *Service) GetDashboard(ctx context.Context, userID string) (dashboard.Snapshot, error) {
	return s.store.ReadSnapshot(ctx, userID)
}

func (s *Service) Reset(ctx context.Context, userID, key string) (ledger.Result, error) {
	return s.mutate(ctx, userID, OpReset, key, func(ctx context.Context) (any, error) {
		return s.store.ResetSnapshot(ctx, userID)
	})
}

func (s *Service) RunAction(ctx context.Context, userID, key string, req dashboard.RunActionRequest) (ledger.Result, error) {
	return s.mutate(ctx, userID, OpRunAction, key, func(ctx context.Context) (any, error) {
		return s.runAction(ctx, userID, req.ActionID)
	})
}

func (s *Service) UpdateApproval(ctx context.Context, userID, key string, req dashboard.ApprovalUpdateRequest) (ledger.Result, error) {
	return s.mutate(ctx, userID, OpUpdateApproval, key, func(ctx context.Context) (any, error) {
		return s.updateApproval(ctx, userID, req.ApprovalID, req.Status)
	})
}

func (s *Service) ToggleAutomation(ctx context.Context, userID, key string, req dashboard.AutomationToggleRequest) (ledger.Result, error) {
	return s.mutate(ctx, userID, OpToggleAutomation, key, func(ctx context.Context) (any, error) {
		return s.toggleAutomation(ctx, userID, req.AutomationID, req.Status)
	})
}

func (s *Service) runAction(ctx context.Context, userID, actionID string) (dashboard.RunActionResponse, error) {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return dashboard.RunActionResponse{}, invalid("actionId is required", nil)
	}
	action, ok := dashboard.FindQuickAction(actionID)
	if !ok {
		return dashboard.RunActionResponse{}, notFound("Unknown actionId")
	}

	snapshot, err := s.store.ReadSnapshot(ctx, userID)
	if err != nil {
		return dashboard.RunActionResponse{}, err
	}
	details, err := s.details.Details(ctx, action.ID)
	if errors.Is(err, actions.ErrIntegration) {
		return dashboard.RunActionResponse{}, &DomainError{
			Status:  http.StatusBadGateway,
			Code:    "INTEGRATION_FAILED",
			Message: "Action integration failed",
			Details: map[string]any{"actionId": action.ID},
			Err:     ErrIntegration,
		}
	}
	if err != nil {
		return dashboard.RunActionResponse{}, err
	}

	now := s.stamp(snapshot)
	entry := dashboard.TimelineEntry{
		ID:    util.NewID("evt"),
		Time:  dashboard.TimeLabel(now),
		Event: "Executed: " + action.Title,
		Info:  details.TimelineInfo,
	}
	approvals := actionApprovals(action.ID, now)
	composition := s.composer.Compose(ctx, compose.Request{
		UserID:   userID,
		ActionID: action.ID,
		Mode:     s.llmMode(ctx, userID),
	})

	next := snapshot.Clone()
	next.AssistantText = composition.Text + "\n\n" + details.AssistantSuffix
	next.Stats = dashboard.BumpTaskCount(snapshot.Stats)
	next.Timeline = append([]dashboard.TimelineEntry{entry}, snapshot.Timeline...)
	if len(next.Timeline) > dashboard.TimelineLimit {
		next.Timeline = next.Timeline[:dashboard.TimelineLimit]
	}
	next.Approvals = append(append([]dashboard.Approval{}, approvals...), snapshot.Approvals...)
	next.UpdatedAt = now

	if err := s.store.WriteSnapshot(ctx, userID, next); err != nil {
		return dashboard.RunActionResponse{}, err
	}

	s.logger.InfoContext(ctx, "action executed", "user_id", userID, "action_id", action.ID, "provider", composition.Provider)
	return dashboard.RunActionResponse{
		AssistantText: next.AssistantText,
		Timeline:      entry,
		Approvals:     approvals,
		Stats:         next.Stats,
		Orchestration: &dashboard.Orchestration{Provider: composition.Provider, Model: composition.Model},
	}, nil
}

// actionApprovals returns the approvals an action adds ahead of the existing
// list.
func actionApprovals(actionID string, now time.Time) []dashboard.Approval {
	if actionID != "event-planner" {
		return []dashboard.Approval{}
	}
	return []dashboard.Approval{{
		ID:     fmt.Sprintf("event-budget-%d", now.UnixMilli()),
		Title:  "Confirm event budget before booking",
		Note:   "Estimated spend: $312 across venue + food.",
		CTA:    "Approve",
		Status: dashboard.ApprovalPending,
	}}
}

func (s *Service) updateApproval(ctx context.Context, userID, approvalID string, status dashboard.ApprovalStatus) (dashboard.ApprovalUpdateResponse, error) {
	if strings.TrimSpace(approvalID) == "" {
		return dashboard.ApprovalUpdateResponse{}, invalid("approvalId is required", nil)
	}
	if status != dashboard.ApprovalApproved && status != dashboard.ApprovalRejected {
		return dashboard.ApprovalUpdateResponse{}, invalid("status must be approved or rejected", map[string]any{"status": status})
	}

	snapshot, err := s.store.ReadSnapshot(ctx, userID)
	if err != nil {
		return dashboard.ApprovalUpdateResponse{}, err
	}
	index := -1
	for i, item := range snapshot.Approvals {
		if item.ID == approvalID {
			index = i
			break
		}
	}
	if index < 0 {
		return dashboard.ApprovalUpdateResponse{}, notFound("Unknown approvalId")
	}

	next := snapshot.Clone()
	next.Approvals[index].Status = status
	approval := next.Approvals[index]
	if status == dashboard.ApprovalApproved {
		next.AssistantText = fmt.Sprintf("Confirmed: %s. I will continue execution and keep you updated.", approval.Title)
	} else {
		next.AssistantText = fmt.Sprintf("Stopped: %s. I will not proceed unless you update the policy.", approval.Title)
	}
	next.UpdatedAt = s.stamp(snapshot)

	if err := s.store.WriteSnapshot(ctx, userID, next); err != nil {
		return dashboard.ApprovalUpdateResponse{}, err
	}
	return dashboard.ApprovalUpdateResponse{
		Approval:      approval,
		AssistantText: next.AssistantText,
		UpdatedAt:     next.UpdatedAt,
	}, nil
}

func (s *Service) toggleAutomation(ctx context.Context, userID, automationID string, status dashboard.AutomationStatus) (dashboard.AutomationToggleResponse, error) {
	if strings.TrimSpace(automationID) == "" {
		return dashboard.AutomationToggleResponse{}, invalid("automationId is required", nil)
	}
	switch status {
	case dashboard.AutomationActive, dashboard.AutomationReview, dashboard.AutomationPaused:
	default:
		return dashboard.AutomationToggleResponse{}, invalid("status must be active, review, or paused", map[string]any{"status": status})
	}

	snapshot, err := s.store.ReadSnapshot(ctx, userID)
	if err != nil {
		return dashboard.AutomationToggleResponse{}, err
	}
	index := -1
	for i, item := range snapshot.Automations {
		if item.ID == automationID {
			index = i
			break
		}
	}
	if index < 0 {
		return dashboard.AutomationToggleResponse{}, notFound("Unknown automationId")
	}

	next := snapshot.Clone()
	next.Automations[index].Status = status
	next.UpdatedAt = s.stamp(snapshot)

	if err := s.store.WriteSnapshot(ctx, userID, next); err != nil {
		return dashboard.AutomationToggleResponse{}, err
	}
	return dashboard.AutomationToggleResponse{
		Automation: next.Automations[index],
		UpdatedAt:  next.UpdatedAt,
	}, nil
}

// stamp returns the timestamp for the next write, never earlier than the
// snapshot's current one.
func (s *Service) stamp(snapshot dashboard.Snapshot) time.Time {
	now := s.now().UTC()
	if now.Before(snapshot.UpdatedAt) {
		return snapshot.UpdatedAt
	}
	return now
}

func (s *Service) llmMode(ctx context.Context, userID string) dashboard.LlmMode {
	mode, ok, err := s.store.ReadLlmMode(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "read llm mode", "user_id", userID, "error", err)
	}
	if err != nil || !ok {
		return dashboard.LlmMode(s.cfg.LlmMode)
	}
	return mode
}

func (s *Service) LlmStatus(ctx context.Context, userID string) (dashboard.LlmStatusResponse, error) {
	return s.llmStatus(ctx, s.llmMode(ctx, userID)), nil
}

func (s *Service) SetLlmMode(ctx context.Context, userID, mode string) (dashboard.LlmStatusResponse, error) {
	if !dashboard.ValidLlmMode(mode) {
		return dashboard.LlmStatusResponse{}, invalid("Invalid llm mode", map[string]any{"options": dashboard.LlmModes()})
	}
	if err := s.store.WriteLlmMode(ctx, userID, dashboard.LlmMode(mode)); err != nil {
		return dashboard.LlmStatusResponse{}, err
	}
	return s.llmStatus(ctx, dashboard.LlmMode(mode)), nil
}

func (s *Service) llmStatus(ctx context.Context, mode dashboard.LlmMode) dashboard.LlmStatusResponse {
	ready, reason, model := s.composer.Status(ctx, mode)
	return dashboard.LlmStatusResponse{
		Mode:      mode,
		Options:   dashboard.LlmModes(),
		Ready:     ready,
		Reason:    reason,
		Model:     model,
		UpdatedAt: s.now().UTC(),
	}
}

func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (dashboard.LoginResponse, error) {
	user, err := s.users.Register(ctx, req)
	if err != nil {
		return dashboard.LoginResponse{}, err
	}
	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (dashboard.LoginResponse, error) {
	user, err := s.users.SignIn(ctx, email, password)
	if err != nil {
		return dashboard.LoginResponse{}, err
	}
	return s.issue(user)
}

func (s *Service) issue(user store.User) (dashboard.LoginResponse, error) {
	token, err := s.tokens.Issue(user.ID, user.Email, user.Name)
	if err != nil {
		return dashboard.LoginResponse{}, err
	}
	return dashboard.LoginResponse{Token: token, User: authUser(user)}, nil
}

// Authenticate resolves a bearer token to its user. Tokens for users that no
// longer exist are rejected as invalid.
func (s *Service) Authenticate(ctx context.Context, token string) (dashboard.AuthUser, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return dashboard.AuthUser{}, err
	}
	user, err := s.users.User(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return dashboard.AuthUser{}, auth.ErrInvalidToken
	}
	if err != nil {
		return dashboard.AuthUser{}, err
	}
	return authUser(user), nil
}

func authUser(user store.User) dashboard.AuthUser {
	return dashboard.AuthUser{ID: user.ID, Email: user.Email, Name: user.Name}
}

// Ping checks the health of service dependencies (database, ledger)
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if p, ok := s.ledger.(pinger); ok {
		checks["ledger"] = p.Ping(ctx)
	}
	return checks
}
