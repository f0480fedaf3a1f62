package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/syncloop"
	"lifeos/api/internal/util"
)

func actionIDs() []string {
	ids := make([]string, len(dashboard.QuickActions))
	for i, action := range dashboard.QuickActions {
		ids[i] = action.ID
	}
	return ids
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <action-id>",
		Short: "Run a quick action",
		Long: fmt.Sprintf(`Run a quick action. When the server is unreachable the action is queued
and shown as pending until the next sync.

Actions: %s`, strings.Join(actionIDs(), ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: actionIDs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := dashboard.FindQuickAction(args[0]); !ok {
				return fmt.Errorf("unknown action %q: must be one of %s", args[0], strings.Join(actionIDs(), ", "))
			}
			return withWorkspace(cmd, rootOpts, true, func(ctx context.Context, ws *workspace) error {
				return mutate(ctx, ws, func(loop *syncloop.Loop) (syncloop.Outcome, error) {
					return loop.RunAction(ctx, args[0])
				})
			})
		},
	}
}

// NewApprovalCommand builds the approve and reject commands.
func NewApprovalCommand(rootOpts *RootOptions, verb string) *cobra.Command {
	status := dashboard.ApprovalApproved
	if verb == "reject" {
		status = dashboard.ApprovalRejected
	}
	return &cobra.Command{
		Use:   verb + " <approval-id>",
		Short: fmt.Sprintf("Mark an approval as %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, rootOpts, true, func(ctx context.Context, ws *workspace) error {
				return mutate(ctx, ws, func(loop *syncloop.Loop) (syncloop.Outcome, error) {
					return loop.UpdateApproval(ctx, args[0], status)
				})
			})
		},
	}
}

func NewToggleCommand(rootOpts *RootOptions) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "toggle <automation-id>",
		Short: "Pause or resume an automation",
		Long: `Flip an automation between active and paused, based on the last known
dashboard. Use --to to set a status explicitly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to != "" && !validAutomationStatus(to) {
				return fmt.Errorf("invalid status %q: must be active, review or paused", to)
			}
			return withWorkspace(cmd, rootOpts, true, func(ctx context.Context, ws *workspace) error {
				return mutate(ctx, ws, func(loop *syncloop.Loop) (syncloop.Outcome, error) {
					status := dashboard.AutomationStatus(to)
					if status == "" {
						current, ok := loop.View().Snapshot.FindAutomation(args[0])
						if !ok {
							return syncloop.Outcome{}, fmt.Errorf("automation %q not found in the dashboard", args[0])
						}
						status = nextAutomationStatus(current.Status)
					}
					return loop.ToggleAutomation(ctx, args[0], status)
				})
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status (active|review|paused)")
	return cmd
}

func validAutomationStatus(status string) bool {
	switch dashboard.AutomationStatus(status) {
	case dashboard.AutomationActive, dashboard.AutomationReview, dashboard.AutomationPaused:
		return true
	}
	return false
}

// nextAutomationStatus pauses a running automation and resumes anything else.
func nextAutomationStatus(current dashboard.AutomationStatus) dashboard.AutomationStatus {
	if current == dashboard.AutomationActive {
		return dashboard.AutomationPaused
	}
	return dashboard.AutomationActive
}

// mutate loads the cached view so a queued mutation is projected onto it,
// runs fn and prints the outcome.
func mutate(ctx context.Context, ws *workspace, fn func(*syncloop.Loop) (syncloop.Outcome, error)) error {
	loop := ws.loop()
	if err := loop.Hydrate(ctx); err != nil {
		return explain(err)
	}
	outcome, err := fn(loop)
	if err != nil {
		return explain(err)
	}
	return ws.out.outcome(outcome, loop.View())
}

func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the seeded dashboard on the server",
		Long:  "Reset the workspace to its seeded state. Requires a connection; resets are never queued.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, rootOpts, true, func(ctx context.Context, ws *workspace) error {
				snapshot, err := ws.api.Reset(ctx, util.NewKey())
				if err != nil {
					return explain(err)
				}
				if err := ws.state.SaveSnapshot(ctx, ws.user, snapshot); err != nil {
					return err
				}
				view := syncloop.View{Status: syncloop.StatusIdle, Snapshot: snapshot, HasSnapshot: true}
				return ws.out.emit(reportOf(view), func(w io.Writer) error {
					return renderView(w, view)
				})
			})
		},
	}
}
