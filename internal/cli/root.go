package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"lifeos/api/internal/client"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	APIURL  string
	Token   string
	State   string
	Format  string
	Timeout time.Duration
	Verbose bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the lifeos CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "lifeos",
		Short: "Offline-tolerant LifeOS dashboard client",
		Long: `Drive a LifeOS workspace from the terminal.

Mutations that cannot reach the server are stored in a local queue, shown
immediately in the dashboard view, and delivered on the next sync. Every
mutation carries an idempotency key so a replay never runs twice.

Quick Start:
  lifeos login --email ada@example.com --password ...
  lifeos status                  # cached view, then sync
  lifeos approve catering        # queued if offline
  lifeos watch --interval 30s    # keep syncing`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.applyEnv(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.APIURL, "api-url", "", "API base URL (env LIFEOS_API_URL)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "bearer token, overrides the saved session (env LIFEOS_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.State, "state", "", "path to the local state database (env LIFEOS_STATE_DB)")
	cmd.PersistentFlags().StringVarP(&opts.Format, "output", "o", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 0, "per-request timeout (env LIFEOS_CLIENT_TIMEOUT)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewApprovalCommand(opts, "approve"))
	cmd.AddCommand(NewApprovalCommand(opts, "reject"))
	cmd.AddCommand(NewToggleCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewLlmCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))

	return cmd
}

// applyEnv fills every flag the user did not set from the environment.
func (o *RootOptions) applyEnv(cmd *cobra.Command) error {
	cfg, err := client.LoadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("api-url") {
		o.APIURL = cfg.BaseURL
	}
	if !flags.Changed("token") {
		o.Token = cfg.Token
	}
	if !flags.Changed("state") {
		o.State = cfg.StateDB
	}
	if !flags.Changed("timeout") {
		o.Timeout = cfg.Timeout
	}
	return nil
}
