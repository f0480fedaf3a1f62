package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/offline"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Email    string
	Password string
	Name     string
	Register bool
}

func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Long: `Sign in with email and password. The returned token is stored in the
local state database and used by every other command.

Example:
  lifeos login --email ada@example.com --password s3cret-pass
  lifeos login --register --name Ada --email ada@example.com --password s3cret-pass`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, opts.RootOptions, false, func(ctx context.Context, ws *workspace) error {
				return runLogin(ctx, ws, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name, used with --register")
	cmd.Flags().BoolVar(&opts.Register, "register", false, "create the account first")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func runLogin(ctx context.Context, ws *workspace, opts *LoginOptions) error {
	var (
		resp dashboard.LoginResponse
		err  error
	)
	if opts.Register {
		resp, err = ws.api.Register(ctx, opts.Name, opts.Email, opts.Password)
	} else {
		resp, err = ws.api.Login(ctx, opts.Email, opts.Password)
	}
	if err != nil {
		return explain(err)
	}
	if err := ws.state.SaveSession(ctx, offline.Session{Token: resp.Token, User: resp.User}); err != nil {
		return err
	}
	ws.logger.DebugContext(ctx, "session saved", "user_id", resp.User.ID)

	return ws.out.emit(resp.User, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s %s %s\n", onlineStyle.Render("Signed in as"), resp.User.Name, idStyle.Render(resp.User.Email))
		return err
	})
}

func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Long:  "Remove the saved token. Queued mutations and cached dashboards stay on disk for the next sign-in.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, rootOpts, false, func(ctx context.Context, ws *workspace) error {
				if err := ws.state.ClearSession(ctx); err != nil {
					return err
				}
				return ws.out.emit(map[string]bool{"signedOut": true}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, "Signed out.")
					return err
				})
			})
		},
	}
}
