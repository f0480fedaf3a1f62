package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"lifeos/api/internal/client"
	"lifeos/api/internal/offline"
	"lifeos/api/internal/syncloop"
)

// errNotSignedIn is returned when a command needs an identity and neither a
// token nor a saved session is available.
var errNotSignedIn = errors.New("not signed in: run `lifeos login` first")

// workspace bundles what a command needs to talk to the API and the local
// state database.
type workspace struct {
	opts   *RootOptions
	logger *slog.Logger
	state  *offline.Store
	api    *client.Client
	user   string
	out    printer
}

func openWorkspace(cmd *cobra.Command, opts *RootOptions) (*workspace, error) {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	state, err := offline.Open(opts.State, logger)
	if err != nil {
		return nil, err
	}
	api := client.New(client.Config{
		BaseURL: opts.APIURL,
		Token:   opts.Token,
		Timeout: opts.Timeout,
	}, logger)
	return &workspace{
		opts:   opts,
		logger: logger,
		state:  state,
		api:    api,
		out:    printer{format: opts.Format, w: cmd.OutOrStdout()},
	}, nil
}

// signIn resolves the current user. A saved session supplies the token unless
// one was passed explicitly; a bare token is resolved through the API once and
// then remembered.
func (w *workspace) signIn(ctx context.Context) error {
	session, ok, err := w.state.ReadSession(ctx)
	if err != nil {
		return err
	}
	if w.opts.Token == "" {
		if !ok || session.Token == "" {
			return errNotSignedIn
		}
		w.api.SetToken(session.Token)
		w.user = session.User.ID
		return nil
	}
	if ok && session.Token == w.opts.Token {
		w.user = session.User.ID
		return nil
	}

	user, err := w.api.Me(ctx)
	if err != nil {
		return explain(err)
	}
	w.user = user.ID
	return w.state.SaveSession(ctx, offline.Session{Token: w.opts.Token, User: user})
}

func (w *workspace) loop(opts ...syncloop.Option) *syncloop.Loop {
	return syncloop.New(w.api, w.state, w.user, w.logger, opts...)
}

func (w *workspace) Close() error {
	return w.state.Close()
}

// explain turns client sentinels into messages a terminal user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return fmt.Errorf("session rejected by the server, run `lifeos login` again: %w", err)
	case errors.Is(err, client.ErrUnavailable):
		return fmt.Errorf("server unreachable: %w", err)
	default:
		return err
	}
}

// withWorkspace opens the workspace, signs in when required and runs fn.
func withWorkspace(cmd *cobra.Command, opts *RootOptions, needUser bool, fn func(context.Context, *workspace) error) error {
	ws, err := openWorkspace(cmd, opts)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if needUser {
		if err := ws.signIn(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, ws)
}
