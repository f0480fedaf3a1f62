package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lifeos/api/internal/client"
	"lifeos/api/internal/syncloop"
)

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the dashboard",
		Long: `Show the dashboard. The cached view is loaded first, pending mutations
are delivered, and the server copy is fetched. When the server is unreachable
the cached view is shown with queued changes applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, rootOpts, true, func(ctx context.Context, ws *workspace) error {
				if cached {
					return ws.out.view(cachedView(ctx, ws))
				}
				loop := ws.loop()
				if err := loop.Hydrate(ctx); err != nil {
					return explain(err)
				}
				return ws.out.view(loop.View())
			})
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "show the cached view without contacting the server")
	return cmd
}

// cachedView builds a view from local state only.
func cachedView(ctx context.Context, ws *workspace) syncloop.View {
	view := syncloop.View{Status: syncloop.StatusIdle, Offline: true}
	if snapshot, ok, err := ws.state.ReadSnapshot(ctx, ws.user); err == nil && ok {
		view.Snapshot, view.HasSnapshot = snapshot, true
	}
	if pulse, ok, err := ws.state.ReadPulse(ctx, ws.user); err == nil && ok {
		view.Pulse, view.HasPulse = pulse, true
	}
	if queue, err := ws.state.ReadQueue(ctx, ws.user); err == nil {
		view.QueueLen = len(queue)
	}
	return view
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued mutations and refresh the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, rootOpts, true, func(ctx context.Context, ws *workspace) error {
				loop := ws.loop()
				result, err := loop.FlushQueue(ctx)
				if err != nil {
					return explain(err)
				}
				if err := loop.Hydrate(ctx); err != nil {
					return explain(err)
				}
				view := loop.View()
				report := struct {
					FlushResult syncloop.FlushResult `json:"flush"`
					View        viewReport           `json:"view"`
				}{result, reportOf(view)}
				return ws.out.emit(report, func(w io.Writer) error {
					fmt.Fprintf(w, "%s sent %d, dropped %d, kept %d\n", sectionStyle.Render("Sync"), result.Sent, result.Dropped, result.Kept)
					return renderView(w, view)
				})
			})
		},
	}
}

func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List mutations waiting to be delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, rootOpts, true, func(ctx context.Context, ws *workspace) error {
				queue, err := ws.state.ReadQueue(ctx, ws.user)
				if err != nil {
					return err
				}
				return ws.out.emit(queue, func(w io.Writer) error {
					return renderQueue(w, queue)
				})
			})
		},
	}
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the dashboard in sync until interrupted",
		Long: `Hydrate, then flush and refresh on every interval. The view is printed
each time a sync settles. Stops on Ctrl-C or when the session is rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			return withWorkspace(cmd, rootOpts, true, func(ctx context.Context, ws *workspace) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				loop := ws.loop(syncloop.WithOnChange(func(view syncloop.View) {
					if view.Status != syncloop.StatusIdle {
						return
					}
					if err := ws.out.view(view); err != nil {
						ws.logger.WarnContext(ctx, "render failed", "error", err)
					}
				}))
				err := loop.Run(ctx, interval)
				if errors.Is(err, client.ErrUnauthorized) {
					return explain(err)
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "time between syncs")
	return cmd
}
