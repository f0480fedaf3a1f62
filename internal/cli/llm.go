package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lifeos/api/internal/dashboard"
)

func NewLlmCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "llm [mode]",
		Short: "Show or switch the assistant's language model backend",
		Long: `Without arguments, print the active LLM mode and whether it is ready.
With a mode (mock, openai, ollama, llamacpp), switch to it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && !dashboard.ValidLlmMode(args[0]) {
				return fmt.Errorf("invalid mode %q: must be one of %v", args[0], dashboard.LlmModes())
			}
			return withWorkspace(cmd, rootOpts, true, func(ctx context.Context, ws *workspace) error {
				var (
					status dashboard.LlmStatusResponse
					err    error
				)
				if len(args) == 1 {
					status, err = ws.api.SetLlmMode(ctx, dashboard.LlmMode(args[0]))
				} else {
					status, err = ws.api.LlmStatus(ctx)
				}
				if err != nil {
					return explain(err)
				}
				return ws.out.emit(status, func(w io.Writer) error {
					return renderLlmStatus(w, status)
				})
			})
		},
	}
}

func renderLlmStatus(w io.Writer, status dashboard.LlmStatusResponse) error {
	ready := offlineStyle.Render("not ready")
	if status.Ready {
		ready = onlineStyle.Render("ready")
	}
	model := status.Model
	if model == "" {
		model = "-"
	}
	_, err := fmt.Fprintf(w, "%s %s %s\n  model  %s\n  %s\n",
		sectionStyle.Render("LLM"), status.Mode, ready, model, mutedStyle.Render(status.Reason))
	return err
}
