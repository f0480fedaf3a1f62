package cli

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// newLogger routes slog records through a charm logger so diagnostics on
// stderr match the styled output on stdout. Only warnings show unless verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{
		Prefix:          "lifeos",
		ReportTimestamp: verbose,
		Level:           log.WarnLevel,
	})
	if verbose {
		handler.SetLevel(log.DebugLevel)
	}
	return slog.New(handler)
}
