package logging

import (
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

// New builds the process logger. Interactive terminals get the pretty text
// formatter, everything else logfmt so log shippers can parse it.
func New(debug bool) *slog.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	formatter := log.LogfmtFormatter
	if isatty.IsTerminal(os.Stderr.Fd()) {
		formatter = log.TextFormatter
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Formatter:       formatter,
	})
	return slog.New(handler)
}
