// Package logging builds the diagnostics logger shared by every command.
package logging

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// Prefix is printed before every log line.
const Prefix = "vaultdump"

// Options configures New.
type Options struct {
	// Level is an explicitly requested level name understood by
	// log.ParseLevel. Empty or unknown names leave the choice to Debug.
	Level string
	// Debug selects the debug level when no Level is requested.
	Debug bool
	// ShowDates prefixes every line with a timestamp.
	ShowDates bool
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) *log.Logger {
	level := log.InfoLevel
	if opts.Debug {
		level = log.DebugLevel
	}
	if opts.Level != "" {
		if parsed, err := log.ParseLevel(opts.Level); err == nil {
			level = parsed
		}
	}

	return log.NewWithOptions(w, log.Options{
		Prefix:          Prefix,
		Level:           level,
		ReportTimestamp: opts.ShowDates,
		TimeFormat:      time.DateTime,
	})
}
