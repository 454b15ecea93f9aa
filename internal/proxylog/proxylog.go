// Package proxylog builds the process-wide zerolog.Logger used by every
// other component. There is no package-level logger value here — New
// returns one, and callers thread it through explicitly.
package proxylog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a Logger at the given level, writing to w. An empty level
// string defaults to "info"; an unrecognized level also defaults to
// "info" rather than failing startup over a typo in a flag.
func New(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

// NewConsole returns a human-readable (non-JSON) logger, for interactive
// use at a terminal.
func NewConsole(level string) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(console).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
