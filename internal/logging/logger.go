// Package logging builds the zerolog logger shared by every engram component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/engram/internal/config"
)

// New creates a logger writing to w (stderr when nil). Unknown levels fall
// back to warn so JSON on stdout stays the only output of a quiet run.
func New(cfg config.Log, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.WarnLevel
	}

	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
