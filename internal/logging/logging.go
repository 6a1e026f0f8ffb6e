// Package logging builds the zerolog loggers used by both binaries.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/config"
)

// New returns a timestamped logger writing to out. Pretty selects the
// console writer; otherwise lines are JSON. Unknown levels fall back to info.
func New(out io.Writer, cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}
