// Package logging builds the slog logger used across moodflow.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hperssn/moodflow/internal/config"
)

// Logger wraps a slog.Logger whose level can change at runtime.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New writes to stderr.
func New(cfg config.LoggingConfig) *Logger {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg config.LoggingConfig, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	lvl, _ := config.ParseLevel(cfg.Level)
	level.Set(lvl)

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
	}
}

// SetLevel applies a level name from config. Unknown names are ignored.
func (l *Logger) SetLevel(name string) {
	lvl, err := config.ParseLevel(name)
	if err != nil {
		l.Warn("ignoring log level", "level", name, "error", err)
		return
	}
	if lvl != l.level.Level() {
		l.level.Set(lvl)
		l.Info("log level changed", "level", lvl.String())
	}
}

func (l *Logger) Level() slog.Level {
	return l.level.Level()
}
