// Package logging configures the process-wide structured logger.
//
// Records are written through log/slog with charmbracelet/log as the handler,
// so every package keeps using slog.Default() while output format and level
// come from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Veraticus/tonometer/internal/config"
)

// Logger wraps the charm logger backing the slog handler so its level can
// change at runtime.
type Logger struct {
	charm  *log.Logger
	slog   *slog.Logger
	closer io.Closer
}

// New builds a logger from cfg, writing to stderr or cfg.File.
func New(cfg config.LoggingConfig) (*Logger, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
		closer = file
	}

	l, err := NewWithWriter(out, cfg)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	l.closer = closer
	return l, nil
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := parseFormatter(cfg.Format)
	if err != nil {
		return nil, err
	}

	charm := log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})

	return &Logger{
		charm:  charm,
		slog:   slog.New(charm),
		closer: io.NopCloser(nil),
	}, nil
}

// Slog returns the slog front end.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// SetLevel changes the minimum level. Unknown names are rejected and the
// current level is kept.
func (l *Logger) SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	l.charm.SetLevel(level)
	return nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	return l.closer.Close()
}

// ParseLevel maps a configured level name to a charm log level.
func ParseLevel(name string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

func parseFormatter(name string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("unknown log format %q", name)
	}
}
