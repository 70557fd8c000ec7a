// Package logging builds the slog loggers used across gatesmith.
//
// Console output is human-readable text when stderr is a terminal and JSON
// otherwise. When LogDir is set every entry is also appended, as JSON, to
// "{Service}_{YYYY-MM-DD}.log" in that directory.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const DefaultService = "gatesmith"

type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// JSON forces JSON console output even on a terminal.
	JSON bool
	// LogDir enables the file sink. A leading ~ expands to the home
	// directory.
	LogDir  string
	Service string
	// Output overrides the console writer (stderr). Tests use it.
	Output io.Writer
}

// Logger owns the handlers behind a *slog.Logger and the log file, if any.
type Logger struct {
	slog *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// ParseLevel maps a level name onto slog.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var console slog.Handler
	if cfg.JSON || !isTerminal(out) {
		console = slog.NewJSONHandler(out, opts)
	} else {
		console = slog.NewTextHandler(out, opts)
	}
	handlers := []slog.Handler{console}

	logger := &Logger{}
	if cfg.LogDir != "" {
		service := cfg.Service
		if service == "" {
			service = DefaultService
		}
		dir := expandPath(cfg.LogDir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	var handler slog.Handler = console
	if len(handlers) > 1 {
		handler = &multiHandler{handlers: handlers}
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	logger.slog = slog.New(handler)
	return logger, nil
}

func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns logger, or a discarding logger when it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
