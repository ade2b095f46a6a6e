// Package plog provides the application's leveled logging on top of log/slog.
// INFO and below go to stdout, WARNING and above to stderr, and an optional
// tee writer receives every record for the durable per-run log file.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LevelNotice sits between INFO and WARN and is used for per-item
// operational output (COPY, LINK, DELETE lines).
const LevelNotice = slog.Level(2)

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

// teeHandler fans a record out to the console handler and the durable log
// handler. The durable handler never filters: the run log always carries the
// full record stream regardless of the console level.
type teeHandler struct {
	console slog.Handler
	durable slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level) || h.durable.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.durable.Handle(ctx, r)
	if h.console.Enabled(ctx, r.Level) {
		if consoleErr := h.console.Handle(ctx, r); err == nil {
			err = consoleErr
		}
	}
	return err
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{console: h.console.WithAttrs(attrs), durable: h.durable.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{console: h.console.WithGroup(name), durable: h.durable.WithGroup(name)}
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	consoleLevel  = new(slog.LevelVar)
)

// replaceLevelName renames the custom NOTICE level so it does not render
// as "INFO+2" in the text output.
func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelNotice {
			a.Value = slog.StringValue("NOTICE")
		}
	}
	return a
}

func newConsoleHandler() slog.Handler {
	opts := &slog.HandlerOptions{Level: consoleLevel, ReplaceAttr: replaceLevelName}
	return &LevelDispatchHandler{
		stdoutHandler: slog.NewTextHandler(os.Stdout, opts),
		stderrHandler: slog.NewTextHandler(os.Stderr, opts),
	}
}

func init() {
	consoleLevel.Set(slog.LevelInfo)
	defaultLogger = slog.New(newConsoleHandler())
}

// SetOutput redirects all logger output to a single writer, primarily for
// testing. It resets the level to debug so every record is captured.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	consoleLevel.Set(slog.LevelDebug)
	defaultLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       consoleLevel,
		ReplaceAttr: replaceLevelName,
	}))
}

// SetTee attaches a durable writer (the per-run log file). Every record from
// this point on is appended there in addition to the console output.
func SetTee(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	durable := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: replaceLevelName,
	})
	defaultLogger = slog.New(&teeHandler{console: newConsoleHandler(), durable: durable})
}

// ClearTee detaches the durable writer and restores console-only output.
// Call it before closing the underlying log file.
func ClearTee() {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(newConsoleHandler())
}

// SetLevel sets the minimum level written to the console. The durable tee,
// if attached, is unaffected.
func SetLevel(level slog.Level) {
	consoleLevel.Set(level)
}

// LevelFromString maps a user-supplied level name to a slog.Level.
// Unknown names fall back to INFO.
func LevelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "notice":
		return LevelNotice
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

// Notice logs a per-item operational message.
func Notice(msg string, args ...any) {
	logger().Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}
