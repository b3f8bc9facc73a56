// Package trace configures the slog-based debug logging shared across
// PANDO's subsystems, following the testbench's approach of a single JSON
// handler plus an extra fine-grained level for per-cycle tracing below
// slog.LevelDebug.
package trace

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LevelTrace sits below slog.LevelDebug, for per-cycle/per-instruction
// detail that would otherwise drown out ordinary debug logging.
const LevelTrace = slog.Level(-8)

// Subsystem groups log records by the part of the simulator that emitted
// them, attached as a "subsystem" attribute on every record a Logger
// produces.
type Subsystem string

const (
	Init    Subsystem = "init"
	Clock   Subsystem = "clock"
	Memory  Subsystem = "memory"
	Syscall Subsystem = "syscall"
)

// Logger is a subsystem-scoped, level-gated wrapper around *slog.Logger.
type Logger struct {
	base *slog.Logger
	sub  Subsystem
}

var root *slog.Logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))

// Configure installs the process-wide base logger, writing JSON records of
// level or higher to w. Call once at startup, before any For call whose
// Logger should use the new sink.
func Configure(w io.Writer, level slog.Level) {
	root = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// For returns a Logger scoped to the given subsystem.
func For(sub Subsystem) *Logger {
	return &Logger{base: root, sub: sub}
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.base.Enabled(ctx, level) {
		return
	}
	args = append([]any{"subsystem", string(l.sub)}, args...)
	l.base.Log(ctx, level, msg, args...)
}

// Trace logs at LevelTrace — per-cycle or per-instruction detail.
func (l *Logger) Trace(msg string, args ...any) {
	l.log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs at slog.LevelDebug.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs at slog.LevelInfo.
func (l *Logger) Info(msg string, args ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs at slog.LevelWarn.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs at slog.LevelError.
func (l *Logger) Error(msg string, args ...any) {
	l.log(context.Background(), slog.LevelError, msg, args...)
}
