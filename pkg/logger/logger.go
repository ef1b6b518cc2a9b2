// Package logger is the zerolog-backed structured logger shared by every binary. Fields are
// accumulated on the context so a request, match run or cron job carries its identifiers into
// every line it logs.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/catermatch-backend/pkg/env"
	"github.com/angelmondragon/catermatch-backend/pkg/instance"
)

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// WarnStack attaches a stack trace to warnings as well as errors.
	WarnStack bool
	Output    io.Writer
	// Format is "json" or "console"; empty falls back to LOG_FORMAT.
	Format string
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if format := strings.ToLower(opts.Format); format == "console" || (format == "" && env.Get("LOG_FORMAT", "json") == "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", opts.ServiceName).
		Str("instance", instance.ID()).
		Logger()
	return &Logger{base: base, warnStack: opts.WarnStack}
}

// Nop discards everything; for tests and optional wiring.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) current(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if scoped, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
			return scoped
		}
	}
	return l.base
}

func (l *Logger) with(ctx context.Context, fn func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, fn(l.current(ctx).With()).Logger())
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

// WithEventRequestID tags the context with the customer's event request being matched.
func (l *Logger) WithEventRequestID(ctx context.Context, eventRequestID string) context.Context {
	return l.WithField(ctx, "event_request_id", eventRequestID)
}

func (l *Logger) WithCatererID(ctx context.Context, catererID string) context.Context {
	return l.WithField(ctx, "caterer_id", catererID)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.emit(ctx, zerolog.DebugLevel, msg, nil, false)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.emit(ctx, zerolog.InfoLevel, msg, nil, false)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	l.emit(ctx, zerolog.WarnLevel, msg, nil, l.warnStack)
}

// WarnErr logs a non-fatal failure. Telemetry and other best-effort paths use it.
func (l *Logger) WarnErr(ctx context.Context, msg string, err error) {
	l.emit(ctx, zerolog.WarnLevel, msg, err, l.warnStack)
}

// Error always carries a stack trace.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.emit(ctx, zerolog.ErrorLevel, msg, err, true)
}

func (l *Logger) emit(ctx context.Context, level zerolog.Level, msg string, err error, stack bool) {
	lg := l.current(ctx)
	event := lg.WithLevel(level)
	if event == nil {
		return
	}
	if err != nil {
		event = event.Err(err)
	}
	if stack {
		event = event.Str("stack", strings.TrimSpace(string(debug.Stack())))
	}
	event.Msg(msg)
}
