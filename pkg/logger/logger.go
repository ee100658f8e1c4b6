package logger

import (
	"context"
	"io"
	"maps"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
)

// Format selects how lines are rendered.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// ParseFormat maps a config value to a Format, defaulting to JSON.
func ParseFormat(value string) Format {
	if strings.EqualFold(strings.TrimSpace(value), string(FormatConsole)) {
		return FormatConsole
	}
	return FormatJSON
}

type Options struct {
	ServiceName string
	Level       zerolog.Level
	Format      Format
	// WarnStack attaches a stack trace to warn lines as well as errors.
	WarnStack bool
	Output    io.Writer
}

// Logger writes zerolog lines enriched with fields carried on the context.
type Logger struct {
	root      zerolog.Logger
	warnStack bool
}

type scopeKey struct{}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	root := zerolog.New(out).
		Level(opts.Level).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()
	return &Logger{root: root, warnStack: opts.WarnStack}
}

// ParseLevel falls back to info for empty or unknown values.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) scoped(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if scoped, ok := ctx.Value(scopeKey{}).(*zerolog.Logger); ok {
			return scoped
		}
	}
	return &l.root
}

func (l *Logger) with(ctx context.Context, add func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	child := add(l.scoped(ctx).With()).Logger()
	return context.WithValue(ctx, scopeKey{}, &child)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields applies keys in sorted order so repeated lines render identically.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context {
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			c = c.Interface(key, fields[key])
		}
		return c
	})
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Str("request_id", requestID) })
}

func (l *Logger) WithUserID(ctx context.Context, userID string) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Str("user_id", userID) })
}

func (l *Logger) WithBidID(ctx context.Context, bidID uuid.UUID) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Stringer("bid_id", bidID) })
}

func (l *Logger) WithProjectID(ctx context.Context, projectID uuid.UUID) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Stringer("project_id", projectID) })
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.scoped(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.scoped(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	l.WarnErr(ctx, msg, nil)
}

// WarnErr logs an expected failure, such as a rejected transition or a poll
// that will be retried, with its error code.
func (l *Logger) WarnErr(ctx context.Context, msg string, err error) {
	event := annotate(l.scoped(ctx).Warn(), err)
	if l.warnStack {
		event = event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

// Error logs err with its code. Only untyped and internal errors carry a
// stack; other typed errors are outcomes the service produced on purpose.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	event := annotate(l.scoped(ctx).Error(), err)
	if err == nil || pkgerrors.CodeOf(err) == pkgerrors.CodeInternal {
		event = event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

func annotate(event *zerolog.Event, err error) *zerolog.Event {
	if err == nil {
		return event
	}
	event = event.Err(err)
	if typed := pkgerrors.As(err); typed != nil {
		event = event.
			Str("error_code", string(typed.Code())).
			Bool("retryable", pkgerrors.IsRetryable(err))
	}
	return event
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}
