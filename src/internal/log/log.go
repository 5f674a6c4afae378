// Package log carries a zap logger on a context.Context.
//
// Code that has a context logs through it:
//
//	log.Info(ctx, "uploaded chunk", zap.String("chunkID", id))
//
// Contexts get a logger from pctx.Background, pctx.TODO, or (in tests)
// pctx.TestContext.  A context without a logger falls back to the global
// zap logger.
package log

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field.
type Field = zap.Field

type loggerKey struct{}

// LogOption modifies a logger.
type LogOption func(l *zap.Logger) *zap.Logger

// WithFields adds fields to every line logged by the child logger.
func WithFields(fields ...Field) LogOption {
	return func(l *zap.Logger) *zap.Logger {
		return l.With(fields...)
	}
}

// WithOptions applies zap options to the child logger.
func WithOptions(opts ...zap.Option) LogOption {
	return func(l *zap.Logger) *zap.Logger {
		return l.WithOptions(opts...)
	}
}

// InitLogger replaces the global logger with a production logger at the given
// level ("debug", "info", "warn", "error").  It returns a function that
// flushes the logger.
func InitLogger(level string) (func(), error) {
	var lvl zapcore.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err //nolint:wrapcheck
		}
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := config.Build()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	undo := zap.ReplaceGlobals(l)
	return func() {
		_ = l.Sync()
		undo()
	}, nil
}

// AddLogger returns a context carrying the global logger.
func AddLogger(ctx context.Context) context.Context {
	return withLogger(ctx, zap.L())
}

// ChildLogger returns a context whose logger is named name (appended to the
// parent's name) and modified by opts.
func ChildLogger(ctx context.Context, name string, opts ...LogOption) context.Context {
	l := extractLogger(ctx)
	if name != "" {
		l = l.Named(name)
	}
	for _, opt := range opts {
		l = opt(l)
	}
	return withLogger(ctx, l)
}

func withLogger(ctx context.Context, l *zap.Logger) context.Context {
	if l == nil {
		l = zap.L()
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

func extractLogger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.L()
	}
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.L()
}

// Debug logs a message at level debug.
func Debug(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

// Info logs a message at level info.
func Info(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

// Warn logs a message at level warn.
func Warn(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

// Error logs a message at level error.
func Error(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}
