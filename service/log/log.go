package log

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	defaultMu     sync.RWMutex
	defaultLogger = zap.NewNop()
)

// SetDefault replaces the logger returned by Logger when the context does not carry one.
// It is meant to be called once, at program start-up.
func SetDefault(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

func getDefault() *zap.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// New creates a production json logger at the given level (debug, info, warn, error)
func New(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// WithLogger binds the logger to the context
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// With returns a context whose logger has the additional key/value field
func With(ctx context.Context, key string, value interface{}) context.Context {
	return WithLogger(ctx, Logger(ctx).With(zap.Any(key, value)))
}

// Logger returns the logger bound to the context, or the default one
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return getDefault()
}

// Fatal logs the message with the default logger then exits
func Fatal(msg string, fields ...zap.Field) {
	getDefault().Fatal(msg, fields...)
}
