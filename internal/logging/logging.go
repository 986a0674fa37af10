package logging

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
	mu    sync.RWMutex
)

// Logger is the structured logging surface used across scribe. Keep it small
// and focused on key/value events.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Sync() error
}

type noopLogger struct{}

func (n noopLogger) Infow(msg string, keysAndValues ...interface{})  {}
func (n noopLogger) Debugw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Warnw(msg string, keysAndValues ...interface{})  {}
func (n noopLogger) Errorw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Sync() error                                     { return nil }

// current starts as a noop so package-level calls are safe before Init.
var current Logger = noopLogger{}

// Init builds the JSON zap logger at the given level (debug, info, warn,
// error; anything else means info) and redirects the standard library
// logger into it. Only the first call configures the logger.
func Init(level string) *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.Config{
			Encoding:         "json",
			EncoderConfig:    zap.NewProductionEncoderConfig(),
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

		logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
		if err != nil {
			logger = zap.NewNop()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
		SetLogger(sugar)
	})
	return sugar
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetLogger replaces the package-level logger. Passing nil restores the
// logger built by Init, or the noop logger if Init was never called.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l != nil {
		current = l
		return
	}
	if sugar != nil {
		current = sugar
	} else {
		current = noopLogger{}
	}
}

// GetLogger returns the current Logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Infow(msg string, keysAndValues ...interface{})  { GetLogger().Infow(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...interface{}) { GetLogger().Debugw(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { GetLogger().Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { GetLogger().Errorw(msg, keysAndValues...) }

// Sync flushes any buffered logs.
func Sync() error { return GetLogger().Sync() }

type ctxKeyType struct{}

// WithFields returns a context carrying kv. Fields already on ctx are kept
// and the new ones appended after them.
func WithFields(ctx context.Context, kv ...interface{}) context.Context {
	if len(kv) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(ctxKeyType{}).([]interface{})
	merged := make([]interface{}, 0, len(prev)+len(kv))
	merged = append(merged, prev...)
	merged = append(merged, kv...)
	return context.WithValue(ctx, ctxKeyType{}, merged)
}

// FromContext returns any fields previously attached with WithFields.
func FromContext(ctx context.Context) []interface{} {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(ctxKeyType{}).([]interface{})
	return v
}

func merge(ctx context.Context, kv []interface{}) []interface{} {
	ctxFields := FromContext(ctx)
	if len(ctxFields) == 0 {
		return kv
	}
	merged := make([]interface{}, 0, len(ctxFields)+len(kv))
	merged = append(merged, ctxFields...)
	return append(merged, kv...)
}

// DebugwCtx logs at debug with the fields attached to ctx prepended.
func DebugwCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Debugw(msg, merge(ctx, kv)...)
}

// InfowCtx logs at info with the fields attached to ctx prepended.
func InfowCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Infow(msg, merge(ctx, kv)...)
}

// WarnwCtx logs at warn with the fields attached to ctx prepended.
func WarnwCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Warnw(msg, merge(ctx, kv)...)
}

// SessionFields returns the canonical keys for a capture session.
func SessionFields(sessionID, state string) []interface{} {
	if state == "" {
		return []interface{}{"session.id", sessionID}
	}
	return []interface{}{"session.id", sessionID, "session.state", state}
}

// ArtifactFields describes a finished recording: payload size in bytes,
// number of captured chunks and duration in milliseconds.
func ArtifactFields(artifactID string, bytes, chunks int, durationMs int64) []interface{} {
	return []interface{}{"artifact.id", artifactID, "bytes", bytes, "chunks", chunks, "duration_ms", durationMs}
}
