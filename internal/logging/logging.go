// Package logging provides the structured logger threaded through every
// component of the memory engine. It wraps go.uber.org/zap the way the
// rest of the retrieved corpus's service binaries wrap a logger: one
// process-wide instance, built once at startup from LOG_LEVEL, handed
// down by reference rather than reconstructed per component.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.RWMutex
	current *zap.SugaredLogger
)

// New builds a sugared zap logger at the given level ("debug", "info",
// "warn", "error"; defaults to "info" for anything unrecognized).
func New(level string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panic; logging must
		// never be the reason a write fails.
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init sets the process-wide logger. Test harnesses can call this with a
// fresh logger to reset global state ( Design Notes: "test harnesses
// must be able to reset" global singletons).
func Init(level string) *zap.SugaredLogger {
	l := New(level)
	mu.Lock()
	current = l
	mu.Unlock()
	return l
}

// L returns the process-wide logger, lazily initialized at "info" level
// if Init was never called.
func L() *zap.SugaredLogger {
	mu.RLock()
	l := current
	mu.RUnlock()
	if l != nil {
		return l
	}
	return Init("info")
}

// Named returns a child logger scoped to a component name, e.g.
// logging.Named("aggregator") or logging.Named("context:personal").
func Named(name string) *zap.SugaredLogger {
	return L().Named(name)
}

// Reset restores the default (nil, lazily-initialized) logger state.
// Exposed for test harnesses.
func Reset() {
	mu.Lock()
	current = nil
	mu.Unlock()
}
