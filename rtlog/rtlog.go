// Package rtlog provides the runtime's lazily-initialized, level-gated
// structured logger. It plays the same role as the teacher's debug.go
// (a package-level *log.Logger behind a sync.Once, toggled by a debug
// flag) but built on go.uber.org/zap, the structured logger the rest of
// the retrieval corpus (noisefs, assisted-migration-agent) reaches for.
package rtlog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level  = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	once   sync.Once
	logger *zap.Logger
)

func build() {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		// Logger construction failure leaves us unable to report anything
		// useful; fall back to a no-op logger rather than crash a library
		// caller over a logging misconfiguration.
		l = zap.NewNop()
	}

	logger = l
}

// L returns the shared runtime logger, building it on first use.
func L() *zap.Logger {
	once.Do(build)
	return logger
}

// SetDebug toggles verbose (debug-level) logging, mirroring the teacher's
// -fuse.debug flag. Safe to call at any time; takes effect immediately
// since the level is an zap.AtomicLevel.
func SetDebug(enabled bool) {
	if enabled {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.WarnLevel)
	}
}

// Fatal logs msg at fatal level and then terminates the process. Two of
// the three failure classes the core never unwinds from (engine work()
// failure, waker callback failure) call this instead of returning an
// error, matching the Rust source's .expect(...) panics at the same call
// sites. The third, monotonic clock read failure, has no call site here:
// reading the Go clock cannot fail.
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}
