// Package logger builds the zap loggers used across blueauth.
//
// Library packages never log through a global. They accept a *zap.Logger
// through an option and fall back to zap.NewNop(). The service binary calls
// InitLogger once and hands Log to every component it wires:
//
//	logger.InitLogger(settings.LogLevel) // debug, info, warn, error
//	ctrl := flow.NewController(cfg, mailer, flow.WithLogger(logger.Log))
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger set by InitLogger.
var Log = zap.NewNop()

// New builds a JSON production logger at level. Unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// InitLogger sets Log to a logger at level and panics if zap cannot be built.
func InitLogger(level string) {
	l, err := New(level)
	if err != nil {
		panic(err)
	}
	Log = l
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
