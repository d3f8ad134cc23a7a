package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a JSON zap logger configured at the provided level. If the
// level string is invalid it defaults to info.
func New(level string) *zap.Logger {
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl.SetLevel(zapcore.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *zap.Logger {
	return zap.NewNop()
}
