// Package logging builds the zap loggers used by the CLI and the API.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger at the given level. Unknown levels fall back to info.
// The development environment at debug level gets the human-readable console encoder.
func New(level, environment string) (*zap.Logger, error) {
	lvl := ParseLevel(level)

	cfg := zap.NewProductionConfig()
	if environment == "development" && lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if environment != "" {
		logger = logger.With(zap.String("environment", environment))
	}
	return logger, nil
}

// ParseLevel maps a level name such as "INFO" or "warning" to a zap level.
func ParseLevel(level string) zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
