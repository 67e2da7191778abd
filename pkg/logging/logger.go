// Package logging builds the process logger and keeps secrets out of it.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the root zap logger. Production config with ISO timestamps for
// deployed environments, development config locally. Components derive their
// own loggers with logger.Named.
func New(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
