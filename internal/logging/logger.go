// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is attached to every entry as the "service" field.
const Service = "batchcrawl"

// New builds a zap.Logger configured for development or production.
func New(development bool, opts ...zap.Option) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build(withService(opts)...)
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build(withService(opts)...)
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// withService runs after any caller options so core replacements keep the field.
func withService(opts []zap.Option) []zap.Option {
	return append(append([]zap.Option(nil), opts...), zap.Fields(zap.String("service", Service)))
}
