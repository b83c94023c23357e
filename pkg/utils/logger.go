package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap logger. When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level)
// with ISO8601 timestamps under "time".
func NewLogger(debug bool) (*zap.Logger, error) {
	return loggerConfig(debug).Build()
}

func loggerConfig(debug bool) zap.Config {
	if debug {
		return zap.NewDevelopmentConfig()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
