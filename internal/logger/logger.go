// Package logger builds the zap logger shared by every binary.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quant-agent-go/internal/config"
)

// New builds a logger for one binary. Format "json" selects the production encoder and
// anything else the console encoder. When cfg.File is set, records are written there
// as well as to stderr. Every record carries the service and component fields.
func New(cfg config.Logger, component string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
		zc.ErrorOutputPaths = append(zc.ErrorOutputPaths, cfg.File)
	}

	return zc.Build(zap.Fields(
		zap.String("service", "quant-agent"),
		zap.String("component", component),
	))
}
