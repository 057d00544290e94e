package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels accepted by New. Anything else falls back to info.
var levels = map[string]zapcore.Level{
	"debug": zap.DebugLevel,
	"info":  zap.InfoLevel,
	"warn":  zap.WarnLevel,
	"error": zap.ErrorLevel,
}

// New builds the process logger. Every entry carries the service name.
func New(level, encoding, service string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding

	lvl, ok := levels[level]
	if !ok {
		lvl = zap.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	// debug also switches on stack traces for warnings
	cfg.Development = lvl == zap.DebugLevel

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if service != "" {
		cfg.InitialFields = map[string]interface{}{"service": service}
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}
