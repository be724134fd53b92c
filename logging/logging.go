// Package logging builds the process logger. Call sites log through log/slog;
// records are encoded by zap.
package logging

import (
	"fmt"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

var atomicLevel = zap.NewAtomicLevel()

// Init builds a zap logger and installs it as the slog default.
// level: debug, info, warn, error
// format: json or console
func Init(level, format string) (*zap.Logger, error) {
	if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = atomicLevel

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	Install(logger.Core())
	return logger, nil
}

// Install routes slog's default logger to core.
func Install(core zapcore.Core) {
	slog.SetDefault(slog.New(zapslog.NewHandler(core, zapslog.WithCaller(true))))
}

// SetLevel changes the level of the logger built by Init.
func SetLevel(level string) error {
	return atomicLevel.UnmarshalText([]byte(level))
}

// Level returns the current level.
func Level() zapcore.Level {
	return atomicLevel.Level()
}
