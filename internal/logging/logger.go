// Package logging builds the process-wide zap logger.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is attached to every production log line.
const Service = "stockmonitor"

// Config selects the encoder preset and minimum level. An empty Level means
// debug for development and info otherwise.
type Config struct {
	Development bool
	Level       string
}

// New builds a console logger for development or a JSON logger stamped with
// the service name for production. Timestamps use the "ts" key either way so
// local and shipped logs line up.
func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.InitialFields = map[string]any{"service": Service}
	}
	zc.EncoderConfig.TimeKey = "ts"

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging level: %w", err)
		}
		zc.Level = level
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Sync flushes logger. Errors from syncing a terminal are dropped since
// stdout and stderr reject fsync on most platforms.
func Sync(logger *zap.Logger) {
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !isTerminalSyncErr(err) {
		fmt.Fprintf(os.Stderr, "flush logs: %v\n", err)
	}
}

func isTerminalSyncErr(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF)
}
