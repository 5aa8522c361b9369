package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls how the engine logger is built.
type Options struct {
	// Level is the minimum enabled level: debug, info, warn or error.
	Level string

	// Development enables stack traces on warnings and panics on DPanic.
	Development bool

	// Encoding is either "json" or "console".
	Encoding string
}

// New builds a zap logger from the given options. Unknown levels fall back to info.
//
// Parameters:
//   - opts: the logger options
//
// Returns:
//   - *zap.Logger: the configured logger
//   - error: error if the zap configuration is invalid
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	switch opts.Encoding {
	case "json", "console":
		cfg.Encoding = opts.Encoding
	case "":
	default:
		return nil, fmt.Errorf("unknown log encoding %q", opts.Encoding)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log.Named("nebula"), nil
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
