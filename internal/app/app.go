// Package app holds the startup steps shared by the nebula binaries.
package app

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"go.uber.org/zap"
)

// LoadConfig loads .env files, then the config file at path. A missing config file falls
// back to the defaults with environment overrides applied.
//
// Parameters:
//   - path: the config file path; empty means defaults only
//
// Returns:
//   - config.Config: the configuration
//   - bool: true if the file at path was read
//   - error: error if a file exists but cannot be parsed or the result is invalid
func LoadConfig(path string) (config.Config, bool, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, false, err
	}
	if path != "" {
		cfg, err := config.Load(path)
		if err == nil {
			return cfg, true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return cfg, false, err
		}
	}

	cfg := config.Default()
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, false, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, false, err
	}
	return cfg, false, nil
}

// NewLogger builds the process logger from the logging section of cfg.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	log, err := logger.New(logger.Options{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}
