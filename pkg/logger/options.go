package logger

import "auction-engine/internal/config"

// FromConfig builds the process logger from the log section.
func FromConfig(cfg config.LogConfig) Logger {
	return NewWithConfig(Options{
		Level:      cfg.Level,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
}
