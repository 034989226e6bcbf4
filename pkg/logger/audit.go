package logger

import (
	"errors"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultAuditMaxSizeMB  = 100
	defaultAuditMaxBackups = 7
	defaultAuditMaxAgeDays = 30
)

// newAuditWriter returns a size-rotated file writer for the audit log. The
// directory is created on first write.
func newAuditWriter(cfg AuditConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    positiveOr(cfg.MaxSizeMB, defaultAuditMaxSizeMB),
		MaxBackups: positiveOr(cfg.MaxBackups, defaultAuditMaxBackups),
		MaxAge:     positiveOr(cfg.MaxAgeDays, defaultAuditMaxAgeDays),
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
