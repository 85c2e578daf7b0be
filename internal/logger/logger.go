package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for engine output logs.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes where the engine's combined stdout+stderr goes. If Path is
// empty and Dir is set, the file is Dir/<name>.<phase>.log. Rotation follows
// lumberjack semantics. An entirely empty Config disables file logging; the
// supervisor still consumes the stream either way.
type Config struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	Path       string `json:"path" mapstructure:"path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Writer returns a rotating WriteCloser for the given engine name and phase,
// or nil when file logging is not configured.
func (c Config) Writer(name, phase string) io.WriteCloser {
	path := c.Path
	if path == "" && c.Dir != "" {
		_ = os.MkdirAll(c.Dir, 0o750)
		path = filepath.Join(c.Dir, fmt.Sprintf("%s.%s.log", name, phase))
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Setup installs the process-wide slog default with colored text output.
func Setup(level slog.Level) {
	h := NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}
