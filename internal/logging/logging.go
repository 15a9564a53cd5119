// Package logging builds the process logger: console output for humans,
// rotated files for retention, and a separate errors-only file so operators
// can tail problems without the info noise.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the logging configuration.
type Config struct {
	// Dir is where log files are written.
	Dir string `yaml:"dir"`

	Console  ConsoleConfig  `yaml:"console"`
	File     FileConfig     `yaml:"file"`
	Rotation RotationConfig `yaml:"rotation"`
}

// ConsoleConfig controls stdout logging.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileConfig controls file logging.
type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// RotationConfig mirrors lumberjack's knobs.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"`
	Compress   bool `yaml:"compress"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = "logs"
	}
	if c.Console.Level == "" {
		c.Console.Level = "info"
	}
	if c.File.Level == "" {
		c.File.Level = "info"
	}
	if c.File.Format == "" {
		c.File.Format = "json"
	}
	if c.Rotation.MaxSize <= 0 {
		c.Rotation.MaxSize = 100
	}
	if c.Rotation.MaxBackups <= 0 {
		c.Rotation.MaxBackups = 5
	}
	if c.Rotation.MaxAge <= 0 {
		c.Rotation.MaxAge = 30
	}
}

// New builds a logger from the configuration. The returned close function
// releases the rotated log files and must run at shutdown.
func New(cfg Config) (*slog.Logger, func() error, error) {
	cfg.ApplyDefaults()

	var handlers []slog.Handler
	var files []*lumberjack.Logger

	if cfg.Console.Enabled {
		handlers = append(handlers, newHandler(os.Stdout, cfg.Console.Format, ParseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}

		main := rotatedFile(filepath.Join(cfg.Dir, "cldcde-search.log"), cfg.Rotation)
		files = append(files, main)
		handlers = append(handlers, newHandler(main, cfg.File.Format, ParseLevel(cfg.File.Level)))

		// Warnings and errors also land in a dedicated file.
		errs := rotatedFile(filepath.Join(cfg.Dir, "errors.log"), cfg.Rotation)
		files = append(files, errs)
		handlers = append(handlers, newMinLevelHandler(
			newHandler(errs, cfg.File.Format, slog.LevelWarn), slog.LevelWarn))
	}

	closeFiles := func() error {
		for _, f := range files {
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing log file %s: %w", f.Filename, err)
			}
		}
		return nil
	}

	switch len(handlers) {
	case 0:
		// Everything disabled; keep callers working.
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFiles, nil
	case 1:
		return slog.New(handlers[0]), closeFiles, nil
	default:
		return slog.New(newTeeHandler(handlers...)), closeFiles, nil
	}
}

// Initialize builds the logger, installs it as the slog default, and returns
// the close function.
func Initialize(cfg Config) (*slog.Logger, func() error, error) {
	logger, closeFn, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func rotatedFile(path string, r RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.MaxSize,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAge,
		Compress:   r.Compress,
	}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
