package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestMinLevelHandlerFilters(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(newMinLevelHandler(inner, slog.LevelWarn))

	logger.Info("not this one")
	logger.Warn("but this one")
	logger.Error("and this one")

	out := buf.String()
	assert.NotContains(t, out, "not this one")
	assert.Contains(t, out, "but this one")
	assert.Contains(t, out, "and this one")
}

func TestTeeHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	ha := slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug})
	hb := slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(newTeeHandler(ha, hb))

	logger.Info("everywhere cheap")
	logger.Warn("everywhere")

	assert.Contains(t, a.String(), "everywhere cheap")
	assert.Contains(t, a.String(), "everywhere")
	assert.NotContains(t, b.String(), "everywhere cheap")
	assert.Contains(t, b.String(), "everywhere")
}

func TestTeeHandlerEnabled(t *testing.T) {
	var buf bytes.Buffer
	warn := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := newTeeHandler(warn)

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestNewWritesFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Dir:  dir,
		File: FileConfig{Enabled: true, Level: "info", Format: "json"},
	}

	logger, closeFn, err := New(cfg)
	require.NoError(t, err)

	logger.Info("hello from the test")
	logger.Error("something broke")
	require.NoError(t, closeFn())

	main, err := os.ReadFile(filepath.Join(dir, "cldcde-search.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), "hello from the test")
	assert.Contains(t, string(main), "something broke")

	errs, err := os.ReadFile(filepath.Join(dir, "errors.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(errs), "hello from the test")
	assert.Contains(t, string(errs), "something broke")
}

func TestNewEverythingDisabled(t *testing.T) {
	logger, closeFn, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer closeFn()

	// Must not panic or write anywhere.
	logger.Info("into the void")
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, "logs", cfg.Dir)
	assert.Equal(t, "info", cfg.Console.Level)
	assert.Equal(t, "json", cfg.File.Format)
	assert.Equal(t, 100, cfg.Rotation.MaxSize)
	assert.True(t, strings.HasPrefix(cfg.File.Level, "info"))
}
