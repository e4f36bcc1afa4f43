package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dbsmedya/ctsync/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"", "info"},
		{"warn", "warn"},
		{"error", "error"},
		{"unknown", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input).String())
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.LoggingConfig
	}{
		{"json format info level", &config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text format debug level", &config.LoggingConfig{Level: "debug", Format: "text", Output: "stdout"}},
		{"file output", &config.LoggingConfig{Level: "warn", Format: "json", Output: filepath.Join(t.TempDir(), "ctsync.log")}},
		{"stderr output", &config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	logger.Info("test message")
	_ = logger.Sync()
}

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.WithPass("p-1").WithSet("sales").WithDestination("reporting").WithTable("dbo.Orders").
		Infow("applied", "inserts", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "p-1", ctx["pass"])
	assert.Equal(t, "sales", ctx["set"])
	assert.Equal(t, "reporting", ctx["destination"])
	assert.Equal(t, "dbo.Orders", ctx["table"])
	assert.EqualValues(t, 3, ctx["inserts"])
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.WithSet("x").Error("discarded")
	assert.NoError(t, logger.Sync())
}

func TestBuildEncoder(t *testing.T) {
	assert.NotNil(t, buildEncoder("json"))
	assert.NotNil(t, buildEncoder("text"))
	assert.NotNil(t, buildEncoder("unknown"))
}

func TestBuildWriters(t *testing.T) {
	assert.NotNil(t, buildWriters("stdout"))
	assert.NotNil(t, buildWriters("stderr"))
	assert.NotNil(t, buildWriters(""))
	assert.NotNil(t, buildWriters(filepath.Join(t.TempDir(), "out.log")))
}

func TestLoggingOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logger-test.json")

	logger, err := New(&config.LoggingConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("test info message")
	logger.Debug("hidden debug message")
	logger.WithSet("orders-set").Warn("message with set context")
	_ = logger.Sync()

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(content)
	assert.True(t, strings.Contains(out, "test info message"))
	assert.True(t, strings.Contains(out, "orders-set"))
	assert.False(t, strings.Contains(out, "hidden debug message"))
}
