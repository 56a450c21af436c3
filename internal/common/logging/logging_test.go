package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: level, Output: &buf, JSON: true})
	require.NoError(t, err)
	return logger, &buf
}

func entries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLevelsAndFields(t *testing.T) {
	logger, buf := jsonLogger(t, DebugLevel)

	logger.Debug("debug message", String("key", "value"))
	logger.Info("info message", Int("count", 42), Duration("elapsed", 1500*time.Millisecond))
	logger.Warn("warn message", Bool("enabled", true))
	logger.Error("error message", errors.New("test error"), Int64("credential_id", 7))
	logger.Error("no error attached", nil)

	got := entries(t, buf)
	require.Len(t, got, 5)
	assert.Equal(t, "DEBUG", got[0]["level"])
	assert.Equal(t, "value", got[0]["key"])
	assert.Equal(t, float64(42), got[1]["count"])
	assert.Equal(t, float64(1500), got[1]["elapsed"])
	assert.Equal(t, "WARN", got[2]["level"])
	assert.Equal(t, "test error", got[3]["error"])
	assert.Equal(t, float64(7), got[3]["credential_id"])
	assert.NotContains(t, got[4], "error")
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := jsonLogger(t, WarnLevel)

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible warn")
}

func TestWithFieldsAndContext(t *testing.T) {
	logger, buf := jsonLogger(t, InfoLevel)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithPrincipal(ctx, 5)
	ctx = ContextWithCredential(ctx, 9)
	logger.WithFields(String("component", "reaper")).WithContext(ctx).Info("token served")

	got := entries(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "reaper", got[0]["component"])
	assert.Equal(t, "req-1", got[0]["request_id"])
	assert.Equal(t, float64(5), got[0]["principal_id"])
	assert.Equal(t, float64(9), got[0]["credential_id"])

	id, ok := RequestIDFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	assert.Same(t, logger, logger.WithContext(context.Background()))
	assert.Same(t, logger, logger.WithFields())
}

func TestNamedConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Output: &buf, Name: "broker"})
	require.NoError(t, err)

	logger.Info("hello")
	assert.Contains(t, buf.String(), "broker")
	assert.Contains(t, buf.String(), "INFO")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		" warn ":  WarnLevel,
		"Error":   ErrorLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "input %q", input)
	}
}

func TestInitGlobalLogger(t *testing.T) {
	previous := GetGlobalLogger()
	defer SetGlobalLogger(previous)

	logFile := filepath.Join(t.TempDir(), "broker.log")
	require.NoError(t, InitGlobalLogger("debug", logFile, false))

	Debug("global debug", String("k", "v"))
	MustSync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Logger initialized")
	assert.Contains(t, string(data), "global debug")
}

func TestInitGlobalLoggerBadPath(t *testing.T) {
	previous := GetGlobalLogger()
	defer SetGlobalLogger(previous)

	err := InitGlobalLogger("info", filepath.Join(t.TempDir(), "missing", "dir", "x.log"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}
