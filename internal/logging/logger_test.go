package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	out := &bytes.Buffer{}
	logger := NewWithWriter(out, "json", "info")

	logger.Debug("hidden")
	logger.Info("job claimed", "job_id", "j1")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "job claimed", entry["msg"])
	assert.Equal(t, "j1", entry["job_id"])
}

func TestNewWithWriter_Console(t *testing.T) {
	out := &bytes.Buffer{}
	logger := NewWithWriter(out, "console", "debug")

	logger.Debug("console test")

	// tint abbreviates levels
	assert.Contains(t, out.String(), "DBG")
	assert.Contains(t, out.String(), "console test")
}

func TestNewWithWriter_UnknownFormatIsJSON(t *testing.T) {
	out := &bytes.Buffer{}
	NewWithWriter(out, "yaml", "info").Info("x")

	var entry map[string]any
	assert.NoError(t, json.Unmarshal(out.Bytes(), &entry))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.level))
		})
	}
}
