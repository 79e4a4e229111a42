package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{" DEBUG ", DebugLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"info", InfoLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "swiftfleet.log")
	var console bytes.Buffer

	closer, err := Init(Config{Level: InfoLevel, JSONOutput: true, Output: &console, File: path})
	require.NoError(t, err)

	nodeLog := WithNode("10.0.0.11")
	nodeLog.Info().Str("stage", "copy").Msg("Metadata propagated")
	logger := WithComponent("ring")
	logger.Debug().Msg("dropped below level")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "10.0.0.11", entry["node"])
	assert.Equal(t, "copy", entry["stage"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, console.String(), "Metadata propagated")
}

func TestInitFileError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	var console bytes.Buffer
	closer, err := Init(Config{Output: &console, File: filepath.Join(blocker, "swiftfleet.log")})
	assert.Error(t, err)
	require.NotNil(t, closer)
	assert.NoError(t, closer.Close())

	Logger.Warn().Msg("still logging")
	assert.Contains(t, console.String(), "still logging")
}
