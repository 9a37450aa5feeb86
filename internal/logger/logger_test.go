package logger

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

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	SetOutput(buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("INFO")
		SetFormat("text")
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("WARN")

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestInvalidLevelIgnored(t *testing.T) {
	captureOutput(t)
	SetLevel("DEBUG")
	SetLevel("LOUD")
	assert.True(t, Enabled(LevelDebug))
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetFormat("json")

	Info("published", KeyProvider, "jamendo", KeyCount, 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "published", entry["msg"])
	assert.Equal(t, "jamendo", entry[KeyProvider])
	assert.Equal(t, float64(3), entry[KeyCount])
}

func TestInitFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediabus.log")
	t.Cleanup(func() {
		require.NoError(t, Init(Config{Output: "stdout", Level: "INFO", Format: "text"}))
	})

	require.NoError(t, Init(Config{Output: path, Level: "DEBUG", Format: "text"}))
	Debug("to file", KeyPath, "/x")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to file"))
}
