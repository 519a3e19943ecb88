package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"DEBUG", LevelDebug},
		{"Warning", LevelWarn},
		{" error ", LevelError},
		{"", LevelInfo},
		{"trace", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
	}{
		{"json", FormatJSON},
		{"JSON", FormatJSON},
		{"text", FormatText},
		{"", FormatText},
		{"yaml", FormatText},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseFormat(tt.input))
		})
	}
}

func TestValidLevelAndFormat(t *testing.T) {
	assert.True(t, ValidLevel("Debug"))
	assert.True(t, ValidLevel(""))
	assert.False(t, ValidLevel("trace"))
	assert.True(t, ValidFormat("json"))
	assert.False(t, ValidFormat("yaml"))
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})

	Component(log, "relay").Debug("drained", "bytes", 42)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "drained", rec["msg"])
	assert.Equal(t, "relay", rec["component"])
	assert.EqualValues(t, 42, rec["bytes"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelWarn, Output: &buf})

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestComponent_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Component(nil, "x").Info("nothing")
	})
}

func TestLineWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})
	w := NewLineWriter(log, LevelDebug, "filter stderr")

	n, err := w.Write([]byte("first line\nsecond "))
	require.NoError(t, err)
	assert.Equal(t, 18, n)
	_, _ = w.Write([]byte("half\r\n\n"))
	_, _ = w.Write([]byte("tail"))
	w.Flush()

	var lines []string
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &rec))
		assert.Equal(t, "filter stderr", rec["msg"])
		lines = append(lines, rec["line"].(string))
	}
	assert.Equal(t, []string{"first line", "second half", "tail"}, lines)
}

func TestLineWriter_LongLineIsSplit(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelDebug, Output: &buf})
	w := NewLineWriter(log, LevelDebug, "stderr")

	_, _ = w.Write(bytes.Repeat([]byte("x"), maxLineLength+10))
	assert.Equal(t, 1, strings.Count(buf.String(), "stderr"))

	w.Flush()
	assert.Equal(t, 2, strings.Count(buf.String(), "stderr"))
}
