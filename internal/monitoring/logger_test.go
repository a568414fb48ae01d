package monitoring

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesConsoleAndFile(t *testing.T) {
	var console, file bytes.Buffer
	logger := NewLogger(Options{Console: &console, File: &file, Level: slog.LevelInfo, NoColor: true})

	logger.Info("flow written", "source", "a.mp4", "pairs", 4)

	assert.Contains(t, console.String(), "flow written")
	assert.Contains(t, console.String(), "a.mp4")
	assert.Contains(t, file.String(), "msg=\"flow written\"")
	assert.Contains(t, file.String(), "pairs=4")
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	var console, file bytes.Buffer
	logger := NewLogger(Options{Console: &console, File: &file, Level: slog.LevelWarn, NoColor: true})

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, console.String(), "hidden")
	assert.NotContains(t, file.String(), "hidden")
	assert.Contains(t, file.String(), "shown")
}

func TestNewLogger_WithAttrsReachesBothSinks(t *testing.T) {
	var console, file bytes.Buffer
	logger := NewLogger(Options{Console: &console, File: &file, NoColor: true}).With("run", "r1")

	logger.Info("started")

	assert.Contains(t, console.String(), "r1")
	assert.Contains(t, file.String(), "run=r1")
}

func TestDiscard(t *testing.T) {
	// Must not panic and must not be enabled for any level.
	logger := Discard()
	logger.Error("dropped")
	assert.False(t, logger.Enabled(t.Context(), slog.LevelError))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
