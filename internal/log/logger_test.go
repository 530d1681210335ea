package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG")
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger = newLogger(&buf, "info")

	WithComponent("dispatch").Info("hello")

	out := decodeLine(t, &buf)
	assert.Equal(t, "dispatch", out["component"])
	assert.Equal(t, "hello", out["msg"])
}

func TestWithJob(t *testing.T) {
	var buf bytes.Buffer
	logger = newLogger(&buf, "info")

	WithJob("job-123").Info("running")

	out := decodeLine(t, &buf)
	assert.Equal(t, "job-123", out["job_id"])
}

func TestWithClient(t *testing.T) {
	var buf bytes.Buffer
	logger = newLogger(&buf, "info")

	WithClient("10.0.0.7", "video").Warn("slow")

	out := decodeLine(t, &buf)
	assert.Equal(t, "10.0.0.7", out["client_id"])
	assert.Equal(t, "video", out["service"])
	assert.Equal(t, "WARN", out["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger = newLogger(&buf, "warn")

	Info("dropped")
	assert.Zero(t, buf.Len())

	Error("kept")
	assert.Contains(t, buf.String(), "kept")
}
