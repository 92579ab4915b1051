package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level, format string) (*Logger, *bytes.Buffer) {
	t.Helper()

	buf := &bytes.Buffer{}
	l, err := New(&Config{
		Level:      level,
		Format:     format,
		TimeFormat: time.RFC3339,
		writer:     buf,
	})
	require.NoError(t, err)
	require.NotNil(t, l)
	return l, buf
}

func decodeEntry(t *testing.T, line string) map[string]interface{} {
	t.Helper()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestNew_WriterOverride(t *testing.T) {
	// The private writer field takes precedence over Output so tests can
	// capture log lines regardless of the configured destination.
	buf := &bytes.Buffer{}
	l, err := New(&Config{
		Level:  "info",
		Format: "json",
		Output: "stderr",
		writer: buf,
	})
	require.NoError(t, err)

	l.Info("captured line", slog.String("sink", "buffer"))

	entry := decodeEntry(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, "captured line", entry["msg"])
	assert.Equal(t, "buffer", entry["sink"])
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLines int
	}{
		{name: "debug keeps everything", level: "debug", wantLines: 4},
		{name: "info drops debug", level: "info", wantLines: 3},
		{name: "warn drops info", level: "warn", wantLines: 2},
		{name: "error keeps errors only", level: "error", wantLines: 1},
		{name: "unknown level defaults to info", level: "verbose", wantLines: 3},
		{name: "empty level defaults to info", level: "", wantLines: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBufferLogger(t, tt.level, "json")

			l.Debug("fetching feed")
			l.Info("feed fetched")
			l.Warn("unit failed, scheduling retry")
			l.Error("unit exhausted retry attempts")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			assert.Len(t, lines, tt.wantLines)
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	l, buf := newBufferLogger(t, "info", "json")

	l.Info("run opened",
		slog.String("run_id", "run-1"),
		slog.Int("total_fetched", 12),
	)

	entry := decodeEntry(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "run opened", entry["msg"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, float64(12), entry["total_fetched"])
	assert.Contains(t, entry, "time")
}

func TestNew_ConsoleFormat(t *testing.T) {
	l, buf := newBufferLogger(t, "info", "console")

	l.Info("import cycle started")

	// tint renders levels as three-letter tags.
	out := buf.String()
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "import cycle started")
}

func TestNew_UnknownFormatFallsBackToJSON(t *testing.T) {
	l, buf := newBufferLogger(t, "info", "logfmt")

	l.Info("fallback")

	entry := decodeEntry(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, "fallback", entry["msg"])
}

func TestNew_SourceLocation(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := New(&Config{
		Level:        "info",
		Format:       "json",
		EnableSource: true,
		writer:       buf,
	})
	require.NoError(t, err)

	l.Info("message with source")

	entry := decodeEntry(t, strings.TrimSpace(buf.String()))
	require.Contains(t, entry, "source")
	source := entry["source"].(map[string]interface{})
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNewDefault(t *testing.T) {
	l := NewDefault()
	require.NotNil(t, l)
	assert.NotNil(t, l.Logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "info", expected: slog.LevelInfo},
		{level: "warn", expected: slog.LevelWarn},
		{level: "warning", expected: slog.LevelWarn},
		{level: "error", expected: slog.LevelError},
		// parseLevel is case-sensitive; anything else defaults to info.
		{level: "DEBUG", expected: slog.LevelInfo},
		{level: "invalid", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroup(t *testing.T) {
	l, buf := newBufferLogger(t, "info", "json")

	l.WithGroup("ledger").Info("outcome recorded", slog.String("outcome", "new"))

	entry := decodeEntry(t, strings.TrimSpace(buf.String()))
	require.Contains(t, entry, "ledger")
	group := entry["ledger"].(map[string]interface{})
	assert.Equal(t, "new", group["outcome"])
}

func TestLogger_WithAttrs(t *testing.T) {
	l, buf := newBufferLogger(t, "info", "json")

	l.WithAttrs(
		slog.String("worker_id", "upsert-worker-1a2b3c4d"),
		slog.String("run_id", "run-1"),
	).Info("unit reconciled")

	entry := decodeEntry(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, "upsert-worker-1a2b3c4d", entry["worker_id"])
	assert.Equal(t, "run-1", entry["run_id"])
}

func TestLogger_With(t *testing.T) {
	l, buf := newBufferLogger(t, "info", "json")

	l.With(slog.String("service", "job-import-api")).Info("server started")

	entry := decodeEntry(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, "job-import-api", entry["service"])
	assert.Equal(t, "server started", entry["msg"])
}
