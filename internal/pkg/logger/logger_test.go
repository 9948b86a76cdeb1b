package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	h, err := newHandler(&Config{Encoding: "json", Level: "warn"}, &buf)
	require.NoError(t, err)
	log := slog.New(h).With("app", "farm_insights")

	log.Info("dropped")
	log.Warn("kept", "farm_id", "f-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "farm_insights", line["app"])
	assert.Equal(t, "f-1", line["farm_id"])
}

func TestConsoleHandlerShortTime(t *testing.T) {
	var buf bytes.Buffer
	h, err := newHandler(&Config{AddSource: true}, &buf)
	require.NoError(t, err)

	slog.New(h).Info("hello")
	out := buf.String()
	assert.Regexp(t, `^time=\d{2}:\d{2}:\d{2}\.\d{3} `, out)
	assert.Contains(t, out, "source=logger_test.go:")
}

func TestUnknownEncoding(t *testing.T) {
	_, err := New("farm_insights", &Config{Encoding: "xml"})
	assert.Error(t, err)
}
