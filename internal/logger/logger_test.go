package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestRedactsIdentifiersOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO, false)

	l.Info("deck updated",
		"deck_id", "0b7c9d1e-2f3a-4b5c-8d9e-0f1a2b3c4d5e",
		"user_id", "u1",
		"password", "hunter2",
		"operation", "rename")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "deck updated", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "0b7c****", entry["deck_id"])
	assert.Equal(t, hashUserID("u1"), entry["user_id"])
	assert.Equal(t, "[REDACTED]", entry["password"])
	assert.Equal(t, "rename", entry["operation"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN, false)

	l.Info("ignored")
	assert.Zero(t, buf.Len())

	l.Error("flush failed", "error", errors.New("disk full"))
	entry := decodeLine(t, &buf)
	assert.Equal(t, "disk full", entry["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARN"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestLevelIsAppliedByBackend(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, ERROR, false)
	assert.Equal(t, zerolog.ErrorLevel, l.zl.GetLevel())

	l.Warn("ignored")
	assert.Zero(t, buf.Len())

	assert.Equal(t, zerolog.DebugLevel, DEBUG.zerologLevel())
	assert.Equal(t, zerolog.InfoLevel, INFO.zerologLevel())
	assert.Equal(t, zerolog.WarnLevel, WARN.zerologLevel())
}
