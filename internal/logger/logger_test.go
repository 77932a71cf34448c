package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestStatusTransitionJSON(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "info", "json")
	defer Initialize("info", "text")

	StatusTransition("header", "txn-1", "ACTIVE", "LATE", "SCHEDULED_UPDATE", "batch_id", "b-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Rental status changed", rec["msg"])
	assert.Equal(t, "rental-status", rec["app"])
	assert.Equal(t, "LATE", rec["new_status"])
	assert.Equal(t, "b-1", rec["batch_id"])
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "info", "text")
	defer Initialize("info", "text")

	DatabaseCall("PurgeBefore", "DELETE FROM rental_status_logs")
	CacheCall("SetNX", "rental-status:batch")
	assert.Empty(t, buf.String())

	DatabaseResult("PurgeBefore", 0, errors.New("boom"))
	assert.Contains(t, buf.String(), "Database call failed")
}
