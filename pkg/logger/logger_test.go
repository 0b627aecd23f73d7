package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel(" debug "))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo, Format: "json"})

	log.Debug("hidden")
	log.With(Component("coin_ledger")).Info("credited", UserID("alice"), Coins(5), Err(errors.New("late")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "credited", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "coin_ledger", entry["component"])
	assert.Equal(t, "alice", entry["user_id"])
	assert.Equal(t, float64(5), entry["coins"])
	assert.Equal(t, "late", entry["error"])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	var buf bytes.Buffer
	log := New(Options{Output: &buf, Format: "json"}).WithRequestID("req-1")
	FromContext(WithContext(context.Background(), log)).Info("tagged")

	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}
