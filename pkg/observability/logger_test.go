package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolwelfare/caseboard/pkg/contextkeys"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.Info("info message")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "info message", entry["msg"])

	buf.Reset()
	logger.Warnf("warn %d", 2)
	entry = decodeLine(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "warn 2", entry["msg"])
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithFields(map[string]interface{}{"user": "u1", "count": 3}).
		WithError(errors.New("boom")).
		Error("failed")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "u1", entry["user"])
	assert.Equal(t, float64(3), entry["count"])
	assert.Equal(t, "boom", entry["error"])
	assert.Same(t, logger, logger.WithError(nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, "WARN", WarnLevel.String())
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), base)
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, "u-9")

	FromContext(ctx).Info("hello")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "u-9", entry["user_id"])
}

func TestGetLogger_Default(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
	assert.Equal(t, ErrorLevel, NopLogger().Level())
}
