package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T, detailed bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, InitWithConfig(LogConfig{Level: "DEBUG", Format: "json", DetailedLogging: detailed, Output: &buf}))
	t.Cleanup(func() { _ = InitWithConfig(LogConfig{Output: io.Discard}) })
	return &buf
}

func TestOperationEndWithErrorLogsWarning(t *testing.T) {
	buf := captureJSON(t, false)

	op := StartOperation(context.Background(), "llm.decide", "asset", "BTC/USDT")
	require.NotNil(t, op.Context())
	op.EndWithError(errors.New("malformed answer"), "attempts", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "Operation failed", line["msg"])
	assert.Equal(t, "BTC/USDT", line["asset"])
	assert.Equal(t, "malformed answer", line["error"])
	assert.EqualValues(t, 3, line["attempts"])
}

func TestOperationEndQuietUnlessDetailed(t *testing.T) {
	buf := captureJSON(t, false)
	StartOperation(context.Background(), "llm.decide", "asset", "ETH/USDT").End("action", "HOLD")
	assert.Zero(t, buf.Len())

	buf = captureJSON(t, true)
	StartOperation(context.Background(), "llm.decide", "asset", "ETH/USDT").End("action", "HOLD")
	assert.Contains(t, buf.String(), `"msg":"Operation completed"`)
	assert.Contains(t, buf.String(), `"action":"HOLD"`)
}

func TestRiskLogsAtWarn(t *testing.T) {
	buf := captureJSON(t, false)
	Risk(context.Background(), "SOL/USDT", "ConflictingSignal", "detail", "opposite pair legs")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "RISK", line["type"])
	assert.Equal(t, "ConflictingSignal", line["event_type"])
}
