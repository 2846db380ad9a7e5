package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func captureLog(t *testing.T, lvl zapcore.LevelEnabler) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buffer),
		lvl,
	)
	prev := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = prev })
	return buffer
}

func TestLogger_Info_WithTopicAndConn(t *testing.T) {
	buffer := captureLog(t, zap.InfoLevel)

	ctx := WithConn(WithTopic(context.Background(), "NLSUTP"), "c-1")
	Info(ctx, "batch pushed", zap.Int("records", 3))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry), "日志输出必须是合法的 JSON")

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "batch pushed", entry["msg"])
	assert.Equal(t, float64(3), entry["records"])
	assert.Equal(t, "NLSUTP", entry["topic"])
	assert.Equal(t, "c-1", entry["conn_id"])
}

func TestLogger_Error_NoContextFields(t *testing.T) {
	buffer := captureLog(t, zap.InfoLevel)

	Error(context.Background(), "poll failed", zap.String("source", "kafka"))

	var entry map[string]interface{}
	_ = json.Unmarshal(buffer.Bytes(), &entry)

	_, exists := entry["topic"]
	assert.False(t, exists, "ctx 里没有 topic 时不应该输出 topic 字段")
	assert.Equal(t, "error", entry["level"])
}

func TestLogger_TraceIDFromSpan(t *testing.T) {
	buffer := captureLog(t, zap.InfoLevel)

	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    oteltrace.TraceID{0x01, 0x02},
		SpanID:     oteltrace.SpanID{0x03},
		TraceFlags: oteltrace.FlagsSampled,
	})
	ctx := oteltrace.ContextWithSpanContext(context.Background(), sc)
	Info(ctx, "publish")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))
	assert.Equal(t, sc.TraceID().String(), entry["trace_id"])
	assert.Equal(t, sc.SpanID().String(), entry["span_id"])
}

func TestLogger_SetLevel(t *testing.T) {
	prev := Level()
	t.Cleanup(func() { level.SetLevel(prev) })

	buffer := captureLog(t, level)

	assert.True(t, SetLevel("warn"))
	Info(context.Background(), "hidden")
	assert.Zero(t, buffer.Len())

	Warn(context.Background(), "shown")
	assert.Contains(t, buffer.String(), "shown")

	assert.False(t, SetLevel("loud"))
	assert.Equal(t, zapcore.WarnLevel, Level())
}

func TestLogger_NopBeforeInit(t *testing.T) {
	// 未 Init 时不能 panic
	assert.NotPanics(t, func() {
		Debug(context.Background(), "nothing")
	})
}
