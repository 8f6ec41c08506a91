package util

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartSpanRecordsAttributesAndErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := tracer
	tracer = tp.Tracer("test")
	t.Cleanup(func() { tracer = previous })

	_, span := StartSpan(context.Background(), "PaymentService.HandleWebhook", attribute.Int64("order_id", 7))
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "PaymentService.HandleWebhook", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.Int64("order_id", 7))
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
}

func TestSetLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	previous := GetLogger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(previous) })

	GetLogger().Info("Order placed", zap.Int64("order_id", 3))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Order placed", entry.Message)
	assert.Equal(t, int64(3), entry.ContextMap()["order_id"])
}
