package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func attrMap(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestStartSpan_WithOptions(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "bulk.run",
		WithAttribute(SpanAttrRequestID, "req-1"),
		WithAttribute(SpanAttrTotalRows, 120),
		WithSpanKind(trace.SpanKindConsumer),
	)
	assert.NotEmpty(t, GetTraceID(ctx))
	assert.NotEmpty(t, GetSpanID(ctx))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "bulk.run", spans[0].Name())
	assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind())

	attrs := attrMap(spans[0])
	assert.Equal(t, "req-1", attrs[SpanAttrRequestID].AsString())
	assert.Equal(t, int64(120), attrs[SpanAttrTotalRows].AsInt64())
}

func TestStartServiceSpan_Name(t *testing.T) {
	recorder := installRecorder(t)

	_, span := StartServiceSpan(context.Background(), "UploadOrchestrator", "InitiateUpload")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "UploadOrchestrator.InitiateUpload", recorder.Ended()[0].Name())
}

func TestSpanHelpers(t *testing.T) {
	recorder := installRecorder(t)

	_, span := StartSpan(context.Background(), "helpers")
	SetAttributes(span, SpanAttrSizeBytes, uint64(2048), "flag", true, "dangling")
	AddEvent(span, "rows_flushed", "count", 50)
	RecordError(span, errors.New("boom"))
	span.End()

	s := recorder.Ended()[0]
	attrs := attrMap(s)
	assert.Equal(t, int64(2048), attrs[SpanAttrSizeBytes].AsInt64())
	assert.True(t, attrs["flag"].AsBool())
	_, dangling := attrs["dangling"]
	assert.False(t, dangling)

	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Equal(t, "boom", s.Status().Description)

	var names []string
	for _, e := range s.Events() {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "rows_flushed")
	assert.Contains(t, names, "exception")
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		SetAttributes(nil, "a", 1)
		RecordError(nil, errors.New("x"))
		SetOK(nil)
		AddEvent(nil, "e")
	})
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetSpanID(context.Background()))
}

func TestToAttribute(t *testing.T) {
	assert.Equal(t, attribute.String("k", "v"), toAttribute("k", "v"))
	assert.Equal(t, attribute.Int64("k", 5), toAttribute("k", int64(5)))
	assert.Equal(t, attribute.Float64("k", 1.5), toAttribute("k", 1.5))
	assert.Equal(t, attribute.StringSlice("k", []string{"a"}), toAttribute("k", []string{"a"}))
	assert.Equal(t, attribute.String("k", "1s"), toAttribute("k", time.Second))
	assert.Equal(t, attribute.String("k", "{1}"), toAttribute("k", struct{ A int }{1}))
}
