package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupTracing_Disabled(t *testing.T) {
	tp, err := SetupTracing(context.Background(), TracingConfig{}, "dev")
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSetupTracing_RejectsBadSamplingRate(t *testing.T) {
	_, err := SetupTracing(context.Background(), TracingConfig{Enabled: true, SamplingRate: 2}, "dev")
	assert.Error(t, err)
}

func TestSetupTracing_RejectsUnknownExporter(t *testing.T) {
	_, err := SetupTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SamplingRate: 1}, "dev")
	assert.Error(t, err)
}

func TestStartSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	_, end := StartSpan(context.Background(), "search.facets", attribute.String("executor", "concurrent"))
	end(nil)
	_, end = StartSpan(context.Background(), "search.count")
	end(errors.New("boom"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "search.facets", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("executor", "concurrent"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1)
}
