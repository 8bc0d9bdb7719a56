package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestTracingProviderNoopExporter(t *testing.T) {
	p, err := NewTracingProvider(TracingConfig{
		ServiceName:  "test",
		ExporterType: ExporterTypeNoop,
	})
	if err != nil {
		t.Fatalf("NewTracingProvider failed: %v", err)
	}
	defer p.Shutdown(context.Background())

	ctx, span := p.StartMethodSpan(context.Background(), "tools/call", trace.SpanKindClient)
	if !span.SpanContext().IsValid() {
		t.Error("Expected a valid span context")
	}
	p.RecordError(ctx, errors.New("boom"))
	span.End()
}

func TestTracingProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracingProvider(TracingConfig{ExporterType: "carrier-pigeon"})
	if err == nil {
		t.Error("Expected an error for an unknown exporter type")
	}
}
