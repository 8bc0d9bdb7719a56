package transport

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dbxops/mcpwire/pkg/observability"
)

// ObservabilityMiddleware records request metrics and client spans around
// every send.
type ObservabilityMiddleware struct {
	metrics observability.MetricsProvider
	tracing *observability.TracingProvider
}

// NewObservabilityMiddleware creates an observability middleware. Either
// provider may be nil.
func NewObservabilityMiddleware(metrics observability.MetricsProvider, tracing *observability.TracingProvider) Middleware {
	if metrics == nil {
		metrics = observability.NoopMetricsProvider{}
	}
	return &ObservabilityMiddleware{metrics: metrics, tracing: tracing}
}

// Wrap implements the Middleware interface
func (m *ObservabilityMiddleware) Wrap(transport Transport) Transport {
	return &observabilityTransport{
		middlewareTransport: middlewareTransport{next: transport},
		middleware:          m,
	}
}

type observabilityTransport struct {
	middlewareTransport
	middleware *ObservabilityMiddleware
}

func (t *observabilityTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if t.middleware.tracing != nil {
		var span trace.Span
		ctx, span = t.middleware.tracing.StartMethodSpan(ctx, method, trace.SpanKindClient)
		defer span.End()
	}

	start := time.Now()
	result, err := t.next.SendRequest(ctx, method, params)
	status := "ok"
	if err != nil {
		status = "error"
		if t.middleware.tracing != nil {
			t.middleware.tracing.RecordError(ctx, err)
		}
	}
	t.middleware.metrics.RecordRequest(method, status, time.Since(start))
	return result, err
}

func (t *observabilityTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	start := time.Now()
	err := t.next.SendNotification(ctx, method, params)
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.middleware.metrics.RecordRequest(method, status, time.Since(start))
	return err
}
