package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusProviderRecordsRequests(t *testing.T) {
	p := NewPrometheusMetricsProvider(MetricsConfig{ServiceName: "test"})

	p.RecordRequest("tools/call", "ok", 10*time.Millisecond)
	p.RecordRequest("tools/call", "ok", 20*time.Millisecond)
	p.RecordRequest("tools/list", "error", 5*time.Millisecond)

	if got := testutil.ToFloat64(p.requestTotal.WithLabelValues("tools/call", "ok")); got != 2 {
		t.Errorf("Expected 2 ok tools/call requests, got %v", got)
	}
	if got := testutil.ToFloat64(p.requestTotal.WithLabelValues("tools/list", "error")); got != 1 {
		t.Errorf("Expected 1 error tools/list request, got %v", got)
	}
}

func TestPrometheusProviderSessionGauge(t *testing.T) {
	p := NewPrometheusMetricsProvider(MetricsConfig{})

	p.RecordSessionOpened()
	p.RecordSessionOpened()
	p.RecordSessionClosed()

	if got := testutil.ToFloat64(p.activeSessions); got != 1 {
		t.Errorf("Expected 1 active session, got %v", got)
	}
}

func TestPrometheusProviderReconnects(t *testing.T) {
	p := NewPrometheusMetricsProvider(MetricsConfig{})

	p.RecordReconnect("ok")
	p.RecordReconnect("error")
	p.RecordReconnect("error")

	if got := testutil.ToFloat64(p.reconnectTotal.WithLabelValues("error")); got != 2 {
		t.Errorf("Expected 2 failed reconnects, got %v", got)
	}
}

// Independent providers hold independent registries; constructing two must
// not panic on duplicate registration.
func TestProvidersDoNotCollide(t *testing.T) {
	a := NewPrometheusMetricsProvider(MetricsConfig{})
	b := NewPrometheusMetricsProvider(MetricsConfig{})

	a.RecordToolCall("echo", "ok", time.Millisecond)
	b.RecordToolCall("echo", "ok", time.Millisecond)

	if got := testutil.ToFloat64(a.toolCallTotal.WithLabelValues("echo", "ok")); got != 1 {
		t.Errorf("Expected isolated counters, got %v", got)
	}
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopMetricsProvider()
	p.RecordRequest("m", "ok", time.Millisecond)
	p.RecordSessionOpened()
	if err := p.Start(context.Background()); err != nil {
		t.Errorf("Noop Start failed: %v", err)
	}
}
