// Package observability provides metrics and tracing for the protocol core.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName string

	// Prometheus namespace (default: mcpwire)
	Namespace string

	// HTTP scrape endpoint; the server is only started when MetricsPort > 0
	MetricsPath string
	MetricsPort int

	// Custom histogram buckets for request latency
	HistogramBuckets []float64

	// Labels added to all metrics
	ConstLabels prometheus.Labels
}

// MetricsProvider records protocol-level metrics.
type MetricsProvider interface {
	RecordRequest(method, status string, duration time.Duration)
	RecordToolCall(tool, status string, duration time.Duration)
	RecordReconnect(status string)
	RecordSessionOpened()
	RecordSessionClosed()

	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// PrometheusMetricsProvider implements MetricsProvider using Prometheus
type PrometheusMetricsProvider struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	toolCallTotal   *prometheus.CounterVec
	toolCallTime    *prometheus.HistogramVec
	reconnectTotal  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// NewPrometheusMetricsProvider creates a metrics provider with its own
// registry so independent clients never collide on registration.
func NewPrometheusMetricsProvider(config MetricsConfig) *PrometheusMetricsProvider {
	if config.Namespace == "" {
		config.Namespace = "mcpwire"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = prometheus.DefBuckets
	}

	p := &PrometheusMetricsProvider{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	p.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "requests_total",
		Help:        "JSON-RPC requests sent, by method and status.",
		ConstLabels: config.ConstLabels,
	}, []string{"method", "status"})

	p.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   config.Namespace,
		Name:        "request_duration_seconds",
		Help:        "JSON-RPC request latency, by method.",
		Buckets:     config.HistogramBuckets,
		ConstLabels: config.ConstLabels,
	}, []string{"method"})

	p.toolCallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "tool_calls_total",
		Help:        "Tool invocations, by tool name and status.",
		ConstLabels: config.ConstLabels,
	}, []string{"tool", "status"})

	p.toolCallTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   config.Namespace,
		Name:        "tool_call_duration_seconds",
		Help:        "Tool invocation latency, by tool name.",
		Buckets:     config.HistogramBuckets,
		ConstLabels: config.ConstLabels,
	}, []string{"tool"})

	p.reconnectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "reconnects_total",
		Help:        "Reconnect attempts, by outcome.",
		ConstLabels: config.ConstLabels,
	}, []string{"status"})

	p.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   config.Namespace,
		Name:        "active_sessions",
		Help:        "Currently active sessions.",
		ConstLabels: config.ConstLabels,
	})

	p.registry.MustRegister(
		p.requestTotal,
		p.requestDuration,
		p.toolCallTotal,
		p.toolCallTime,
		p.reconnectTotal,
		p.activeSessions,
	)

	return p
}

// RecordRequest records an outgoing JSON-RPC request
func (p *PrometheusMetricsProvider) RecordRequest(method, status string, duration time.Duration) {
	p.requestTotal.WithLabelValues(method, status).Inc()
	p.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordToolCall records a tool invocation
func (p *PrometheusMetricsProvider) RecordToolCall(tool, status string, duration time.Duration) {
	p.toolCallTotal.WithLabelValues(tool, status).Inc()
	p.toolCallTime.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordReconnect records a reconnect attempt outcome
func (p *PrometheusMetricsProvider) RecordReconnect(status string) {
	p.reconnectTotal.WithLabelValues(status).Inc()
}

// RecordSessionOpened increments the active session gauge
func (p *PrometheusMetricsProvider) RecordSessionOpened() {
	p.activeSessions.Inc()
}

// RecordSessionClosed decrements the active session gauge
func (p *PrometheusMetricsProvider) RecordSessionClosed() {
	p.activeSessions.Dec()
}

// Registry exposes the underlying registry, mainly for tests.
func (p *PrometheusMetricsProvider) Registry() *prometheus.Registry {
	return p.registry
}

// Start launches the scrape endpoint when a port is configured.
func (p *PrometheusMetricsProvider) Start(ctx context.Context) error {
	if p.config.MetricsPort <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))

	p.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", p.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Shutdown stops the scrape endpoint if one was started.
func (p *PrometheusMetricsProvider) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

// NoopMetricsProvider discards all measurements.
type NoopMetricsProvider struct{}

// NewNoopMetricsProvider returns a provider that discards all measurements.
func NewNoopMetricsProvider() MetricsProvider {
	return NoopMetricsProvider{}
}

func (NoopMetricsProvider) RecordRequest(string, string, time.Duration)  {}
func (NoopMetricsProvider) RecordToolCall(string, string, time.Duration) {}
func (NoopMetricsProvider) RecordReconnect(string)                       {}
func (NoopMetricsProvider) RecordSessionOpened()                         {}
func (NoopMetricsProvider) RecordSessionClosed()                         {}
func (NoopMetricsProvider) Start(context.Context) error                  { return nil }
func (NoopMetricsProvider) Shutdown(context.Context) error               { return nil }
