// Package transport provides a config-driven transport layer for MCP
// communication.
//
// A Transport moves raw JSON-RPC envelopes between client and server without
// interpreting them. Three variants are provided: a streaming HTTP transport
// (POST requests multiplexed with an SSE push channel), a plain
// request/response HTTP POST transport, and a local subprocess pipe.
//
// Usage:
//
//	config := transport.DefaultTransportConfig(transport.TransportTypeStreamableHTTP)
//	config.Endpoint = "https://api.example.com/mcp"
//	t, err := transport.NewTransport(config)
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	mcperrors "github.com/dbxops/mcpwire/pkg/errors"
	"github.com/dbxops/mcpwire/pkg/logging"
	"github.com/dbxops/mcpwire/pkg/observability"
	"github.com/dbxops/mcpwire/pkg/protocol"
)

// Transport defines the core interface all transport mechanisms implement.
type Transport interface {
	// Initialize opens the underlying connection and starts the receive
	// machinery. It applies the configured connect timeout and fails fast
	// rather than hang.
	Initialize(ctx context.Context) error

	// SendRequest transmits one JSON-RPC request and waits for the
	// correlated response, up to the configured request timeout. A JSON-RPC
	// error reply is returned as a *protocol.Error.
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// SendNotification transmits a one-way message.
	SendNotification(ctx context.Context, method string, params interface{}) error

	// SetNotificationHandler registers the handler for push-style inbound
	// notifications that correlate to no pending request.
	SetNotificationHandler(handler NotificationHandler)

	// SessionID returns the current session identifier, empty until one has
	// been captured.
	SessionID() string

	// SetSessionID installs a session identifier to attach to every
	// subsequent request.
	SetSessionID(id string)

	// Stop releases the underlying connection. Idempotent: stopping an
	// already-stopped transport is a no-op, never an error.
	Stop(ctx context.Context) error
}

// NotificationHandler handles incoming push notifications
type NotificationHandler func(ctx context.Context, n *protocol.Notification)

// TransportType identifies the base transport implementation
type TransportType string

const (
	TransportTypeStdio          TransportType = "stdio"
	TransportTypeHTTP           TransportType = "http"
	TransportTypeStreamableHTTP TransportType = "streamable_http"
)

// TransportConfig is the unified configuration for all transports
type TransportConfig struct {
	// Type of transport to create
	Type TransportType `json:"type"`

	// Endpoint for HTTP transports
	Endpoint string `json:"endpoint,omitempty"`

	// Subprocess command for the stdio transport. When empty, the stdio
	// transport uses the configured reader/writer (or stdin/stdout).
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Custom reader/writer for the stdio transport (testing, or serving on
	// the process's own pipes)
	StdioReader io.Reader `json:"-"`
	StdioWriter io.Writer `json:"-"`

	// Extra HTTP headers attached to every request
	Headers map[string]string `json:"headers,omitempty"`

	// Component configurations
	Connection ConnectionConfig `json:"connection"`

	// Observability providers; the factory wraps the transport in the
	// observability middleware when either is set.
	Metrics observability.MetricsProvider  `json:"-"`
	Tracing *observability.TracingProvider `json:"-"`

	Logger logging.Logger `json:"-"`
}

// ConnectionConfig bounds connection establishment and per-request waits.
type ConnectionConfig struct {
	ConnectTimeout time.Duration `json:"connect_timeout"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DefaultTransportConfig returns a transport configuration with sensible
// defaults: 30s to open a connection, 30s per request.
func DefaultTransportConfig(transportType TransportType) TransportConfig {
	return TransportConfig{
		Type: transportType,
		Connection: ConnectionConfig{
			ConnectTimeout: 30 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Errors
var (
	ErrUnsupportedTransportType = errors.New("unsupported transport type")
	ErrAlreadyStopped           = errors.New("transport already stopped")
)

// NewTransport creates a new transport with the specified configuration
func NewTransport(config TransportConfig) (Transport, error) {
	if err := validateTransportConfig(config); err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = logging.Noop()
	}

	var base Transport
	var err error

	switch config.Type {
	case TransportTypeStdio:
		base, err = newStdioTransport(config)
	case TransportTypeHTTP:
		base, err = newHTTPTransport(config)
	case TransportTypeStreamableHTTP:
		base, err = newStreamableHTTPTransport(config)
	default:
		return nil, ErrUnsupportedTransportType
	}

	if err != nil {
		return nil, err
	}

	if config.Metrics != nil || config.Tracing != nil {
		base = NewObservabilityMiddleware(config.Metrics, config.Tracing).Wrap(base)
	}

	return base, nil
}

func validateTransportConfig(config TransportConfig) error {
	switch config.Type {
	case TransportTypeStdio:
		return nil
	case TransportTypeHTTP, TransportTypeStreamableHTTP:
		if config.Endpoint == "" {
			return errors.New("endpoint is required for HTTP transports")
		}
		return nil
	default:
		return ErrUnsupportedTransportType
	}
}

// BaseTransport provides the pending-request table and id generation shared
// by all transport implementations. Every sent request has exactly one
// eventual resolution: a matching response by id, or a synthesized failure on
// timeout or transport death.
type BaseTransport struct {
	mu                  sync.Mutex
	pending             map[string]chan *protocol.Response
	nextID              int64
	requestIDPrefix     string
	closed              bool
	closeErr            error
	notificationHandler NotificationHandler
	sessionID           string
}

// NewBaseTransport creates a new BaseTransport
func NewBaseTransport(requestIDPrefix string) *BaseTransport {
	return &BaseTransport{
		pending:         make(map[string]chan *protocol.Response),
		nextID:          1,
		requestIDPrefix: requestIDPrefix,
	}
}

// GenerateID returns a unique request id. Ids are monotonic per connection
// and never reused while still pending.
func (t *BaseTransport) GenerateID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return fmt.Sprintf("%s-%d", t.requestIDPrefix, id)
}

// SetNotificationHandler registers the handler for inbound notifications
func (t *BaseTransport) SetNotificationHandler(handler NotificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notificationHandler = handler
}

// SessionID returns the current session identifier
func (t *BaseTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SetSessionID installs the session identifier
func (t *BaseTransport) SetSessionID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = id
}

// RegisterPending creates the response channel for a request id. It returns
// an error if the transport is already dead.
func (t *BaseTransport) RegisterPending(id string) (chan *protocol.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, mcperrors.NewTransportClosedError(t.closeErr)
	}
	ch := make(chan *protocol.Response, 1)
	t.pending[id] = ch
	return ch, nil
}

// RemovePending drops the pending entry for id, if still present. Used on
// timeout so one call's expiry never disturbs other in-flight calls.
func (t *BaseTransport) RemovePending(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// HandleResponse resolves the pending request matching the response id.
// Responses with no matching pending entry are dropped.
func (t *BaseTransport) HandleResponse(response *protocol.Response) {
	id := fmt.Sprintf("%v", response.ID)
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok {
		ch <- response
	}
}

// HandleNotification delivers an inbound notification to the registered
// handler, if any.
func (t *BaseTransport) HandleNotification(ctx context.Context, n *protocol.Notification) {
	t.mu.Lock()
	handler := t.notificationHandler
	t.mu.Unlock()
	if handler != nil {
		handler(ctx, n)
	}
}

// WaitForResponse blocks until the response for id arrives, the context is
// done, or the transport dies. On context expiry only this request's entry is
// removed.
func (t *BaseTransport) WaitForResponse(ctx context.Context, id string, ch chan *protocol.Response) (*protocol.Response, error) {
	select {
	case response, ok := <-ch:
		if !ok {
			t.mu.Lock()
			cause := t.closeErr
			t.mu.Unlock()
			return nil, mcperrors.NewTransportClosedError(cause)
		}
		return response, nil
	case <-ctx.Done():
		t.RemovePending(id)
		return nil, ctx.Err()
	}
}

// FailPending marks the transport dead and fails every currently pending
// request, since no further correlation is possible.
func (t *BaseTransport) FailPending(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeErr = cause
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// Closed reports whether the transport has been marked dead.
func (t *BaseTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
