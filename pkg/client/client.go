// Package client provides the high-level MCP client: connect, tool catalog,
// tool invocation, health checks, and reconnection over any transport.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/dbxops/mcpwire/pkg/errors"
	"github.com/dbxops/mcpwire/pkg/logging"
	"github.com/dbxops/mcpwire/pkg/observability"
	"github.com/dbxops/mcpwire/pkg/protocol"
	"github.com/dbxops/mcpwire/pkg/session"
	"github.com/dbxops/mcpwire/pkg/transport"
)

const (
	defaultClientName       = "mcpwire"
	defaultClientVersion    = "0.1.0"
	defaultReconnectDelay   = 1 * time.Second
	defaultReconnectRetries = 1
)

// ErrAlreadyConnected is returned by Connect on a client that already holds
// an active session. A client owns at most one session at a time; Disconnect
// first.
var ErrAlreadyConnected = errors.New("client already connected")

// Client is an MCP client over a single logical connection. All methods are
// safe for concurrent use; in-flight calls are correlated by request id, so
// slow calls never block fast ones.
type Client struct {
	mu        sync.Mutex
	transport transport.Transport
	session   *session.Manager
	connected bool
	degraded  bool

	catalogMu sync.RWMutex
	catalog   []protocol.Tool

	transportConfig  transport.TransportConfig
	transportFactory func() (transport.Transport, error)
	clientInfo       protocol.ClientInfo
	capabilities     map[string]any

	reconnectDelay   time.Duration
	reconnectRetries uint

	notificationCallback func(ctx context.Context, n *protocol.Notification)

	logger  logging.Logger
	metrics observability.MetricsProvider
}

// Option configures a Client
type Option func(*Client)

// WithClientInfo sets the client identity sent at initialize
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientInfo = protocol.ClientInfo{Name: name, Version: version}
	}
}

// WithCapabilities sets the declared client capability set
func WithCapabilities(capabilities map[string]any) Option {
	return func(c *Client) { c.capabilities = capabilities }
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the metrics provider
func WithMetrics(metrics observability.MetricsProvider) Option {
	return func(c *Client) { c.metrics = metrics }
}

// WithReconnectDelay sets the fixed wait inserted between teardown and the
// reconnect attempt. Default 1s.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// WithReconnectRetries sets how many connect attempts Reconnect makes before
// giving up. Default 1: one attempt, no internal retry loop; the caller
// decides whether to try again.
func WithReconnectRetries(n uint) Option {
	return func(c *Client) { c.reconnectRetries = n }
}

// WithTransportFactory overrides how connection transports are built. Each
// Connect invokes the factory once, so reconnect cycles always get a fresh
// transport.
func WithTransportFactory(factory func() (transport.Transport, error)) Option {
	return func(c *Client) { c.transportFactory = factory }
}

// WithNotificationCallback registers a callback for server push
// notifications.
func WithNotificationCallback(fn func(ctx context.Context, n *protocol.Notification)) Option {
	return func(c *Client) { c.notificationCallback = fn }
}

// New creates a client for the given transport configuration. No connection
// is opened until Connect.
func New(config transport.TransportConfig, options ...Option) *Client {
	c := &Client{
		transportConfig:  config,
		clientInfo:       protocol.ClientInfo{Name: defaultClientName, Version: defaultClientVersion},
		reconnectDelay:   defaultReconnectDelay,
		reconnectRetries: defaultReconnectRetries,
		logger:           logging.Noop(),
		metrics:          observability.NewNoopMetricsProvider(),
	}
	for _, option := range options {
		option(c)
	}
	c.logger = c.logger.WithFields(logging.String("component", "client"))
	return c
}

// Connect opens the transport, performs the initialize handshake, and
// prefetches the tool catalog. A catalog fetch failure does not fail the
// connection: the client comes up degraded with an empty catalog and the
// failure is logged, since the session itself is healthy.
//
// Connecting an already-connected client returns ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}

	// Each connection cycle gets a fresh transport; a stopped transport is
	// never restarted.
	t, err := c.newTransport()
	if err != nil {
		return mcperrors.NewConnectError(err)
	}
	t.SetNotificationHandler(c.handleNotification)

	if err := t.Initialize(ctx); err != nil {
		if !mcperrors.IsConnectError(err) {
			return mcperrors.NewConnectError(err)
		}
		return err
	}

	sessOptions := []session.Option{
		session.WithLogger(c.logger),
	}
	if c.capabilities != nil {
		sessOptions = append(sessOptions, session.WithCapabilities(c.capabilities))
	}
	if c.transportConfig.Type == transport.TransportTypeStdio {
		sessOptions = append(sessOptions, session.WithLocalSessionIDs())
	}
	sess := session.NewManager(t, c.clientInfo, sessOptions...)

	sessionID, err := sess.Initialize(ctx)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.Stop(stopCtx)
		return err
	}

	c.transport = t
	c.session = sess
	c.connected = true
	c.degraded = false
	c.metrics.RecordSessionOpened()

	tools, err := c.fetchCatalog(ctx, t)
	if err != nil {
		c.degraded = true
		c.setCatalog(nil)
		c.logger.WithError(mcperrors.NewCatalogFetchError(err)).Warn(
			"connected without tool catalog",
			logging.String("session_id", sessionID))
		return nil
	}
	c.setCatalog(tools)

	c.logger.Info("connected",
		logging.String("session_id", sessionID),
		logging.Int("tools", len(tools)))
	return nil
}

// Connected reports whether the client currently holds a session
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Degraded reports whether the client is connected but without a tool
// catalog.
func (c *Client) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.degraded
}

// SessionID returns the current session identifier, empty when disconnected
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.SessionID()
}

// ListTools returns the tool catalog captured at connect time. It is a local
// read: no request is sent, and callers get a copy they may mutate freely.
func (c *Client) ListTools() []protocol.Tool {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	tools := make([]protocol.Tool, len(c.catalog))
	copy(tools, c.catalog)
	return tools
}

// RefreshTools refetches the tool catalog over the current session and
// replaces the cached copy. Clears the degraded flag on success.
func (c *Client) RefreshTools(ctx context.Context) ([]protocol.Tool, error) {
	t, sess, err := c.connection()
	if err != nil {
		return nil, err
	}
	if err := sess.RequireActive(); err != nil {
		return nil, err
	}
	tools, err := c.fetchCatalog(ctx, t)
	if err != nil {
		return nil, mcperrors.NewCatalogFetchError(err)
	}
	c.setCatalog(tools)
	c.mu.Lock()
	c.degraded = false
	c.mu.Unlock()
	return tools, nil
}

// CallTool invokes a named tool. Every failure mode that leaves the session
// usable (server error reply, timeout, unknown tool, malformed result) is
// folded into a normal CallToolResult with IsError set, so callers handle one
// shape. Only a hard transport loss surfaces as a Go error, because at that
// point the session itself is gone.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*protocol.CallToolResult, error) {
	t, sess, err := c.connection()
	if err != nil {
		return nil, err
	}
	if err := sess.RequireActive(); err != nil {
		return nil, err
	}

	params := &protocol.CallToolParams{Name: name, Arguments: arguments}

	start := time.Now()
	raw, err := t.SendRequest(ctx, protocol.MethodCallTool, params)
	duration := time.Since(start)

	if err != nil {
		if mcperrors.IsTransportClosed(err) {
			sess.MarkFailed()
			c.metrics.RecordToolCall(name, "transport_error", duration)
			return nil, err
		}
		c.metrics.RecordToolCall(name, "error", duration)
		return protocol.NewToolError("Error calling tool %s: %v", name, err), nil
	}

	var result protocol.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.metrics.RecordToolCall(name, "error", duration)
		return protocol.NewToolError("Error calling tool %s: malformed result: %v", name, err), nil
	}

	status := "ok"
	if result.IsError {
		status = "tool_error"
	}
	c.metrics.RecordToolCall(name, status, duration)
	return &result, nil
}

// HealthCheck probes the session with a catalog round trip and reports
// whether it succeeded. It never returns an error and never touches the
// cached catalog.
func (c *Client) HealthCheck(ctx context.Context) bool {
	t, sess, err := c.connection()
	if err != nil {
		return false
	}
	if sess.RequireActive() != nil {
		return false
	}
	_, err = t.SendRequest(ctx, protocol.MethodListTools, &protocol.ListToolsParams{})
	if err != nil {
		if mcperrors.IsTransportClosed(err) {
			sess.MarkFailed()
		}
		c.logger.WithError(err).Debug("health check failed")
		return false
	}
	return true
}

// Ping sends a protocol-level ping over the current session
func (c *Client) Ping(ctx context.Context) error {
	t, sess, err := c.connection()
	if err != nil {
		return err
	}
	if err := sess.RequireActive(); err != nil {
		return err
	}
	_, err = t.SendRequest(ctx, protocol.MethodPing, &protocol.PingParams{})
	return err
}

// Disconnect shuts the session down and releases the transport. The shutdown
// handshake is best-effort; local cleanup always completes, so Disconnect on
// a client whose server is already gone still leaves the client fully
// disconnected. Disconnecting a disconnected client is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	t := c.transport
	sess := c.session
	c.transport = nil
	c.session = nil
	c.connected = false
	c.degraded = false
	c.mu.Unlock()

	sess.Shutdown(ctx)
	if err := t.Stop(ctx); err != nil && !errors.Is(err, transport.ErrAlreadyStopped) {
		c.logger.WithError(err).Warn("transport stop failed")
	}

	c.setCatalog(nil)
	c.metrics.RecordSessionClosed()
	c.logger.Info("disconnected")
	return nil
}

func (c *Client) newTransport() (transport.Transport, error) {
	if c.transportFactory != nil {
		return c.transportFactory()
	}
	return transport.NewTransport(c.transportConfig)
}

func (c *Client) connection() (transport.Transport, *session.Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.transport == nil || c.session == nil {
		return nil, nil, mcperrors.NewSessionNotActiveError("disconnected")
	}
	return c.transport, c.session, nil
}

func (c *Client) fetchCatalog(ctx context.Context, t transport.Transport) ([]protocol.Tool, error) {
	raw, err := t.SendRequest(ctx, protocol.MethodListTools, &protocol.ListToolsParams{})
	if err != nil {
		return nil, err
	}
	var result protocol.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}
	return result.Tools, nil
}

func (c *Client) setCatalog(tools []protocol.Tool) {
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	c.catalog = tools
}

func (c *Client) handleNotification(ctx context.Context, n *protocol.Notification) {
	c.logger.Debug("notification received", logging.String("method", n.Method))
	if c.notificationCallback != nil {
		c.notificationCallback(ctx, n)
	}
}
