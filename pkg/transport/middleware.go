package transport

import (
	"context"
	"encoding/json"
)

// Middleware wraps a Transport to add behavior around it.
type Middleware interface {
	Wrap(transport Transport) Transport
}

// middlewareTransport forwards every Transport method to the wrapped
// transport. Concrete middleware embeds it and overrides what it needs.
type middlewareTransport struct {
	next Transport
}

func (m *middlewareTransport) Initialize(ctx context.Context) error {
	return m.next.Initialize(ctx)
}

func (m *middlewareTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return m.next.SendRequest(ctx, method, params)
}

func (m *middlewareTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	return m.next.SendNotification(ctx, method, params)
}

func (m *middlewareTransport) SetNotificationHandler(handler NotificationHandler) {
	m.next.SetNotificationHandler(handler)
}

func (m *middlewareTransport) SessionID() string { return m.next.SessionID() }

func (m *middlewareTransport) SetSessionID(id string) { m.next.SetSessionID(id) }

func (m *middlewareTransport) Stop(ctx context.Context) error { return m.next.Stop(ctx) }

// chain applies middleware in order: the first listed wraps outermost.
type chain struct {
	middleware []Middleware
}

// ChainMiddleware composes multiple middleware into one.
func ChainMiddleware(middleware ...Middleware) Middleware {
	return &chain{middleware: middleware}
}

// Wrap implements the Middleware interface
func (c *chain) Wrap(transport Transport) Transport {
	wrapped := transport
	for i := len(c.middleware) - 1; i >= 0; i-- {
		wrapped = c.middleware[i].Wrap(wrapped)
	}
	return wrapped
}
