package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	mcperrors "github.com/dbxops/mcpwire/pkg/errors"
	"github.com/dbxops/mcpwire/pkg/logging"
	"github.com/dbxops/mcpwire/pkg/protocol"
)

// HTTPTransport implements Transport as plain request/response HTTP POST:
// every call opens its own short-lived exchange and the response arrives in
// the POST body. There is no persistent connection and no push channel, so
// Stop has nothing to release beyond marking the transport closed.
type HTTPTransport struct {
	*BaseTransport
	endpoint       string
	client         *http.Client
	headers        map[string]string
	requestTimeout time.Duration
	logger         logging.Logger
	running        atomic.Bool
}

func newHTTPTransport(config TransportConfig) (Transport, error) {
	return &HTTPTransport{
		BaseTransport:  NewBaseTransport("http"),
		endpoint:       config.Endpoint,
		client:         &http.Client{Timeout: config.Connection.RequestTimeout},
		headers:        config.Headers,
		requestTimeout: config.Connection.RequestTimeout,
		logger:         config.Logger.WithFields(logging.String("component", "http")),
	}, nil
}

// Initialize validates the endpoint. No connection is held open for this
// variant, so there is nothing else to establish.
func (t *HTTPTransport) Initialize(ctx context.Context) error {
	u, err := url.Parse(t.endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return mcperrors.NewConnectError(fmt.Errorf("invalid endpoint %q", t.endpoint))
	}
	t.running.Store(true)
	return nil
}

// SendRequest sends one request as its own HTTP exchange and decodes the
// response from the POST body.
func (t *HTTPTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if t.Closed() || !t.running.Load() {
		return nil, mcperrors.NewTransportClosedError(nil)
	}

	id := t.GenerateID()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.NewInternalError("failed to build request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	body, err := t.exchange(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, mcperrors.NewTimeoutError(method, err)
		}
		return nil, err
	}

	var resp protocol.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, mcperrors.NewInternalError("malformed response body", err)
	}
	if fmt.Sprintf("%v", resp.ID) != id {
		return nil, mcperrors.NewInternalError(
			fmt.Sprintf("response id %v does not match request id %s", resp.ID, id), nil)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// SendNotification sends a one-way message; any response body is discarded.
func (t *HTTPTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	if t.Closed() || !t.running.Load() {
		return mcperrors.NewTransportClosedError(nil)
	}

	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.NewInternalError("failed to build notification", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	_, err = t.exchange(callCtx, n)
	return err
}

// exchange performs one POST round trip and returns the raw response body.
func (t *HTTPTransport) exchange(ctx context.Context, message interface{}) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, mcperrors.NewInternalError("failed to marshal message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, mcperrors.NewInternalError("failed to build HTTP request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(protocol.SessionIDHeader, sid)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, mcperrors.NewTransportClosedError(err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(protocol.SessionIDHeader); sid != "" && sid != t.SessionID() {
		t.SetSessionID(sid)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mcperrors.NewTransportClosedError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Stop marks the transport closed. With no persistent connection, the no-op
// release is the correct behavior for this variant.
func (t *HTTPTransport) Stop(ctx context.Context) error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}
	t.FailPending(nil)
	return nil
}
