package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tmaxmax/go-sse"

	mcperrors "github.com/dbxops/mcpwire/pkg/errors"
	"github.com/dbxops/mcpwire/pkg/logging"
	"github.com/dbxops/mcpwire/pkg/protocol"
)

// StreamableHTTPTransport implements Transport over the streamable HTTP
// protocol: requests travel as POSTs multiplexed on one endpoint, and a
// long-lived GET on the same endpoint delivers server push notifications.
//
// The push channel may drop and be reopened by the server at any time; the
// session id, not the connection, is the unit of continuity, so the listener
// reconnects on its own without touching session state.
type StreamableHTTPTransport struct {
	*BaseTransport
	endpoint       string
	postClient     *http.Client
	sseClient      *http.Client
	headers        map[string]string
	connectTimeout time.Duration
	requestTimeout time.Duration
	logger         logging.Logger

	running      atomic.Bool
	listenerUp   atomic.Bool
	stopCh       chan struct{}
	listenerDone chan struct{}
}

func newStreamableHTTPTransport(config TransportConfig) (Transport, error) {
	return &StreamableHTTPTransport{
		BaseTransport:  NewBaseTransport("streamable-http"),
		endpoint:       config.Endpoint,
		postClient:     &http.Client{Timeout: config.Connection.RequestTimeout},
		sseClient:      &http.Client{}, // no client timeout: the GET stream is long-lived
		headers:        config.Headers,
		connectTimeout: config.Connection.ConnectTimeout,
		requestTimeout: config.Connection.RequestTimeout,
		logger:         config.Logger.WithFields(logging.String("component", "streamable_http")),
		stopCh:         make(chan struct{}),
		listenerDone:   make(chan struct{}),
	}, nil
}

// Initialize validates the endpoint and marks the transport ready. The push
// listener is opened lazily once a session id exists, since the server tags
// the GET stream by session.
func (t *StreamableHTTPTransport) Initialize(ctx context.Context) error {
	u, err := url.Parse(t.endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return mcperrors.NewConnectError(fmt.Errorf("invalid endpoint %q", t.endpoint))
	}
	t.running.Store(true)
	return nil
}

// SetSessionID installs the session identifier and opens the push listener
// the first time a non-empty id arrives.
func (t *StreamableHTTPTransport) SetSessionID(id string) {
	t.BaseTransport.SetSessionID(id)
	if id != "" && t.running.Load() && t.listenerUp.CompareAndSwap(false, true) {
		go t.listenLoop()
	}
}

// listenLoop keeps one GET push stream open, reopening it after drops until
// the transport stops.
func (t *StreamableHTTPTransport) listenLoop() {
	defer close(t.listenerDone)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		if err := t.readPushStream(); err != nil {
			if errors.Is(err, errPushUnsupported) {
				t.logger.Debug("server does not support the push channel")
				return
			}
			t.logger.Debug("push stream ended", logging.ErrorField(err))
		}

		select {
		case <-t.stopCh:
			return
		case <-time.After(time.Second):
		}
	}
}

var errPushUnsupported = errors.New("push channel unsupported")

func (t *StreamableHTTPTransport) readPushStream() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	t.applyHeaders(req)

	resp, err := t.sseClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotFound {
		return errPushUnsupported
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push stream rejected with status %s", resp.Status)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return fmt.Errorf("push stream returned content type %q", resp.Header.Get("Content-Type"))
	}

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			return err
		}
		t.handleMessage([]byte(ev.Data))
	}
	return nil
}

// handleMessage classifies one complete inbound JSON-RPC message and routes
// it: responses resolve pending requests, notifications go to the registered
// handler, anything else is dropped.
func (t *StreamableHTTPTransport) handleMessage(data []byte) {
	switch {
	case protocol.IsResponse(data):
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Warn("discarding malformed response", logging.ErrorField(err))
			return
		}
		t.HandleResponse(&resp)
	case protocol.IsNotification(data):
		var n protocol.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.logger.Warn("discarding malformed notification", logging.ErrorField(err))
			return
		}
		t.HandleNotification(context.Background(), &n)
	default:
		t.logger.Debug("discarding unclassifiable message", logging.String("data", string(data)))
	}
}

// SendRequest sends a request via POST and waits for the correlated response.
func (t *StreamableHTTPTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := t.GenerateID()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.NewInternalError("failed to build request", err)
	}

	ch, err := t.RegisterPending(id)
	if err != nil {
		return nil, err
	}

	if err := t.post(ctx, req, id); err != nil {
		t.RemovePending(id)
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	resp, err := t.WaitForResponse(waitCtx, id, ch)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, mcperrors.NewTimeoutError(method, err)
		}
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// SendNotification sends a one-way message via POST.
func (t *StreamableHTTPTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.NewInternalError("failed to build notification", err)
	}
	return t.post(ctx, n, "")
}

// post transmits one JSON-RPC message. A JSON response body is routed through
// the pending table; an SSE-upgraded response body is drained on its own
// goroutine so the caller's wait stays uniform.
func (t *StreamableHTTPTransport) post(ctx context.Context, message interface{}, pendingID string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return mcperrors.NewInternalError("failed to marshal message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return mcperrors.NewInternalError("failed to build HTTP request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.applyHeaders(req)

	resp, err := t.postClient.Do(req)
	if err != nil {
		return mcperrors.NewTransportClosedError(err)
	}

	// A session id in any response header wins over the locally held one.
	if sid := resp.Header.Get(protocol.SessionIDHeader); sid != "" && sid != t.SessionID() {
		t.SetSessionID(sid)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "text/event-stream") && pendingID != "":
		go func() {
			defer resp.Body.Close()
			for ev, err := range sse.Read(resp.Body, nil) {
				if err != nil {
					return
				}
				t.handleMessage([]byte(ev.Data))
			}
		}()
	case strings.Contains(contentType, "application/json"):
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcperrors.NewTransportClosedError(err)
		}
		if len(bytes.TrimSpace(body)) > 0 {
			t.handleMessage(body)
		}
	default:
		resp.Body.Close()
	}

	return nil
}

func (t *StreamableHTTPTransport) applyHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(protocol.SessionIDHeader, sid)
	}
}

// Stop closes the push channel, tells the server to drop the session via
// DELETE, and fails anything still pending. Safe to call more than once.
func (t *StreamableHTTPTransport) Stop(ctx context.Context) error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}

	close(t.stopCh)
	if t.listenerUp.Load() {
		select {
		case <-t.listenerDone:
		case <-time.After(2 * time.Second):
		}
	}

	// Best-effort server-side teardown. Failure only gets logged: the local
	// close must always complete.
	if sid := t.SessionID(); sid != "" {
		delCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(delCtx, http.MethodDelete, t.endpoint, nil)
		if err == nil {
			req.Header.Set(protocol.SessionIDHeader, sid)
			if resp, err := t.postClient.Do(req); err == nil {
				resp.Body.Close()
			} else {
				t.logger.Debug("session DELETE failed", logging.ErrorField(err))
			}
		}
	}

	t.FailPending(errors.New("transport stopped"))
	return nil
}
