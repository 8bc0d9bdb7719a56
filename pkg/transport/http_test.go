package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcperrors "github.com/dbxops/mcpwire/pkg/errors"
	"github.com/dbxops/mcpwire/pkg/protocol"
)

func newTestHTTPTransport(t *testing.T, endpoint string) *HTTPTransport {
	t.Helper()
	config := DefaultTransportConfig(TransportTypeHTTP)
	config.Endpoint = endpoint
	tr, err := NewTransport(config)
	if err != nil {
		t.Fatalf("NewTransport failed: %v", err)
	}
	ht := tr.(*HTTPTransport)
	if err := ht.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return ht
}

func TestHTTPTransportRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Method != protocol.MethodPing {
			t.Errorf("Expected ping, got %s", req.Method)
		}

		resp, _ := protocol.NewResponse(req.ID, &protocol.PingResult{Timestamp: 42})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	tr := newTestHTTPTransport(t, server.URL)
	defer tr.Stop(context.Background())

	result, err := tr.SendRequest(context.Background(), protocol.MethodPing, &protocol.PingParams{})
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	var pong protocol.PingResult
	if err := json.Unmarshal(result, &pong); err != nil {
		t.Fatalf("Failed to unmarshal result: %v", err)
	}
	if pong.Timestamp != 42 {
		t.Errorf("Expected timestamp 42, got %d", pong.Timestamp)
	}
}

func TestHTTPTransportCapturesSessionHeader(t *testing.T) {
	var sawInbound string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawInbound = r.Header.Get(protocol.SessionIDHeader)

		var req protocol.Request
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set(protocol.SessionIDHeader, "abc123")
		w.Header().Set("Content-Type", "application/json")
		resp, _ := protocol.NewResponse(req.ID, &protocol.InitializeResult{ProtocolVersion: protocol.ProtocolVersion})
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	tr := newTestHTTPTransport(t, server.URL)
	defer tr.Stop(context.Background())

	_, err := tr.SendRequest(context.Background(), protocol.MethodInitialize, &protocol.InitializeParams{})
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if sawInbound != "" {
		t.Errorf("Expected no session header before the handshake, got %q", sawInbound)
	}
	if tr.SessionID() != "abc123" {
		t.Errorf("Expected captured session id abc123, got %q", tr.SessionID())
	}

	// The captured id must ride every later request.
	_, err = tr.SendRequest(context.Background(), protocol.MethodListTools, &protocol.ListToolsParams{})
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if sawInbound != "abc123" {
		t.Errorf("Expected session header abc123 on follow-up, got %q", sawInbound)
	}
}

func TestHTTPTransportJSONRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.Request
		json.NewDecoder(r.Body).Decode(&req)
		resp, _ := protocol.NewErrorResponse(req.ID, protocol.ToolNotFound, "tool not found: bogus", nil)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	tr := newTestHTTPTransport(t, server.URL)
	defer tr.Stop(context.Background())

	_, err := tr.SendRequest(context.Background(), protocol.MethodCallTool,
		&protocol.CallToolParams{Name: "bogus"})
	if err == nil {
		t.Fatal("Expected an error for a JSON-RPC error response")
	}

	var rpcErr *protocol.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Expected *protocol.Error, got %T: %v", err, err)
	}
	if rpcErr.Code != protocol.ToolNotFound {
		t.Errorf("Expected code %d, got %d", protocol.ToolNotFound, rpcErr.Code)
	}
}

func TestHTTPTransportServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing or unknown session id", http.StatusBadRequest)
	}))
	defer server.Close()

	tr := newTestHTTPTransport(t, server.URL)
	defer tr.Stop(context.Background())

	_, err := tr.SendRequest(context.Background(), protocol.MethodListTools, nil)
	if err == nil {
		t.Fatal("Expected an error for an HTTP 400")
	}
}

func TestHTTPTransportTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	config := DefaultTransportConfig(TransportTypeHTTP)
	config.Endpoint = server.URL
	config.Connection.RequestTimeout = 50 * time.Millisecond
	tr, err := NewTransport(config)
	if err != nil {
		t.Fatalf("NewTransport failed: %v", err)
	}
	if err := tr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer tr.Stop(context.Background())

	_, err = tr.SendRequest(context.Background(), protocol.MethodPing, nil)
	if !mcperrors.IsTimeout(err) && !mcperrors.IsTransportClosed(err) {
		t.Errorf("Expected a timeout-shaped error, got %v", err)
	}
}

func TestHTTPTransportStopIdempotent(t *testing.T) {
	tr := newTestHTTPTransport(t, "http://localhost:0")

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("First Stop failed: %v", err)
	}
	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}

	_, err := tr.SendRequest(context.Background(), protocol.MethodPing, nil)
	if !mcperrors.IsTransportClosed(err) {
		t.Errorf("Expected transport closed after Stop, got %v", err)
	}
}
