package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcperrors "github.com/dbxops/mcpwire/pkg/errors"
	"github.com/dbxops/mcpwire/pkg/protocol"
	"github.com/dbxops/mcpwire/pkg/transport"
)

// fakeTransport scripts the transport side of the handshake.
type fakeTransport struct {
	sessionID      string
	headerOnInit   string
	initializeBody interface{}
	requestErr     error
	sentMethods    []string
	notifHandler   transport.NotificationHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		headerOnInit: "abc123",
		initializeBody: &protocol.InitializeResult{
			ProtocolVersion: protocol.ProtocolVersion,
			ServerInfo:      &protocol.ServerInfo{Name: "fake", Version: "1.0"},
		},
	}
}

func (f *fakeTransport) Initialize(ctx context.Context) error { return nil }

func (f *fakeTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	f.sentMethods = append(f.sentMethods, method)
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	if method == protocol.MethodInitialize {
		// The header arrives with the response on HTTP transports.
		f.sessionID = f.headerOnInit
	}
	return json.Marshal(f.initializeBody)
}

func (f *fakeTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	return nil
}

func (f *fakeTransport) SetNotificationHandler(h transport.NotificationHandler) { f.notifHandler = h }
func (f *fakeTransport) SessionID() string                                      { return f.sessionID }
func (f *fakeTransport) SetSessionID(id string)                                 { f.sessionID = id }
func (f *fakeTransport) Stop(ctx context.Context) error                         { return nil }

func TestStateString(t *testing.T) {
	states := map[State]string{
		Uninitialized: "uninitialized",
		Initializing:  "initializing",
		Active:        "active",
		ShuttingDown:  "shutting_down",
		Closed:        "closed",
	}
	for state, want := range states {
		if state.String() != want {
			t.Errorf("Expected %q, got %q", want, state.String())
		}
	}
}

func TestInitializeSuccess(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"})

	if m.State() != Uninitialized {
		t.Fatalf("Expected uninitialized, got %s", m.State())
	}

	id, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if id != "abc123" {
		t.Errorf("Expected session id abc123, got %q", id)
	}
	if m.State() != Active {
		t.Errorf("Expected active, got %s", m.State())
	}
	if m.SessionID() != "abc123" {
		t.Errorf("Expected stored session id abc123, got %q", m.SessionID())
	}
	if m.ProtocolVersion() != protocol.ProtocolVersion {
		t.Errorf("Expected negotiated version %s, got %s", protocol.ProtocolVersion, m.ProtocolVersion())
	}
	if m.ServerInfo() == nil || m.ServerInfo().Name != "fake" {
		t.Errorf("Expected server info captured, got %+v", m.ServerInfo())
	}
}

// A server that accepts initialize but issues no session id fails the
// handshake exactly like a rejected request.
func TestInitializeMissingSessionID(t *testing.T) {
	ft := newFakeTransport()
	ft.headerOnInit = ""
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"})

	_, err := m.Initialize(context.Background())
	if !mcperrors.IsSessionInitError(err) {
		t.Fatalf("Expected session init error, got %v", err)
	}
	if m.State() != Closed {
		t.Errorf("Expected closed after failed handshake, got %s", m.State())
	}
}

// The pipe transport has no header channel; the manager synthesizes an id.
func TestInitializeLocalSessionIDs(t *testing.T) {
	ft := newFakeTransport()
	ft.headerOnInit = ""
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"}, WithLocalSessionIDs())

	id, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a synthesized session id")
	}
	if ft.sessionID != id {
		t.Errorf("Expected the id installed on the transport, got %q", ft.sessionID)
	}
}

func TestInitializeRequestFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.requestErr = errors.New("connection refused")
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"})

	_, err := m.Initialize(context.Background())
	if !mcperrors.IsSessionInitError(err) {
		t.Fatalf("Expected session init error, got %v", err)
	}
	if !errors.Is(err, ft.requestErr) {
		t.Errorf("Expected the cause in the chain, got %v", err)
	}
	if m.State() != Closed {
		t.Errorf("Expected closed, got %s", m.State())
	}
}

func TestInitializeMalformedResult(t *testing.T) {
	ft := newFakeTransport()
	ft.initializeBody = "not an object"
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"})

	_, err := m.Initialize(context.Background())
	if !mcperrors.IsSessionInitError(err) {
		t.Fatalf("Expected session init error, got %v", err)
	}
}

// The manager is single-use: a second Initialize must fail regardless of the
// first one's outcome.
func TestInitializeTwice(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"})

	if _, err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := m.Initialize(context.Background()); err == nil {
		t.Error("Expected second Initialize to fail")
	}
}

func TestRequireActive(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"})

	err := m.RequireActive()
	if !mcperrors.IsCode(err, mcperrors.CodeSessionNotActive) {
		t.Fatalf("Expected session-not-active before handshake, got %v", err)
	}

	m.Initialize(context.Background())
	if err := m.RequireActive(); err != nil {
		t.Errorf("Expected nil while active, got %v", err)
	}

	m.Shutdown(context.Background())
	if err := m.RequireActive(); err == nil {
		t.Error("Expected session-not-active after shutdown")
	}
}

func TestShutdownBestEffort(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"})
	m.Initialize(context.Background())

	// A failing shutdown RPC must still land the session in Closed.
	ft.requestErr = errors.New("server gone")
	m.Shutdown(context.Background())

	if m.State() != Closed {
		t.Errorf("Expected closed despite shutdown RPC failure, got %s", m.State())
	}

	// The shutdown method was actually attempted.
	last := ft.sentMethods[len(ft.sentMethods)-1]
	if last != protocol.MethodShutdown {
		t.Errorf("Expected a shutdown attempt, last method was %s", last)
	}
}

func TestShutdownWhenNotActive(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"})

	// No RPC must be sent from Uninitialized.
	m.Shutdown(context.Background())
	if len(ft.sentMethods) != 0 {
		t.Errorf("Expected no RPC, got %v", ft.sentMethods)
	}
	if m.State() != Closed {
		t.Errorf("Expected closed, got %s", m.State())
	}
}

// Involuntary transport loss skips ShuttingDown entirely.
func TestMarkFailed(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, protocol.ClientInfo{Name: "test", Version: "1.0"})
	m.Initialize(context.Background())

	m.MarkFailed()
	if m.State() != Closed {
		t.Errorf("Expected closed after transport loss, got %s", m.State())
	}

	// The id survives for inspection but the session is unusable.
	if m.SessionID() != "abc123" {
		t.Errorf("Expected the id retained, got %q", m.SessionID())
	}
	if m.RequireActive() == nil {
		t.Error("Expected RequireActive to fail after transport loss")
	}
}
