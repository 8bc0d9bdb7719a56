// Package session owns session identity on the client side: the initialize
// handshake that produces a session id, the best-effort shutdown handshake
// that retires it, and the state machine gating every RPC in between.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	mcperrors "github.com/dbxops/mcpwire/pkg/errors"
	"github.com/dbxops/mcpwire/pkg/logging"
	"github.com/dbxops/mcpwire/pkg/protocol"
	"github.com/dbxops/mcpwire/pkg/transport"
)

// State is the session lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Active
	ShuttingDown
	Closed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case ShuttingDown:
		return "shutting_down"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Manager performs the initialize/shutdown handshakes and tracks the session
// id for one logical connection. A Manager is single-use: it moves forward
// through the state machine and never back, so a reconnect cycle constructs a
// fresh Manager on a fresh transport.
type Manager struct {
	mu              sync.Mutex
	state           State
	sessionID       string
	protocolVersion string
	serverInfo      *protocol.ServerInfo

	transport    transport.Transport
	clientInfo   protocol.ClientInfo
	capabilities map[string]any

	// localIDs synthesizes a session id when the transport has no
	// out-of-band header channel (the pipe transport).
	localIDs bool

	logger logging.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithCapabilities sets the declared client capability set sent at
// initialize.
func WithCapabilities(capabilities map[string]any) Option {
	return func(m *Manager) { m.capabilities = capabilities }
}

// WithLocalSessionIDs makes the Manager synthesize a session id after a
// successful handshake instead of requiring one from the transport. Used for
// the pipe transport, where the pipe itself is the session.
func WithLocalSessionIDs() Option {
	return func(m *Manager) { m.localIDs = true }
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a session manager over an opened transport.
func NewManager(t transport.Transport, clientInfo protocol.ClientInfo, options ...Option) *Manager {
	m := &Manager{
		state:      Uninitialized,
		transport:  t,
		clientInfo: clientInfo,
		capabilities: map[string]any{
			"tools": map[string]any{},
		},
		logger: logging.Noop(),
	}
	for _, option := range options {
		option(m)
	}
	m.logger = m.logger.WithFields(logging.String("component", "session"))
	return m
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the session identifier, empty unless Active or later.
// The id is immutable for the session's lifetime.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// ProtocolVersion returns the version negotiated at the handshake
func (m *Manager) ProtocolVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protocolVersion
}

// ServerInfo returns the server identity received at the handshake
func (m *Manager) ServerInfo() *protocol.ServerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serverInfo
}

// Active reports whether RPCs may currently be sent
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Active
}

// RequireActive rejects, locally and without a network round trip, any
// attempt to use the session while it is not Active.
func (m *Manager) RequireActive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Active {
		return mcperrors.NewSessionNotActiveError(m.state.String())
	}
	return nil
}

// Initialize performs the handshake and returns the session id. The id is
// conveyed out-of-band from the JSON-RPC payload (a response header on HTTP
// transports): a server that accepts the request but omits it fails the
// handshake exactly like a rejected request.
func (m *Manager) Initialize(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != Uninitialized {
		state := m.state
		m.mu.Unlock()
		return "", mcperrors.NewSessionInitError(
			fmt.Sprintf("initialize called in state %s", state), nil)
	}
	m.state = Initializing
	m.mu.Unlock()

	params := &protocol.InitializeParams{
		ClientInfo:         m.clientInfo,
		ProtocolVersion:    protocol.ProtocolVersion,
		ClientCapabilities: m.capabilities,
	}

	result, err := m.transport.SendRequest(ctx, protocol.MethodInitialize, params)
	if err != nil {
		m.close()
		return "", mcperrors.NewSessionInitError("initialize request failed", err)
	}

	var initResult protocol.InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		m.close()
		return "", mcperrors.NewSessionInitError("malformed initialize result", err)
	}

	sessionID := m.transport.SessionID()
	if sessionID == "" {
		if !m.localIDs {
			m.close()
			return "", mcperrors.NewSessionInitError("server accepted initialize but issued no session id", nil)
		}
		sessionID = uuid.NewString()
		m.transport.SetSessionID(sessionID)
	}

	m.mu.Lock()
	m.sessionID = sessionID
	m.protocolVersion = initResult.ProtocolVersion
	m.serverInfo = initResult.ServerInfo
	m.state = Active
	m.mu.Unlock()

	m.logger.Info("session established",
		logging.String("session_id", sessionID),
		logging.String("protocol_version", initResult.ProtocolVersion))

	return sessionID, nil
}

// Shutdown performs the shutdown handshake, best-effort. A server-side
// failure is logged and absorbed: the caller proceeds to close its transport
// regardless, because the client must always end in a clean local state.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.state != Active {
		if m.state != Closed {
			m.state = Closed
		}
		m.mu.Unlock()
		return
	}
	m.state = ShuttingDown
	m.mu.Unlock()

	if _, err := m.transport.SendRequest(ctx, protocol.MethodShutdown, &protocol.ShutdownParams{}); err != nil {
		warn := mcperrors.NewShutdownWarning(err)
		m.logger.WithError(warn).Warn("shutdown handshake failed, closing locally anyway")
	}

	m.close()
}

// MarkFailed records an involuntary transport loss: the session moves
// straight to Closed with no ShuttingDown phase, and the id must never be
// reused for new requests.
func (m *Manager) MarkFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Closed {
		m.state = Closed
	}
}

func (m *Manager) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Closed
}
