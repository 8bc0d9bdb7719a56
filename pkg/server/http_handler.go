package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/dbxops/mcpwire/pkg/logging"
	"github.com/dbxops/mcpwire/pkg/protocol"
)

const (
	defaultSessionTTL      = 30 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
)

// httpSession is one live client session on the HTTP handler.
type httpSession struct {
	id        string
	createdAt time.Time
	lastSeen  time.Time

	// gone is closed exactly once when the session is removed, which also
	// terminates an attached push stream.
	gone     chan struct{}
	goneOnce sync.Once

	pushMu sync.Mutex
	push   *sse.Session
}

func (s *httpSession) close() {
	s.goneOnce.Do(func() { close(s.gone) })
}

// HTTPHandler exposes a Server over HTTP. One endpoint, three verbs:
//
//	POST    JSON-RPC exchange; initialize mints a session and returns its id
//	        in the Session-Id response header, every other method requires
//	        that id back in the request header
//	GET     long-lived SSE stream for server push, one per session
//	DELETE  session teardown
//
// Sessions idle past the TTL are expired by a background sweep.
type HTTPHandler struct {
	server *Server

	mu       sync.RWMutex
	sessions map[string]*httpSession

	sessionTTL      time.Duration
	cleanupInterval time.Duration

	logger logging.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// HandlerOption configures an HTTPHandler
type HandlerOption func(*HTTPHandler)

// WithSessionTTL sets how long an idle session survives before the sweep
// removes it.
func WithSessionTTL(ttl time.Duration) HandlerOption {
	return func(h *HTTPHandler) { h.sessionTTL = ttl }
}

// WithCleanupInterval sets how often the idle-session sweep runs
func WithCleanupInterval(interval time.Duration) HandlerOption {
	return func(h *HTTPHandler) { h.cleanupInterval = interval }
}

// NewHTTPHandler wraps a Server in an HTTP handler and starts the session
// sweep. Call Close when done with it.
func NewHTTPHandler(server *Server, options ...HandlerOption) *HTTPHandler {
	h := &HTTPHandler{
		server:          server,
		sessions:        make(map[string]*httpSession),
		sessionTTL:      defaultSessionTTL,
		cleanupInterval: defaultCleanupInterval,
		logger:          server.logger.WithFields(logging.String("component", "http_handler")),
		done:            make(chan struct{}),
	}
	for _, option := range options {
		option(h)
	}
	go h.cleanupLoop()
	return h
}

// Close stops the session sweep and drops every live session, terminating
// any attached push streams.
func (h *HTTPHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sess := range h.sessions {
		sess.close()
		delete(h.sessions, id)
		h.server.metrics.RecordSessionClosed()
	}
}

// SessionCount returns the number of live sessions
func (h *HTTPHandler) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if protocol.IsNotification(body) {
		var n protocol.Notification
		if err := json.Unmarshal(body, &n); err == nil {
			h.server.HandleNotification(r.Context(), &n)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var request protocol.Request
	if err := json.Unmarshal(body, &request); err != nil || request.Method == "" {
		h.writeResponse(w, http.StatusBadRequest,
			errorResponse(request.ID, protocol.ParseError, "malformed JSON-RPC request"))
		return
	}

	// initialize is the one method allowed without a session: it creates
	// one. The id travels in the response header, not the result body.
	if request.Method == protocol.MethodInitialize {
		sess := h.createSession()
		w.Header().Set(protocol.SessionIDHeader, sess.id)
		h.writeResponse(w, http.StatusOK, h.server.HandleRequest(r.Context(), &request))
		return
	}

	sess, status := h.authorize(r)
	if sess == nil {
		h.writeResponse(w, status,
			errorResponse(request.ID, protocol.SessionNotFound, "missing or unknown session id"))
		return
	}

	w.Header().Set(protocol.SessionIDHeader, sess.id)
	h.writeResponse(w, http.StatusOK, h.server.HandleRequest(r.Context(), &request))

	// The shutdown handshake invalidates the session id. The acknowledgement
	// has already been written; the id is dead from here on.
	if request.Method == protocol.MethodShutdown {
		h.removeSession(sess.id)
	}
}

func (h *HTTPHandler) removeSession(id string) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	sess.close()
	h.server.metrics.RecordSessionClosed()
	h.logger.Info("session closed", logging.String("session_id", id))
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, status := h.authorize(r)
	if sess == nil {
		http.Error(w, "missing or unknown session id", status)
		return
	}

	push, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to upgrade to SSE: %v", err), http.StatusInternalServerError)
		return
	}

	sess.pushMu.Lock()
	sess.push = push
	sess.pushMu.Unlock()

	h.logger.Debug("push stream attached", logging.String("session_id", sess.id))

	select {
	case <-r.Context().Done():
	case <-sess.gone:
	case <-h.done:
	}

	sess.pushMu.Lock()
	if sess.push == push {
		sess.push = nil
	}
	sess.pushMu.Unlock()
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(protocol.SessionIDHeader)
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	_, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown session id", http.StatusNotFound)
		return
	}

	h.removeSession(id)
	w.WriteHeader(http.StatusNoContent)
}

// Notify pushes a notification to every session with an attached stream.
// Sessions without a stream just miss it; push is best-effort.
func (h *HTTPHandler) Notify(method string, params interface{}) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	message := &sse.Message{Type: sse.Type("message")}
	message.AppendData(string(payload))

	h.mu.RLock()
	sessions := make([]*httpSession, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.RUnlock()

	for _, sess := range sessions {
		sess.pushMu.Lock()
		push := sess.push
		if push != nil {
			if err := push.Send(message); err == nil {
				_ = push.Flush()
			} else {
				h.logger.WithError(err).Debug("push failed",
					logging.String("session_id", sess.id))
			}
		}
		sess.pushMu.Unlock()
	}
	return nil
}

// NotifyToolsChanged announces a catalog change to all connected sessions
func (h *HTTPHandler) NotifyToolsChanged() error {
	return h.Notify(protocol.MethodToolsChanged, nil)
}

func (h *HTTPHandler) createSession() *httpSession {
	now := time.Now()
	sess := &httpSession{
		id:        uuid.NewString(),
		createdAt: now,
		lastSeen:  now,
		gone:      make(chan struct{}),
	}
	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()

	h.server.metrics.RecordSessionOpened()
	h.logger.Info("session created", logging.String("session_id", sess.id))
	return sess
}

// authorize resolves the session named by the request header and refreshes
// its idle clock. A nil session comes with the HTTP status to reply with.
func (h *HTTPHandler) authorize(r *http.Request) (*httpSession, int) {
	id := r.Header.Get(protocol.SessionIDHeader)
	if id == "" {
		return nil, http.StatusBadRequest
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[id]
	if !ok {
		return nil, http.StatusNotFound
	}
	sess.lastSeen = time.Now()
	return sess, http.StatusOK
}

func (h *HTTPHandler) cleanupLoop() {
	ticker := time.NewTicker(h.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.expireIdleSessions()
		case <-h.done:
			return
		}
	}
}

func (h *HTTPHandler) expireIdleSessions() {
	cutoff := time.Now().Add(-h.sessionTTL)
	var expired []*httpSession

	h.mu.Lock()
	for id, sess := range h.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(h.sessions, id)
			expired = append(expired, sess)
		}
	}
	h.mu.Unlock()

	for _, sess := range expired {
		sess.close()
		h.server.metrics.RecordSessionClosed()
		h.logger.Info("session expired", logging.String("session_id", sess.id))
	}
}

func (h *HTTPHandler) writeResponse(w http.ResponseWriter, status int, response *protocol.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Warn("failed to write response")
	}
}
