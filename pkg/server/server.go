// Package server provides the MCP server core: a tool registry with a
// JSON-RPC dispatcher, plus an HTTP handler that layers session management
// and a push channel on top of it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/dbxops/mcpwire/pkg/errors"
	"github.com/dbxops/mcpwire/pkg/logging"
	"github.com/dbxops/mcpwire/pkg/observability"
	"github.com/dbxops/mcpwire/pkg/protocol"
)

// ToolHandler executes one tool invocation. Returning an error produces a
// failure-shaped result for the caller; returning a result with IsError set
// does the same with handler-controlled content.
type ToolHandler func(ctx context.Context, arguments map[string]any) (*protocol.CallToolResult, error)

type registeredTool struct {
	tool    protocol.Tool
	handler ToolHandler
}

// Server dispatches JSON-RPC requests against a tool registry. It is
// transport-neutral: the HTTP handler and the pipe transport both feed it
// through HandleRequest.
type Server struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string

	info         protocol.ServerInfo
	capabilities map[string]any

	logger  logging.Logger
	metrics observability.MetricsProvider
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics provider
func WithMetrics(metrics observability.MetricsProvider) ServerOption {
	return func(s *Server) { s.metrics = metrics }
}

// WithCapabilities sets the capability set advertised at initialize
func WithCapabilities(capabilities map[string]any) ServerOption {
	return func(s *Server) { s.capabilities = capabilities }
}

// New creates a server with the given identity.
func New(name, version string, options ...ServerOption) *Server {
	s := &Server{
		tools: make(map[string]registeredTool),
		info:  protocol.ServerInfo{Name: name, Version: version},
		capabilities: map[string]any{
			"tools": map[string]any{"listChanged": true},
		},
		logger:  logging.Noop(),
		metrics: observability.NewNoopMetricsProvider(),
	}
	for _, option := range options {
		option(s)
	}
	s.logger = s.logger.WithFields(logging.String("component", "server"))
	return s
}

// RegisterTool adds a tool to the registry. Registration order is the
// catalog order. Duplicate names are rejected.
func (s *Server) RegisterTool(tool protocol.Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler must not be nil", tool.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	s.tools[tool.Name] = registeredTool{tool: tool, handler: handler}
	s.order = append(s.order, tool.Name)
	return nil
}

// Tools returns the registered tool catalog in registration order.
func (s *Server) Tools() []protocol.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]protocol.Tool, 0, len(s.order))
	for _, name := range s.order {
		tools = append(tools, s.tools[name].tool)
	}
	return tools
}

// HandleRequest dispatches one JSON-RPC request and always produces a
// response envelope, error-shaped when the method or params are bad.
func (s *Server) HandleRequest(ctx context.Context, request *protocol.Request) *protocol.Response {
	start := time.Now()
	response := s.dispatch(ctx, request)
	status := "ok"
	if response.Error != nil {
		status = "error"
	}
	s.metrics.RecordRequest(request.Method, status, time.Since(start))
	return response
}

func (s *Server) dispatch(ctx context.Context, request *protocol.Request) *protocol.Response {
	switch request.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(request)
	case protocol.MethodListTools:
		return s.handleListTools(request)
	case protocol.MethodCallTool:
		return s.handleCallTool(ctx, request)
	case protocol.MethodShutdown:
		return mustResponse(request.ID, &protocol.ShutdownResult{})
	case protocol.MethodPing:
		return mustResponse(request.ID, &protocol.PingResult{Timestamp: time.Now().UnixMilli()})
	default:
		return errorResponse(request.ID, protocol.MethodNotFound,
			fmt.Sprintf("method not found: %s", request.Method))
	}
}

// HandleNotification consumes an inbound notification. Notifications carry
// no reply; unknown ones are logged and dropped.
func (s *Server) HandleNotification(ctx context.Context, n *protocol.Notification) {
	s.logger.Debug("notification received", logging.String("method", n.Method))
}

func (s *Server) handleInitialize(request *protocol.Request) *protocol.Response {
	var params protocol.InitializeParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			return errorResponse(request.ID, protocol.InvalidParams,
				fmt.Sprintf("invalid initialize params: %v", err))
		}
	}

	s.logger.Info("client initializing",
		logging.String("client", params.ClientInfo.Name),
		logging.String("client_version", params.ClientInfo.Version))

	info := s.info
	return mustResponse(request.ID, &protocol.InitializeResult{
		ProtocolVersion:    protocol.ProtocolVersion,
		ServerInfo:         &info,
		ServerCapabilities: s.capabilities,
	})
}

func (s *Server) handleListTools(request *protocol.Request) *protocol.Response {
	return mustResponse(request.ID, &protocol.ListToolsResult{Tools: s.Tools()})
}

func (s *Server) handleCallTool(ctx context.Context, request *protocol.Request) *protocol.Response {
	var params protocol.CallToolParams
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return errorResponse(request.ID, protocol.InvalidParams,
			fmt.Sprintf("invalid tools/call params: %v", err))
	}

	s.mu.RLock()
	entry, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		return errorResponse(request.ID, protocol.ToolNotFound,
			fmt.Sprintf("tool not found: %s", params.Name))
	}

	start := time.Now()
	result, err := entry.handler(ctx, params.Arguments)
	duration := time.Since(start)

	if err != nil {
		// Handler failures are data, not protocol faults: the caller gets a
		// failure-shaped result over a healthy session.
		s.metrics.RecordToolCall(params.Name, "error", duration)
		s.logger.WithError(mcperrors.NewInternalError(
			fmt.Sprintf("tool %s failed", params.Name), err)).Warn("tool execution failed")
		return mustResponse(request.ID,
			protocol.NewToolError("Error calling tool %s: %v", params.Name, err))
	}
	if result == nil {
		result = protocol.NewTextResult("")
	}

	status := "ok"
	if result.IsError {
		status = "tool_error"
	}
	s.metrics.RecordToolCall(params.Name, status, duration)
	return mustResponse(request.ID, result)
}

func mustResponse(id interface{}, result interface{}) *protocol.Response {
	response, err := protocol.NewResponse(id, result)
	if err != nil {
		response, _ = protocol.NewErrorResponse(id, protocol.InternalError,
			fmt.Sprintf("failed to encode result: %v", err), nil)
	}
	return response
}

func errorResponse(id interface{}, code protocol.ErrorCode, message string) *protocol.Response {
	response, _ := protocol.NewErrorResponse(id, code, message, nil)
	return response
}
