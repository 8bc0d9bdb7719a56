package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// ProtocolVersion is the protocol revision negotiated at the handshake.
	ProtocolVersion = "2025-06-18"

	// SessionIDHeader is the HTTP header that carries the session identifier.
	// The id travels out-of-band from the JSON-RPC payload: it is issued in
	// the initialize response header and attached to every later request.
	SessionIDHeader = "Session-Id"

	// Methods for lifecycle management
	MethodInitialize = "initialize"
	MethodShutdown   = "shutdown"

	// Methods for tool discovery and dispatch
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"

	// Utility methods
	MethodPing = "ping"

	// Notifications the server may push over the streaming channel
	MethodToolsChanged = "notifications/tools/list_changed"
	MethodLogMessage   = "notifications/message"
)

// ClientInfo identifies the connecting client to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the server to the client.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams defines the parameters for the initialize request
type InitializeParams struct {
	ClientInfo         ClientInfo     `json:"clientInfo"`
	ProtocolVersion    string         `json:"protocolVersion"`
	ClientCapabilities map[string]any `json:"clientCapabilities,omitempty"`
}

// InitializeResult defines the response body for the initialize request.
// The session identifier is deliberately absent here; it is conveyed in the
// Session-Id response header only.
type InitializeResult struct {
	ProtocolVersion    string         `json:"protocolVersion"`
	ServerInfo         *ServerInfo    `json:"serverInfo,omitempty"`
	ServerCapabilities map[string]any `json:"serverCapabilities,omitempty"`
}

// Tool describes one named remote operation in the server's catalog.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsParams defines the parameters for tools/list
type ListToolsParams struct{}

// ListToolsResult defines the response for tools/list
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams defines the parameters for tools/call
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Content item types
const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
)

// Content is one item in a tool call result: textual, or binary with a mime
// type.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallToolResult is the uniform envelope returned by every tool invocation.
// A present IsError=true is a normal failure result to be inspected by the
// caller, not a transport fault.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// NewTextResult builds a successful result with a single text item.
func NewTextResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: text}},
	}
}

// NewToolError builds a failure-shaped result with a single text item.
func NewToolError(format string, args ...interface{}) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// ShutdownParams defines the parameters for the shutdown request
type ShutdownParams struct{}

// ShutdownResult defines the response for the shutdown request
type ShutdownResult struct{}

// PingParams defines the parameters for the ping request
type PingParams struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

// PingResult defines the response for the ping request
type PingResult struct {
	Timestamp int64 `json:"timestamp"`
}

// LogMessageParams is the payload of a notifications/message push.
type LogMessageParams struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
