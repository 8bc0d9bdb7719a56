package mcpwire

import (
	"github.com/dbxops/mcpwire/pkg/client"
	"github.com/dbxops/mcpwire/pkg/protocol"
	"github.com/dbxops/mcpwire/pkg/server"
	"github.com/dbxops/mcpwire/pkg/transport"
)

// Version represents the current version of the SDK
const Version = "0.1.0"

// ProtocolVersion is the protocol revision negotiated at the handshake
const ProtocolVersion = protocol.ProtocolVersion

// These exports provide direct access to the core SDK components
var (
	// NewClient creates a new MCP client
	NewClient = client.New

	// NewServer creates a new MCP server
	NewServer = server.New

	// NewHTTPHandler exposes a server over HTTP
	NewHTTPHandler = server.NewHTTPHandler

	// NewTransport creates a transport from a configuration
	NewTransport = transport.NewTransport

	// DefaultTransportConfig returns a transport configuration with defaults
	DefaultTransportConfig = transport.DefaultTransportConfig
)

// Transport types
const (
	TransportStdio          = transport.TransportTypeStdio
	TransportHTTP           = transport.TransportTypeHTTP
	TransportStreamableHTTP = transport.TransportTypeStreamableHTTP
)

// Client options
var (
	WithClientInfo           = client.WithClientInfo
	WithClientLogger         = client.WithLogger
	WithClientMetrics        = client.WithMetrics
	WithReconnectDelay       = client.WithReconnectDelay
	WithReconnectRetries     = client.WithReconnectRetries
	WithNotificationCallback = client.WithNotificationCallback
)

// Server options
var (
	WithServerLogger       = server.WithLogger
	WithServerMetrics      = server.WithMetrics
	WithServerCapabilities = server.WithCapabilities
	WithSessionTTL         = server.WithSessionTTL
)
