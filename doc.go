// Package mcpwire implements the Model Context Protocol session and
// transport core for Go.
//
// The Model Context Protocol (MCP) lets a client discover and invoke named
// tools exposed by a server over JSON-RPC 2.0. This package is the root of
// the SDK, re-exporting the most used constructors from the sub-packages.
//
// # Overview
//
// The SDK consists of several sub-packages:
//
//   - pkg/client: the high-level client (connect, catalog, tool calls,
//     health checks, reconnection)
//   - pkg/server: the tool registry, dispatcher, and HTTP handler with
//     session management and SSE push
//   - pkg/session: the client-side session lifecycle state machine
//   - pkg/transport: streaming HTTP, plain HTTP, and subprocess pipe
//     transports
//   - pkg/protocol: JSON-RPC envelopes and MCP message types
//   - pkg/errors: the structured error taxonomy
//   - pkg/logging: structured logging
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//
// # Session identity
//
// A session id is minted by the server at initialize and conveyed
// out-of-band from the JSON-RPC payload, in the Session-Id response header.
// Every subsequent request carries it back in the same header; requests
// without a valid id are rejected before dispatch.
//
// # Creating a client
//
//	config := mcpwire.DefaultTransportConfig(mcpwire.TransportStreamableHTTP)
//	config.Endpoint = "http://localhost:8080"
//
//	c := mcpwire.NewClient(config,
//	    mcpwire.WithClientInfo("my-client", "1.0.0"),
//	)
//	if err := c.Connect(ctx); err != nil {
//	    // handle error
//	}
//	defer c.Disconnect(ctx)
//
//	result, err := c.CallTool(ctx, "echo", map[string]any{"message": "hi"})
//
// Tool call failures that leave the session usable are reported inside the
// result with IsError set; only the loss of the transport itself surfaces as
// an error.
//
// # Creating a server
//
//	srv := mcpwire.NewServer("my-server", "1.0.0")
//	srv.RegisterTool(protocol.Tool{Name: "echo"}, echoHandler)
//
//	handler := mcpwire.NewHTTPHandler(srv)
//	defer handler.Close()
//	http.ListenAndServe(":8080", handler)
package mcpwire
