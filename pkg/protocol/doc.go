// Package protocol defines the JSON-RPC 2.0 envelopes and the MCP method,
// parameter, and result types exchanged between client and server.
//
// The package is wire-shape only: it carries no connection or session state.
// Session identity travels out-of-band in the Session-Id HTTP header (see
// SessionIDHeader), never inside a JSON-RPC result body.
package protocol
