package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewToolError(t *testing.T) {
	result := NewToolError("Error calling tool %s: %v", "nonexistent_tool", "tool not found")

	if !result.IsError {
		t.Error("Expected IsError to be true")
	}
	if len(result.Content) != 1 {
		t.Fatalf("Expected exactly one content item, got %d", len(result.Content))
	}
	if result.Content[0].Type != ContentTypeText {
		t.Errorf("Expected text content, got %s", result.Content[0].Type)
	}
	if !strings.HasPrefix(result.Content[0].Text, "Error calling tool nonexistent_tool:") {
		t.Errorf("Unexpected error text: %s", result.Content[0].Text)
	}
}

func TestNewTextResult(t *testing.T) {
	result := NewTextResult("hello")

	if result.IsError {
		t.Error("Expected IsError to be false")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Errorf("Unexpected content: %+v", result.Content)
	}
}

// isError must be absent from the wire form of a successful result, not
// serialized as false.
func TestCallToolResultWireShape(t *testing.T) {
	data, err := json.Marshal(NewTextResult("ok"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "isError") {
		t.Errorf("Expected isError omitted on success, got %s", string(data))
	}

	data, err = json.Marshal(NewToolError("boom"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"isError":true`) {
		t.Errorf("Expected isError true on failure, got %s", string(data))
	}
}

// The session id rides a response header; the initialize result body must
// never grow a field for it.
func TestInitializeResultHasNoSessionField(t *testing.T) {
	data, err := json.Marshal(&InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      &ServerInfo{Name: "srv", Version: "1.0"},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(strings.ToLower(string(data)), "session") {
		t.Errorf("Initialize result leaked a session field: %s", string(data))
	}
}
