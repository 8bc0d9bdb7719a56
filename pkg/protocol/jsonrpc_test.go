package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("req-1", MethodListTools, &ListToolsParams{})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	if req.JSONRPC != JSONRPCVersion {
		t.Errorf("Expected jsonrpc %q, got %q", JSONRPCVersion, req.JSONRPC)
	}
	if req.ID != "req-1" {
		t.Errorf("Expected id req-1, got %v", req.ID)
	}
	if req.Method != MethodListTools {
		t.Errorf("Expected method %s, got %s", MethodListTools, req.Method)
	}
}

func TestNewRequestNilParams(t *testing.T) {
	req, err := NewRequest(1, MethodPing, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if req.Params != nil {
		t.Errorf("Expected nil params, got %s", string(req.Params))
	}
}

func TestNewResponse(t *testing.T) {
	resp, err := NewResponse("req-1", &ListToolsResult{Tools: []Tool{{Name: "echo"}}})
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}

	if resp.Error != nil {
		t.Errorf("Expected no error, got %v", resp.Error)
	}

	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to unmarshal result: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "echo" {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp, err := NewErrorResponse("req-1", ToolNotFound, "tool not found: missing", nil)
	if err != nil {
		t.Fatalf("NewErrorResponse failed: %v", err)
	}

	if resp.Error == nil {
		t.Fatal("Expected error to be set")
	}
	if resp.Error.Code != ToolNotFound {
		t.Errorf("Expected code %d, got %d", ToolNotFound, resp.Error.Code)
	}
	if resp.Result != nil {
		t.Error("Expected result to be nil on an error response")
	}
}

func TestErrorImplementsError(t *testing.T) {
	var err error = &Error{Code: MethodNotFound, Message: "method not found: bogus"}

	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatal("Expected errors.As to unwrap *Error")
	}
	if rpcErr.Code != MethodNotFound {
		t.Errorf("Expected code %d, got %d", MethodNotFound, rpcErr.Code)
	}
	if err.Error() == "" {
		t.Error("Expected a non-empty error string")
	}
}

func TestMessageClassification(t *testing.T) {
	request := []byte(`{"jsonrpc":"2.0","id":"1","method":"tools/list"}`)
	response := []byte(`{"jsonrpc":"2.0","id":"1","result":{"tools":[]}}`)
	errResponse := []byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"nope"}}`)
	notification := []byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`)

	if !IsRequest(request) || IsResponse(request) || IsNotification(request) {
		t.Error("Request misclassified")
	}
	if !IsResponse(response) || IsRequest(response) || IsNotification(response) {
		t.Error("Response misclassified")
	}
	if !IsResponse(errResponse) {
		t.Error("Error response not classified as response")
	}
	if !IsNotification(notification) || IsRequest(notification) || IsResponse(notification) {
		t.Error("Notification misclassified")
	}
}

// A success reply whose result is literally null must still classify as a
// response, or the pending call it resolves would time out.
func TestNullResultClassifiesAsResponse(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","id":1,"result":null}`)
	if !IsResponse(data) {
		t.Error("Null-result reply not classified as response")
	}
	if IsRequest(data) || IsNotification(data) {
		t.Error("Null-result reply misclassified")
	}
}

func TestMessageClassificationMalformed(t *testing.T) {
	for _, data := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"jsonrpc":"1.0","id":"1","method":"m"}`),
		[]byte(`{}`),
	} {
		if IsRequest(data) || IsResponse(data) || IsNotification(data) {
			t.Errorf("Malformed message classified: %s", string(data))
		}
	}
}
