package transport

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequestIDAcceptsStringAndNumber(t *testing.T) {
	tests := []struct {
		name string
		wire string
		want RequestID
	}{
		{name: "string", wire: `"req-1"`, want: "req-1"},
		{name: "number", wire: `42`, want: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id RequestID
			if err := json.Unmarshal([]byte(tt.wire), &id); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.want {
				t.Errorf("got %q, want %q", id, tt.want)
			}
		})
	}
}

func TestRequestIDRejectsOtherTypes(t *testing.T) {
	var id RequestID
	if err := json.Unmarshal([]byte(`true`), &id); err == nil {
		t.Fatal("expected error for boolean id")
	}
}

func TestCorrelationIDSurvivesRoundTrip(t *testing.T) {
	wire := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo"}}`

	var msg Message
	if err := json.Unmarshal([]byte(wire), &msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != "7" {
		t.Fatalf("got id %q, want %q", msg.ID, "7")
	}

	reply, err := NewResult(msg.ID, map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"id":"7"`) {
		t.Errorf("response does not carry the request id: %s", out)
	}
}

func TestNewRequest(t *testing.T) {
	msg, err := NewRequest("req-1", MethodToolsCall, CallToolParams{Name: "echo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.JSONRPC != Version {
		t.Errorf("got version %q, want %q", msg.JSONRPC, Version)
	}
	if msg.Method != MethodToolsCall {
		t.Errorf("got method %q, want %q", msg.Method, MethodToolsCall)
	}

	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Name != "echo" {
		t.Errorf("got name %q, want %q", params.Name, "echo")
	}
}

func TestNewRequestWithoutParams(t *testing.T) {
	msg, err := NewRequest("req-1", MethodPing, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Params != nil {
		t.Errorf("expected no params, got %s", msg.Params)
	}
}

func TestNewNotificationHasNoID(t *testing.T) {
	msg, err := NewNotification(NotificationInitialized, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != "" {
		t.Errorf("notification must not carry an id, got %q", msg.ID)
	}

	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(out), `"id"`) {
		t.Errorf("marshaled notification must omit the id field: %s", out)
	}
}

func TestNewError(t *testing.T) {
	msg := NewError("req-1", CodeMethodNotFound, "method not found", map[string]any{"method": "nope"})

	if msg.Error == nil {
		t.Fatal("expected error object")
	}
	if msg.Error.Code != CodeMethodNotFound {
		t.Errorf("got code %d, want %d", msg.Error.Code, CodeMethodNotFound)
	}

	want := "rpc error -32601: method not found"
	if got := msg.Error.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
