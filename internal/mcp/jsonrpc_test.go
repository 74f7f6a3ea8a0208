package mcp

import (
	"encoding/json"
	"testing"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest(42, "tools/list", map[string]any{"cursor": "abc"})

	if req.JSONRPC != "2.0" {
		t.Errorf("JSONRPC = %q, want %q", req.JSONRPC, "2.0")
	}
	if req.ID != 42 {
		t.Errorf("ID = %d, want 42", req.ID)
	}
	if req.Method != "tools/list" {
		t.Errorf("Method = %q, want %q", req.Method, "tools/list")
	}
}

func TestRequestWireShape(t *testing.T) {
	req := NewRequest(1, "tools/call", map[string]any{
		"name":      "make_purchase",
		"arguments": map[string]any{"product_id": "p001", "quantity": 1},
	})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"arguments":{"product_id":"p001","quantity":1},"name":"make_purchase"}}`
	if string(data) != want {
		t.Errorf("wire = %s\nwant   %s", data, want)
	}
}

func TestRequestNilParamsSentAsEmptyObject(t *testing.T) {
	req := NewRequest(1, "tools/list", nil)
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	params, ok := m["params"].(map[string]any)
	if !ok {
		t.Fatalf("params = %#v, want empty object", m["params"])
	}
	if len(params) != 0 {
		t.Errorf("params = %v, want empty", params)
	}
}

func TestResponseUnmarshal(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.ID != 1 {
		t.Errorf("ID = %d, want 1", resp.ID)
	}
	if resp.Error != nil {
		t.Errorf("Error = %v, want nil", resp.Error)
	}
	if !resp.HasResult() {
		t.Fatal("HasResult() = false, want true")
	}
}

func TestResponseHasResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"object", `{"jsonrpc":"2.0","id":1,"result":{}}`, true},
		{"absent", `{"jsonrpc":"2.0","id":1}`, false},
		{"null", `{"jsonrpc":"2.0","id":1,"result":null}`, false},
		{"error only", `{"jsonrpc":"2.0","id":1,"error":{"code":-1,"message":"x"}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			if err := json.Unmarshal([]byte(tt.raw), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := resp.HasResult(); got != tt.want {
				t.Errorf("HasResult() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResponseHasID(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   bool
		wantID int64
	}{
		{"number", `{"jsonrpc":"2.0","id":3,"result":{}}`, true, 3},
		{"zero", `{"jsonrpc":"2.0","id":0,"result":{}}`, true, 0},
		{"absent", `{"result":{"content":[]}}`, false, 0},
		{"null", `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			if err := json.Unmarshal([]byte(tt.raw), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := resp.HasID(); got != tt.want {
				t.Errorf("HasID() = %v, want %v", got, tt.want)
			}
			if resp.ID != tt.wantID {
				t.Errorf("ID = %d, want %d", resp.ID, tt.wantID)
			}
		})
	}
}

func TestResponseUnmarshalError(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found"}}`
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Error == nil {
		t.Fatal("Error is nil, want non-nil")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("Error.Code = %d, want -32601", resp.Error.Code)
	}
	if resp.Error.Message != "Method not found" {
		t.Errorf("Error.Message = %q, want %q", resp.Error.Message, "Method not found")
	}
}

func TestRPCErrorString(t *testing.T) {
	e := &RPCError{Code: -32600, Message: "Invalid Request"}
	got := e.Error()
	want := "jsonrpc error -32600: Invalid Request"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotification(t *testing.T) {
	notif := NewNotification("notifications/initialized", nil)

	if notif.JSONRPC != "2.0" {
		t.Errorf("JSONRPC = %q, want %q", notif.JSONRPC, "2.0")
	}
	if notif.Method != "notifications/initialized" {
		t.Errorf("Method = %q, want %q", notif.Method, "notifications/initialized")
	}
	if notif.Params != nil {
		t.Errorf("Params = %v, want nil", notif.Params)
	}
}

func TestNotificationOmitsNilParams(t *testing.T) {
	notif := NewNotification("test", nil)
	data, err := json.Marshal(notif)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if _, ok := m["params"]; ok {
		t.Error("params should be omitted when nil")
	}
	if _, ok := m["id"]; ok {
		t.Error("notification must not carry an id")
	}
}
