package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Toolkit:     "test",
		Description: "Echo arguments",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			if v, ok := args["text"].(string); ok {
				return v, nil
			}
			return "no text", nil
		},
	}
}

func TestRegistry_RegisterGet(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo"))

	if r.Get("echo") == nil {
		t.Fatal("Get(echo) = nil after Register")
	}
	if r.Get("missing") != nil {
		t.Error("Get(missing) should be nil")
	}

	// Re-registering replaces.
	replacement := echoTool("echo")
	replacement.Description = "replaced"
	r.Register(replacement)
	if got := r.Get("echo").Description; got != "replaced" {
		t.Errorf("Description = %q, want replaced", got)
	}
}

func TestRegistry_ListSortedFunctionFormat(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("zeta"))
	r.Register(echoTool("alpha"))
	r.Register(echoTool("mid"))

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d tools, want 3", len(list))
	}

	var names []string
	for _, entry := range list {
		if entry["type"] != "function" {
			t.Errorf("type = %v, want function", entry["type"])
		}
		fn := entry["function"].(map[string]any)
		names = append(names, fn["name"].(string))
	}
	if got := strings.Join(names, ","); got != "alpha,mid,zeta" {
		t.Errorf("order = %s, want alpha,mid,zeta", got)
	}
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo"))
	ctx := context.Background()

	got, err := r.Execute(ctx, "echo", `{"text":"hello"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "hello" {
		t.Errorf("Execute = %q, want hello", got)
	}

	got, err = r.Execute(ctx, "echo", "")
	if err != nil {
		t.Fatalf("Execute with empty args: %v", err)
	}
	if got != "no text" {
		t.Errorf("Execute = %q, want %q", got, "no text")
	}
}

func TestRegistry_ExecuteInvalidArgs(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo"))

	_, err := r.Execute(context.Background(), "echo", `{not json`)
	if err == nil || !strings.Contains(err.Error(), "invalid arguments") {
		t.Errorf("Execute error = %v, want invalid arguments", err)
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), "get_products", "{}")
	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("Execute error = %v, want *ErrToolUnavailable", err)
	}
	if unavailable.ToolName != "get_products" {
		t.Errorf("ToolName = %q, want get_products", unavailable.ToolName)
	}
}
