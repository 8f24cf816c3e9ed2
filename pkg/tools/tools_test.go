package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// stubTool answers with canned output for registry tests.
type stubTool struct {
	name   string
	result string
	err    error
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (s *stubTool) Call(context.Context, map[string]any) (string, error) {
	return s.result, s.err
}

func TestRegistry_Definitions(t *testing.T) {
	reg, err := NewRegistry(
		&stubTool{name: "beta", result: "b"},
		&stubTool{name: "alpha", result: "a"},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("len(Definitions()) = %d, want 2", len(defs))
	}
	// Registration order, not alphabetical, so prompts stay stable.
	if defs[0].Name != "beta" || defs[1].Name != "alpha" {
		t.Errorf("definition order = [%s, %s], want [beta, alpha]", defs[0].Name, defs[1].Name)
	}
	if defs[0].Description != "stub beta" {
		t.Errorf("Description = %q, want %q", defs[0].Description, "stub beta")
	}
	if defs[0].Parameters["type"] != "object" {
		t.Errorf("Parameters[type] = %v, want object", defs[0].Parameters["type"])
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	_, err := NewRegistry(
		&stubTool{name: "get_document"},
		&stubTool{name: "get_document"},
	)
	if err == nil {
		t.Fatal("expected error for duplicate tool name")
	}
}

func TestRegistry_CallUnknownTool(t *testing.T) {
	reg, _ := NewRegistry()

	result, err := reg.Call(context.Background(), "bogus", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("error = %T, want *ToolError", err)
	}
	if result == "" {
		t.Error("unknown tool should still produce a model-visible result string")
	}
}

func TestRegistry_CallToolError(t *testing.T) {
	toolErr := &ToolError{Tool: "lookup", Msg: "document 7 does not exist"}
	reg, _ := NewRegistry(&stubTool{name: "lookup", err: toolErr})

	result, err := reg.Call(context.Background(), "lookup", nil)
	if !errors.Is(err, toolErr) {
		t.Fatalf("Call() error = %v, want %v", err, toolErr)
	}
	if result != "Error: document 7 does not exist" {
		t.Errorf("Call() result = %q, want rendered tool error", result)
	}
}

func TestRegistry_CallPlainError(t *testing.T) {
	plain := fmt.Errorf("connection refused")
	reg, _ := NewRegistry(&stubTool{name: "lookup", err: plain})

	result, err := reg.Call(context.Background(), "lookup", nil)
	if !errors.Is(err, plain) {
		t.Fatalf("Call() error = %v, want %v", err, plain)
	}
	if result != "" {
		t.Errorf("plain errors carry no result string, got %q", result)
	}
}

func TestRegistry_CallSuccess(t *testing.T) {
	reg, _ := NewRegistry(&stubTool{name: "lookup", result: "Found it"})

	result, err := reg.Call(context.Background(), "lookup", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != "Found it" {
		t.Errorf("Call() = %q, want %q", result, "Found it")
	}
}

func TestToolError_Result(t *testing.T) {
	te := &ToolError{Tool: "get_document", Msg: "document 3 is not fully processed"}
	if got := te.Result(); got != "Error: document 3 is not fully processed" {
		t.Errorf("Result() = %q", got)
	}
	if got := te.Error(); got != "get_document: document 3 is not fully processed" {
		t.Errorf("Error() = %q", got)
	}
}

func TestStringArg(t *testing.T) {
	args := map[string]any{"query": "  electricity invoice ", "empty": "   ", "number": 4.0}

	got, err := stringArg("search", args, "query")
	if err != nil {
		t.Fatalf("stringArg() error = %v", err)
	}
	if got != "electricity invoice" {
		t.Errorf("stringArg() = %q, want trimmed value", got)
	}

	for _, key := range []string{"missing", "empty", "number"} {
		if _, err := stringArg("search", args, key); err == nil {
			t.Errorf("stringArg(%q) expected error", key)
		}
	}
}

func TestIntArg(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    int
		wantErr bool
	}{
		{"float64", float64(42), 42, false},
		{"int", 7, 7, false},
		{"digit string", "13", 13, false},
		{"padded string", " 99 ", 99, false},
		{"word", "seven", 0, true},
		{"bool", true, 0, true},
		{"nil", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := intArg("get_document", map[string]any{"doc_id": tt.value}, "doc_id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("intArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("intArg() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLimitArg(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"absent", map[string]any{}, defaultLimit},
		{"nil", map[string]any{"limit": nil}, defaultLimit},
		{"in range", map[string]any{"limit": float64(3)}, 3},
		{"above cap", map[string]any{"limit": float64(50)}, maxLimit},
		{"zero", map[string]any{"limit": float64(0)}, defaultLimit},
		{"negative", map[string]any{"limit": float64(-2)}, defaultLimit},
		{"string", map[string]any{"limit": "8"}, 8},
		{"garbage", map[string]any{"limit": "lots"}, defaultLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := limitArg(tt.args); got != tt.want {
				t.Errorf("limitArg() = %d, want %d", got, tt.want)
			}
		})
	}
}
