// Package tools provides the read-only lookup tools offered to the large
// model during the analysis phase. The fixed set covers similarity search,
// single-document retrieval and filtered listings over the DMS; optional
// MCP mounts contribute external tools through the same interface.
//
// Tools only read. Budget enforcement and duplicate-call suppression are
// the loop engine's concern, not the tools'.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scribadev/scriba/pkg/llm"
	"github.com/scribadev/scriba/pkg/observability"
)

// Tool is one callable lookup. Call returns a plain-string rendering meant
// for re-ingestion into the model's prompt.
type Tool interface {
	Name() string
	Description() string

	// Parameters is the JSON schema object describing the arguments.
	Parameters() map[string]any

	Call(ctx context.Context, args map[string]any) (string, error)
}

// ToolError is a tool-level failure the model should see and react to:
// unknown names, guard rejections, malformed arguments. Transport and
// programming errors are returned as plain errors instead.
type ToolError struct {
	Tool string
	Msg  string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Msg)
}

// Result renders the failure as a tool result string.
func (e *ToolError) Result() string {
	return "Error: " + e.Msg
}

// Registry holds the tools offered to the analysis model, in registration
// order so the definitions stay stable across prompts.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry builds a registry over the given tools. Duplicate names are
// rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one tool.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return errors.New("tools: tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tools: duplicate tool name %q", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions renders the registry as tool definitions for a chat request.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Call dispatches one tool invocation. The returned string is always safe
// to hand back to the model: tool-level failures come back as both a
// rendered result and a *ToolError so the caller can log the failure while
// the model sees what went wrong.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	start := time.Now()

	tracer := observability.GetTracer("scriba.tools")
	ctx, span := tracer.Start(ctx, "tool.call",
		trace.WithAttributes(attribute.String("tool.name", name)),
	)
	defer span.End()

	tool, ok := r.Get(name)
	if !ok {
		err := &ToolError{Tool: name, Msg: fmt.Sprintf("unknown tool %q", name)}
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool not found")
		observability.GetGlobalMetrics().RecordToolCall(ctx, name, time.Since(start), err)
		return err.Result(), err
	}

	result, err := tool.Call(ctx, args)
	observability.GetGlobalMetrics().RecordToolCall(ctx, name, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var te *ToolError
		if errors.As(err, &te) {
			return te.Result(), err
		}
		return "", err
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}
