// Package llm provides chat-model adapters for the inference pipeline.
//
// Two logical models drive every agent: a large model for structured
// analysis and tool use, and a small model for low-temperature
// confirmation. A vision model backs OCR re-extraction and an optional
// translation model overrides the summary step. Providers normalize the
// wire differences (ollama, openai-compatible, gemini) behind one
// interface; the registry resolves a logical role to a concrete provider
// from settings on every call.
package llm

import (
	"context"
	"net/http"
	"strings"
)

// Message roles on the chat wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Image is inline image content attached to a message, used by the
// vision model for OCR re-extraction.
type Image struct {
	MIME string
	Data []byte
}

// MediaType returns the declared MIME type, sniffing the bytes when the
// caller did not set one.
func (i Image) MediaType() string {
	if i.MIME != "" {
		return i.MIME
	}
	return detectImageMediaType(i.Data)
}

// detectImageMediaType examines magic numbers to identify an image
// format. Falls back to JPEG, which every provider accepts.
func detectImageMediaType(data []byte) string {
	if len(data) == 0 {
		return "image/jpeg"
	}
	if detected := http.DetectContentType(data); strings.HasPrefix(detected, "image/") {
		return detected
	}
	return "image/jpeg"
}

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolDefinition describes a tool offered to the model. Parameters is a
// JSON schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one turn of a conversation. Exactly one of the content
// shapes is populated depending on Role: plain text (optionally with
// images) for system/user turns, text plus tool calls for assistant
// turns, and a tool result keyed by ToolCallID for tool turns.
type Message struct {
	Role       string
	Content    string
	Images     []Image
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// SystemMessage builds a system turn.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant turn carrying the model's prior
// text and tool calls, for replaying the conversation on the next call.
func AssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolResultMessage builds a tool turn answering a prior tool call.
func ToolResultMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}

// Request is one chat completion call.
type Request struct {
	Messages []Message

	// Tools offered to the model. Tool binding and structured output
	// are mutually exclusive on most providers; callers pick one per
	// call.
	Tools []ToolDefinition

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// MaxTokens caps the completion length when positive.
	MaxTokens int

	// Format set to "json" forces a JSON object response without
	// binding a schema. GenerateStructured supersedes this.
	Format string

	// Think asks thinking-capable models to expose their reasoning.
	Think bool
}

// Response is the full, non-streaming result of one call.
type Response struct {
	Text      string
	Thinking  string
	ToolCalls []ToolCall

	PromptTokens int
	OutputTokens int
}

// TotalTokens is the combined prompt and completion usage.
func (r *Response) TotalTokens() int {
	return r.PromptTokens + r.OutputTokens
}

// Provider is a chat model endpoint. Implementations never retry
// failed calls on their own beyond rate-limit waits; the caller owns
// the retry decision.
type Provider interface {
	// Name identifies the underlying model for logging.
	Name() string

	// Generate runs one completion. The response may carry tool calls
	// when the request offered tools.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GenerateStructured runs one completion constrained to the given
	// JSON schema. The response text is the raw JSON; decode it with
	// DecodeStructured.
	GenerateStructured(ctx context.Context, req *Request, schema map[string]any) (*Response, error)
}
