package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/scribadev/scriba/pkg/settings"
)

func TestOpenAI_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want Bearer sk-test", got)
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4.1-mini" {
			t.Errorf("model = %s, want gpt-4.1-mini", req.Model)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "A title"},
			}},
			"usage": map[string]any{"prompt_tokens": 50, "completion_tokens": 4},
		})
	}))
	defer server.Close()

	p := NewOpenAI(settings.ModelSettings{Provider: "openai", Model: "gpt-4.1-mini", URL: server.URL, APIKey: "sk-test"})
	resp, err := p.Generate(context.Background(), &Request{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "A title" {
		t.Errorf("Text = %q, want %q", resp.Text, "A title")
	}
	if resp.PromptTokens != 50 || resp.OutputTokens != 4 {
		t.Errorf("tokens = %d/%d, want 50/4", resp.PromptTokens, resp.OutputTokens)
	}
}

func TestOpenAI_Generate_ReasoningSideChannels(t *testing.T) {
	tests := []struct {
		name    string
		message map[string]any
		want    string
	}{
		{
			name:    "reasoning_content",
			message: map[string]any{"content": "answer", "reasoning_content": "deepseek style"},
			want:    "deepseek style",
		},
		{
			name:    "reasoning",
			message: map[string]any{"content": "answer", "reasoning": "openrouter style"},
			want:    "openrouter style",
		},
		{
			name:    "think prefix in content",
			message: map[string]any{"content": "<think>inline</think>answer"},
			want:    "inline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"choices": []map[string]any{{"message": tt.message}},
				})
			}))
			defer server.Close()

			p := NewOpenAI(settings.ModelSettings{Model: "r1", URL: server.URL})
			resp, err := p.Generate(context.Background(), &Request{Messages: []Message{UserMessage("hi")}})
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if resp.Thinking != tt.want {
				t.Errorf("Thinking = %q, want %q", resp.Thinking, tt.want)
			}
			if resp.Text != "answer" {
				t.Errorf("Text = %q, want %q", resp.Text, "answer")
			}
		})
	}
}

func TestOpenAI_Generate_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "get_document" {
			t.Errorf("tools not forwarded: %+v", req.Tools)
		}
		if req.ToolChoice != "auto" {
			t.Errorf("tool_choice = %s, want auto", req.ToolChoice)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":   "call_abc",
						"type": "function",
						"function": map[string]any{
							"name":      "get_document",
							"arguments": `{"doc_id": 42}`,
						},
					}},
				},
			}},
		})
	}))
	defer server.Close()

	p := NewOpenAI(settings.ModelSettings{Model: "gpt-4.1", URL: server.URL})
	resp, err := p.Generate(context.Background(), &Request{
		Messages: []Message{UserMessage("look up 42")},
		Tools:    []ToolDefinition{{Name: "get_document", Description: "lookup", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_abc" {
		t.Errorf("ID = %s, want call_abc", resp.ToolCalls[0].ID)
	}
	if resp.ToolCalls[0].Args["doc_id"] != float64(42) {
		t.Errorf("Args[doc_id] = %v, want 42", resp.ToolCalls[0].Args["doc_id"])
	}
}

func TestOpenAI_GenerateStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
			t.Fatalf("response_format = %+v, want json_schema", req.ResponseFormat)
		}
		if req.ResponseFormat.JSONSchema == nil || !req.ResponseFormat.JSONSchema.Strict {
			t.Error("json_schema should be strict")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": `{"title":"Lease 2024"}`},
			}},
		})
	}))
	defer server.Close()

	p := NewOpenAI(settings.ModelSettings{Model: "gpt-4.1", URL: server.URL})
	resp, err := p.GenerateStructured(context.Background(), &Request{Messages: []Message{UserMessage("title it")}},
		map[string]any{"type": "object", "properties": map[string]any{"title": map[string]any{"type": "string"}}})
	if err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}

	var got struct {
		Title string `json:"title"`
	}
	if err := DecodeStructured(resp, &got); err != nil {
		t.Fatalf("DecodeStructured() error = %v", err)
	}
	if got.Title != "Lease 2024" {
		t.Errorf("Title = %q, want %q", got.Title, "Lease 2024")
	}
}

func TestOpenAI_Generate_ImageParts(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3, 4}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string              `json:"role"`
				Content []openaiContentPart `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 1 {
			t.Fatalf("len(messages) = %d, want 1", len(req.Messages))
		}
		parts := req.Messages[0].Content
		if len(parts) != 2 {
			t.Fatalf("len(parts) = %d, want 2", len(parts))
		}
		if parts[0].Type != "text" || parts[0].Text != "read this page" {
			t.Errorf("parts[0] = %+v, want text part", parts[0])
		}
		if parts[1].Type != "image_url" || parts[1].ImageURL == nil {
			t.Fatalf("parts[1] = %+v, want image_url part", parts[1])
		}
		if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
			t.Errorf("image URL = %q, want data:image/png;base64 prefix", parts[1].ImageURL.URL)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "extracted text"},
			}},
		})
	}))
	defer server.Close()

	p := NewOpenAI(settings.ModelSettings{Model: "gpt-4.1", URL: server.URL})
	resp, err := p.Generate(context.Background(), &Request{
		Messages: []Message{{
			Role:    RoleUser,
			Content: "read this page",
			Images:  []Image{{Data: png}},
		}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "extracted text" {
		t.Errorf("Text = %q, want %q", resp.Text, "extracted text")
	}
}

func TestOpenAI_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid schema", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	p := NewOpenAI(settings.ModelSettings{Model: "gpt-4.1", URL: server.URL})
	_, err := p.Generate(context.Background(), &Request{Messages: []Message{UserMessage("hi")}})
	if err == nil {
		t.Fatal("Generate() expected error")
	}

	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("error = %T, want *Error", err)
	}
	if llmErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", llmErr.StatusCode)
	}
	if llmErr.Message != "invalid schema" {
		t.Errorf("Message = %q, want %q", llmErr.Message, "invalid schema")
	}
	if IsRetryable(err) {
		t.Error("client errors must not be retryable")
	}
}
