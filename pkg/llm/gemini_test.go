package llm

import (
	"testing"

	"google.golang.org/genai"

	"github.com/scribadev/scriba/pkg/settings"
)

func TestConvertGeminiMessages(t *testing.T) {
	contents, system := convertGeminiMessages([]Message{
		SystemMessage("You are an archivist."),
		UserMessage("classify this"),
		AssistantMessage("", []ToolCall{{ID: "c1", Name: "get_document", Args: map[string]any{"doc_id": 3}}}),
		ToolResultMessage("c1", "get_document", "Title: Lease"),
		SystemMessage("Second instruction."),
	})

	if system == nil {
		t.Fatal("system instruction missing")
	}
	if got := system.Parts[0].Text; got != "You are an archivist.\n\nSecond instruction." {
		t.Errorf("system text = %q", got)
	}

	if len(contents) != 3 {
		t.Fatalf("len(contents) = %d, want 3", len(contents))
	}
	if contents[0].Role != "user" || contents[0].Parts[0].Text != "classify this" {
		t.Errorf("contents[0] = %+v, want user text", contents[0])
	}
	if contents[1].Role != "model" {
		t.Errorf("contents[1].Role = %s, want model", contents[1].Role)
	}
	if fc := contents[1].Parts[0].FunctionCall; fc == nil || fc.Name != "get_document" {
		t.Errorf("contents[1] function call = %+v", contents[1].Parts[0])
	}
	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "get_document" {
		t.Fatalf("contents[2] function response = %+v", contents[2].Parts[0])
	}
	if fr.Response["result"] != "Title: Lease" {
		t.Errorf("function response result = %v", fr.Response["result"])
	}
}

func TestConvertGeminiMessages_Images(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2}

	contents, _ := convertGeminiMessages([]Message{{
		Role:    RoleUser,
		Content: "extract the text",
		Images:  []Image{{Data: png}},
	}})

	if len(contents) != 1 {
		t.Fatalf("len(contents) = %d, want 1", len(contents))
	}
	if len(contents[0].Parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(contents[0].Parts))
	}
	blob := contents[0].Parts[1].InlineData
	if blob == nil {
		t.Fatal("image part missing inline data")
	}
	if blob.MIMEType != "image/png" {
		t.Errorf("MIMEType = %s, want image/png", blob.MIMEType)
	}
	if len(blob.Data) != len(png) {
		t.Errorf("len(Data) = %d, want %d", len(blob.Data), len(png))
	}
}

func TestToGeminiSchema(t *testing.T) {
	schema := map[string]any{
		"type":        "object",
		"description": "a result",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"kind": map[string]any{
				"type": "string",
				"enum": []any{"invoice", "receipt"},
			},
		},
		"required": []any{"title"},
	}

	got := toGeminiSchema(schema)
	if got.Type != genai.Type("OBJECT") {
		t.Errorf("Type = %s, want OBJECT", got.Type)
	}
	if got.Description != "a result" {
		t.Errorf("Description = %q", got.Description)
	}
	if len(got.Required) != 1 || got.Required[0] != "title" {
		t.Errorf("Required = %v, want [title]", got.Required)
	}
	if got.Properties["title"].Type != genai.Type("STRING") {
		t.Errorf("title type = %s, want STRING", got.Properties["title"].Type)
	}
	tags := got.Properties["tags"]
	if tags.Type != genai.Type("ARRAY") || tags.Items == nil || tags.Items.Type != genai.Type("STRING") {
		t.Errorf("tags schema = %+v", tags)
	}
	kind := got.Properties["kind"]
	if len(kind.Enum) != 2 || kind.Enum[0] != "invoice" {
		t.Errorf("kind enum = %v", kind.Enum)
	}

	if toGeminiSchema(nil) != nil {
		t.Error("nil schema should convert to nil")
	}
}

func TestParseGeminiResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: "considering the filename", Thought: true},
					{Text: "Lease Agreement 2024"},
					{FunctionCall: &genai.FunctionCall{Name: "get_document", Args: map[string]any{"doc_id": float64(9)}}},
				},
			},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     100,
			CandidatesTokenCount: 20,
		},
	}

	got, err := parseGeminiResponse(resp)
	if err != nil {
		t.Fatalf("parseGeminiResponse() error = %v", err)
	}
	if got.Text != "Lease Agreement 2024" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Thinking != "considering the filename" {
		t.Errorf("Thinking = %q", got.Thinking)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "get_document" {
		t.Errorf("ToolCalls = %+v", got.ToolCalls)
	}
	if got.ToolCalls[0].ID == "" {
		t.Error("tool call ID not synthesized")
	}
	if got.PromptTokens != 100 || got.OutputTokens != 20 {
		t.Errorf("tokens = %d/%d, want 100/20", got.PromptTokens, got.OutputTokens)
	}
}

func TestParseGeminiResponse_Empty(t *testing.T) {
	_, err := parseGeminiResponse(&genai.GenerateContentResponse{})
	if err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestNewGemini_RequiresAPIKey(t *testing.T) {
	_, err := NewGemini(settings.ModelSettings{Provider: "gemini", Model: "gemini-2.0-flash"})
	if err == nil {
		t.Fatal("NewGemini() expected error without api key")
	}
}
