package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/scribadev/scriba/pkg/settings"
)

// Gemini talks to Google Gemini through the official genai SDK. It is
// the default backend for the vision role, where page images flow in as
// inline blobs for OCR re-extraction.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini builds a provider for the configured model.
func NewGemini(cfg settings.ModelSettings, opts ...Option) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	o := providerOptions{timeout: defaultCallTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{client: client, model: model, timeout: o.timeout}, nil
}

func (p *Gemini) Name() string { return p.model }

func (p *Gemini) Generate(ctx context.Context, req *Request) (*Response, error) {
	config := p.buildConfig(req, nil)
	return p.call(ctx, req, config)
}

func (p *Gemini) GenerateStructured(ctx context.Context, req *Request, schema map[string]any) (*Response, error) {
	config := p.buildConfig(req, schema)
	return p.call(ctx, req, config)
}

func (p *Gemini) call(ctx context.Context, req *Request, config *genai.GenerateContentConfig) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	contents, system := convertGeminiMessages(req.Messages)
	config.SystemInstruction = system

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, &Error{Provider: "gemini", Err: err}
	}
	return parseGeminiResponse(resp)
}

func (p *Gemini) buildConfig(req *Request, schema map[string]any) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if schema != nil {
		config.ResponseSchema = toGeminiSchema(schema)
		config.ResponseMIMEType = "application/json"
	} else if req.Format == "json" {
		config.ResponseMIMEType = "application/json"
	}
	if req.Think {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if len(req.Tools) > 0 {
		for _, t := range req.Tools {
			config.Tools = append(config.Tools, &genai.Tool{
				FunctionDeclarations: []*genai.FunctionDeclaration{{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  toGeminiSchema(t.Parameters),
				}},
			})
		}
	}
	return config
}

// convertGeminiMessages maps chat turns to genai contents. System turns
// merge into the system instruction; tool results become function
// response parts on user-role contents.
func convertGeminiMessages(messages []Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemParts []string

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}

		case RoleTool:
			name := m.ToolName
			if name == "" {
				name = m.ToolCallID
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})

		default:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, img := range m.Images {
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: img.MediaType(), Data: img.Data},
				})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Args},
				})
			}
			if len(parts) == 0 {
				continue
			}
			role := "user"
			if m.Role == RoleAssistant {
				role = "model"
			}
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}
	return contents, system
}

// toGeminiSchema converts a JSON schema object to the SDK's schema
// type. Only the subset the agents generate is mapped.
func toGeminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if required, ok := schema["required"].([]string); ok {
		s.Required = append(s.Required, required...)
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if len(resp.Candidates) == 0 {
		return nil, &Error{Provider: "gemini", Message: "empty response"}
	}

	out := &Response{}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return out, nil
	}

	var text, thinking strings.Builder
	for i, part := range candidate.Content.Parts {
		if part.Text != "" {
			if part.Thought {
				thinking.WriteString(part.Text)
			} else {
				text.WriteString(part.Text)
			}
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, part.FunctionCall.Name)
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Args: args})
		}
	}

	out.Text = text.String()
	out.Thinking = strings.TrimSpace(thinking.String())
	if out.Thinking == "" {
		out.Thinking, out.Text = SplitThinking(out.Text)
	}
	return out, nil
}
