package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scribadev/scriba/pkg/httpclient"
	"github.com/scribadev/scriba/pkg/settings"
)

// OpenAI talks to an OpenAI-compatible chat completions endpoint. Most
// self-hosted gateways (vLLM, LM Studio, LiteLLM, OpenRouter) speak
// this dialect, so the provider leans on the common subset and reads
// reasoning side channels defensively.
type OpenAI struct {
	model   string
	baseURL string
	apiKey  string
	http    *httpclient.Client
	timeout time.Duration
}

// NewOpenAI builds a provider for the configured model. The URL
// defaults to the hosted OpenAI API.
func NewOpenAI(cfg settings.ModelSettings, opts ...Option) *OpenAI {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	o := providerOptions{timeout: defaultCallTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.http == nil {
		o.http = httpclient.New(
			httpclient.WithRetryStrategy(httpclient.RateLimitOnlyStrategy),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		)
	}
	return &OpenAI{
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    o.http,
		timeout: o.timeout,
	}
}

func (p *OpenAI) Name() string { return p.model }

type openaiRequest struct {
	Model          string                `json:"model"`
	Messages       []openaiMessage       `json:"messages"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Tools          []openaiTool          `json:"tools,omitempty"`
	ToolChoice     string                `json:"tool_choice,omitempty"`
	ResponseFormat *openaiResponseFormat `json:"response_format,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openaiJSONSchema `json:"json_schema,omitempty"`
}

type openaiJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message openaiResponseMessage `json:"message"`
}

// openaiResponseMessage reads both reasoning side channels gateways
// disagree on: DeepSeek-style reasoning_content and OpenRouter-style
// reasoning.
type openaiResponseMessage struct {
	Role             string           `json:"role"`
	Content          string           `json:"content"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	Reasoning        string           `json:"reasoning,omitempty"`
	ToolCalls        []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (p *OpenAI) Generate(ctx context.Context, req *Request) (*Response, error) {
	wire := p.buildRequest(req)
	if req.Format == "json" {
		wire.ResponseFormat = &openaiResponseFormat{Type: "json_object"}
	}
	return p.call(ctx, wire)
}

func (p *OpenAI) GenerateStructured(ctx context.Context, req *Request, schema map[string]any) (*Response, error) {
	wire := p.buildRequest(req)
	wire.ResponseFormat = &openaiResponseFormat{
		Type: "json_schema",
		JSONSchema: &openaiJSONSchema{
			Name:   "response",
			Schema: schema,
			Strict: true,
		},
	}
	return p.call(ctx, wire)
}

func (p *OpenAI) buildRequest(req *Request) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleTool {
			msgs = append(msgs, openaiMessage{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
			continue
		}

		om := openaiMessage{Role: m.Role}
		if len(m.Images) > 0 {
			parts := []openaiContentPart{}
			if m.Content != "" {
				parts = append(parts, openaiContentPart{Type: "text", Text: m.Content})
			}
			for _, img := range m.Images {
				dataURL := fmt.Sprintf("data:%s;base64,%s", img.MediaType(), base64.StdEncoding.EncodeToString(img.Data))
				parts = append(parts, openaiContentPart{Type: "image_url", ImageURL: &openaiImageURL{URL: dataURL}})
			}
			om.Content = parts
		} else {
			om.Content = m.Content
		}

		if len(m.ToolCalls) > 0 {
			om.ToolCalls = make([]openaiToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				om.ToolCalls[i] = openaiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openaiFunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				}
			}
		}
		msgs = append(msgs, om)
	}

	wire := openaiRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		wire.MaxTokens = &maxTokens
	}
	if len(req.Tools) > 0 {
		wire.Tools = make([]openaiTool, len(req.Tools))
		for i, t := range req.Tools {
			wire.Tools[i] = openaiTool{Type: "function", Function: openaiToolFunction(t)}
		}
		wire.ToolChoice = "auto"
	}
	return wire
}

func (p *OpenAI) call(ctx context.Context, wire openaiRequest) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(httpReq)
	if resp == nil {
		return nil, &Error{Provider: "openai", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: "openai", Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Provider: "openai", StatusCode: resp.StatusCode, Message: openaiErrorMessage(raw)}
	}

	var parsed openaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Provider: "openai", Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != nil {
		return nil, &Error{Provider: "openai", StatusCode: resp.StatusCode, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Provider: "openai", Message: "no choices in response"}
	}

	choice := parsed.Choices[0]
	out := &Response{
		Text:         choice.Message.Content,
		Thinking:     choice.Message.ReasoningContent,
		PromptTokens: parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}
	if out.Thinking == "" {
		out.Thinking = choice.Message.Reasoning
	}
	if out.Thinking == "" {
		out.Thinking, out.Text = SplitThinking(choice.Message.Content)
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				// Malformed tool arguments are a structured-output
				// failure, not a transport one.
				return nil, &ParseError{Raw: tc.Function.Arguments, Err: fmt.Errorf("tool call arguments: %w", err)}
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out, nil
}

func openaiErrorMessage(body []byte) string {
	var env struct {
		Error openaiError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}
