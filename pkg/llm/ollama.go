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

const defaultCallTimeout = 2 * time.Minute

// Option adjusts provider construction, mainly for tests.
type Option func(*providerOptions)

type providerOptions struct {
	http    *httpclient.Client
	timeout time.Duration
}

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(o *providerOptions) { o.http = c }
}

// WithCallTimeout bounds each Generate call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *providerOptions) { o.timeout = d }
}

func buildOptions(opts []Option) providerOptions {
	o := providerOptions{timeout: defaultCallTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.http == nil {
		o.http = httpclient.New(
			httpclient.WithRetryStrategy(httpclient.RateLimitOnlyStrategy),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
		)
	}
	return o
}

// Ollama talks to an ollama server's /api/chat endpoint.
type Ollama struct {
	model   string
	baseURL string
	apiKey  string
	http    *httpclient.Client
	timeout time.Duration
}

// NewOllama builds a provider for the configured model. The URL
// defaults to a local server.
func NewOllama(cfg settings.ModelSettings, opts ...Option) *Ollama {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	o := buildOptions(opts)
	return &Ollama{
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    o.http,
		timeout: o.timeout,
	}
}

func (p *Ollama) Name() string { return p.model }

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Think    bool            `json:"think,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaToolCallFunction `json:"function"`
}

type ollamaToolCallFunction struct {
	Index     int            `json:"index,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func (p *Ollama) Generate(ctx context.Context, req *Request) (*Response, error) {
	wire := p.buildRequest(req, nil)
	return p.call(ctx, wire)
}

func (p *Ollama) GenerateStructured(ctx context.Context, req *Request, schema map[string]any) (*Response, error) {
	wire := p.buildRequest(req, schema)
	return p.call(ctx, wire)
}

func (p *Ollama) buildRequest(req *Request, schema map[string]any) ollamaRequest {
	msgs := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			om.Images = append(om.Images, base64.StdEncoding.EncodeToString(img.Data))
		}
		if len(m.ToolCalls) > 0 {
			om.ToolCalls = make([]ollamaToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				om.ToolCalls[i] = ollamaToolCall{Function: ollamaToolCallFunction{
					Index:     i,
					Name:      tc.Name,
					Arguments: args,
				}}
			}
		}
		if m.Role == RoleTool {
			// Ollama matches tool results by name, not call id.
			om.ToolName = m.ToolName
			if om.ToolName == "" {
				om.ToolName = m.ToolCallID
			}
		}
		msgs = append(msgs, om)
	}

	wire := ollamaRequest{
		Model:    p.model,
		Messages: msgs,
		Stream:   false,
		Think:    req.Think,
	}

	if req.Temperature != nil || req.MaxTokens > 0 {
		wire.Options = &ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}

	switch {
	case schema != nil:
		wire.Format = schema
	case req.Format == "json":
		wire.Format = "json"
	}

	if len(req.Tools) > 0 {
		wire.Tools = make([]ollamaTool, len(req.Tools))
		for i, t := range req.Tools {
			wire.Tools[i] = ollamaTool{
				Type: "function",
				Function: ollamaToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
	}

	return wire
}

func (p *Ollama) call(ctx context.Context, wire ollamaRequest) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(httpReq)
	// The retry client returns both a response and an error for non-2xx
	// statuses; only a nil response means the transport failed.
	if resp == nil {
		return nil, &Error{Provider: "ollama", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: "ollama", Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Provider: "ollama", StatusCode: resp.StatusCode, Message: ollamaErrorMessage(raw)}
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Provider: "ollama", Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != "" {
		return nil, &Error{Provider: "ollama", StatusCode: resp.StatusCode, Message: parsed.Error}
	}

	out := &Response{
		Thinking:     parsed.Message.Thinking,
		PromptTokens: parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
	}
	out.Text = parsed.Message.Content
	if out.Thinking == "" {
		out.Thinking, out.Text = SplitThinking(parsed.Message.Content)
	}
	for i, tc := range parsed.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   fmt.Sprintf("call_%d_%s", i, tc.Function.Name),
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out, nil
}

func ollamaErrorMessage(body []byte) string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
		return env.Error
	}
	return strings.TrimSpace(string(body))
}
