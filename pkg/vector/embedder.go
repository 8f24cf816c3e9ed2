package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scribadev/scriba/pkg/httpclient"
	"github.com/scribadev/scriba/pkg/settings"
)

// Embedder turns text into a vector. Backends that need explicit
// vectors (qdrant, pinecone) call it directly; chromem wraps it in its
// embedding function.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// NewEmbedder builds the configured embedding backend.
func NewEmbedder(cfg settings.EmbeddingSettings) (Embedder, error) {
	switch cfg.Provider {
	case "ollama", "":
		return newOllamaEmbedder(cfg), nil
	case "openai":
		return newOpenAIEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}

const embedTimeout = 60 * time.Second

func newEmbedderClient(parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	return httpclient.New(
		httpclient.WithRetryStrategy(httpclient.RateLimitOnlyStrategy),
		httpclient.WithHeaderParser(parser),
	)
}

type ollamaEmbedder struct {
	model      string
	baseURL    string
	dimensions int
	http       *httpclient.Client
}

func newOllamaEmbedder(cfg settings.EmbeddingSettings) *ollamaEmbedder {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &ollamaEmbedder{
		model:      cfg.Model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		dimensions: cfg.Dimensions,
		http:       newEmbedderClient(httpclient.ParseRetryAfterHeader),
	}
}

func (e *ollamaEmbedder) Dimensions() int { return e.dimensions }

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	raw, err := postJSON(ctx, e.http, e.baseURL+"/api/embeddings", "", body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
		Error     string    `json:"error,omitempty"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama embeddings: %s", parsed.Error)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embeddings: empty vector for model %s", e.model)
	}
	return parsed.Embedding, nil
}

type openaiEmbedder struct {
	model      string
	baseURL    string
	apiKey     string
	dimensions int
	http       *httpclient.Client
}

func newOpenAIEmbedder(cfg settings.EmbeddingSettings) *openaiEmbedder {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &openaiEmbedder{
		model:      cfg.Model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     cfg.APIKey,
		dimensions: cfg.Dimensions,
		http:       newEmbedderClient(httpclient.ParseOpenAIHeaders),
	}
}

func (e *openaiEmbedder) Dimensions() int { return e.dimensions }

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{
		"model": e.model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	raw, err := postJSON(ctx, e.http, e.baseURL+"/embeddings", e.apiKey, body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openai embeddings: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty vector for model %s", e.model)
	}
	return parsed.Data[0].Embedding, nil
}

func postJSON(ctx context.Context, client *httpclient.Client, url, bearer string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	// Non-2xx statuses come back with both a response and an error.
	if resp == nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
