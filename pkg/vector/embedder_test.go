package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/scribadev/scriba/pkg/settings"
)

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s, want /api/embeddings", r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "nomic-embed-text" {
			t.Errorf("model = %q", req["model"])
		}
		if req["prompt"] != "electricity invoice" {
			t.Errorf("prompt = %q", req["prompt"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer server.Close()

	embedder, err := NewEmbedder(settings.EmbeddingSettings{
		Provider:   "ollama",
		Model:      "nomic-embed-text",
		URL:        server.URL,
		Dimensions: 3,
	})
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	if embedder.Dimensions() != 3 {
		t.Errorf("Dimensions() = %d, want 3", embedder.Dimensions())
	}

	vec, err := embedder.Embed(context.Background(), "electricity invoice")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vector = %v", vec)
	}
}

func TestOllamaEmbedder_ModelError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "model not found"})
	}))
	defer server.Close()

	embedder := newOllamaEmbedder(settings.EmbeddingSettings{Model: "missing", URL: server.URL})
	_, err := embedder.Embed(context.Background(), "anything")
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("Embed error = %v, want the server message", err)
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	embedder := newOllamaEmbedder(settings.EmbeddingSettings{Model: "nomic-embed-text", URL: server.URL})
	_, err := embedder.Embed(context.Background(), "anything")
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Embed error = %v, want a status 500 failure", err)
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s, want /embeddings", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "text-embedding-3-small" {
			t.Errorf("model = %q", req["model"])
		}
		if req["input"] != "dentist letter" {
			t.Errorf("input = %q", req["input"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1, 0, 0}},
			},
		})
	}))
	defer server.Close()

	embedder, err := NewEmbedder(settings.EmbeddingSettings{
		Provider:   "openai",
		Model:      "text-embedding-3-small",
		URL:        server.URL,
		APIKey:     "sk-test",
		Dimensions: 3,
	})
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	vec, err := embedder.Embed(context.Background(), "dentist letter")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("vector = %v", vec)
	}
}

func TestOpenAIEmbedder_EmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer server.Close()

	embedder := newOpenAIEmbedder(settings.EmbeddingSettings{Model: "text-embedding-3-small", URL: server.URL})
	_, err := embedder.Embed(context.Background(), "anything")
	if err == nil || !strings.Contains(err.Error(), "empty vector") {
		t.Errorf("Embed error = %v, want an empty-vector failure", err)
	}
}
