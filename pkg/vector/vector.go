// Package vector indexes documents for similarity lookup. The store
// backs the search_similar_documents tool and the duplicate-context
// assembly the agents do before proposing metadata.
//
// Three backends: chromem (embedded, zero-config default), qdrant
// (gRPC) and pinecone (cloud). All of them index the same projection
// of a document and answer the same query shape; the differences in
// payload typing and filtering stay inside each adapter.
package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/scribadev/scriba/pkg/settings"
)

// Document is the indexed projection of a DMS document. Tag,
// correspondent and type names are resolved before indexing so search
// hits render without extra lookups.
type Document struct {
	ID            int
	Title         string
	Content       string
	Tags          []string
	Correspondent string
	DocumentType  string
	Processed     bool
}

// Match is one similarity hit.
type Match struct {
	DocID         int
	Title         string
	Tags          []string
	Correspondent string
	DocumentType  string
	Score         float32
}

// Store indexes documents and answers similarity queries.
type Store interface {
	// Upsert indexes or reindexes one document.
	Upsert(ctx context.Context, doc *Document) error

	// Search returns up to limit matches for the query text. With
	// processedOnly set, documents still in the pipeline are excluded
	// so the model only sees human-settled metadata.
	Search(ctx context.Context, query string, limit int, processedOnly bool) ([]Match, error)

	// Delete removes a document from the index. Unknown ids are a
	// no-op.
	Delete(ctx context.Context, docID int) error

	Close() error
}

// NewStore builds the configured backend.
func NewStore(cfg settings.VectorSettings, embedder Embedder) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromem(cfg, embedder)
	case "qdrant":
		return NewQdrant(cfg, embedder)
	case "pinecone":
		return NewPinecone(cfg, embedder)
	default:
		return nil, fmt.Errorf("unsupported vector provider: %q", cfg.Provider)
	}
}

// Embedding inputs are clipped so oversized OCR dumps do not blow the
// embedding model's context.
const maxEmbedChars = 8000

const tagSeparator = "|"

// embedText is the canonical text representation a document is indexed
// under. Queries embed against the same space.
func embedText(doc *Document) string {
	text := doc.Title
	if doc.Content != "" {
		text += "\n\n" + doc.Content
	}
	return clipText(text, maxEmbedChars)
}

func clipText(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func joinTags(tags []string) string {
	return strings.Join(tags, tagSeparator)
}

func splitTags(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, tagSeparator)
}

func docIDString(id int) string {
	return strconv.Itoa(id)
}

func parseDocID(s string) int {
	id, _ := strconv.Atoi(s)
	return id
}
