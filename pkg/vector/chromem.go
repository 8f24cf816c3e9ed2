package vector

import (
	"context"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/scribadev/scriba/pkg/settings"
)

const defaultCollection = "scriba-documents"

// Chromem is the embedded default backend. It keeps the index in a
// local gob file, so a stock install needs no external service.
type Chromem struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromem opens (or creates) the persistent index at cfg.Path. An
// empty path yields an in-memory index, which tests use.
func NewChromem(cfg settings.VectorSettings, embedder Embedder) (*Chromem, error) {
	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	name := cfg.Collection
	if name == "" {
		name = defaultCollection
	}
	collection, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open vector collection: %w", err)
	}

	return &Chromem{db: db, collection: collection}, nil
}

// Upsert indexes the document. chromem keys documents by ID, so adding
// an existing ID replaces it.
func (c *Chromem) Upsert(ctx context.Context, doc *Document) error {
	err := c.collection.AddDocument(ctx, chromem.Document{
		ID:      docIDString(doc.ID),
		Content: embedText(doc),
		Metadata: map[string]string{
			"title":         doc.Title,
			"tags":          joinTags(doc.Tags),
			"correspondent": doc.Correspondent,
			"document_type": doc.DocumentType,
			"processed":     strconv.FormatBool(doc.Processed),
		},
	})
	if err != nil {
		return fmt.Errorf("index document %d: %w", doc.ID, err)
	}
	return nil
}

func (c *Chromem) Search(ctx context.Context, query string, limit int, processedOnly bool) ([]Match, error) {
	// chromem rejects nResults larger than the collection, so clamp.
	count := c.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	var where map[string]string
	if processedOnly {
		where = map[string]string{"processed": "true"}
	}

	results, err := c.collection.Query(ctx, query, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			DocID:         parseDocID(r.ID),
			Title:         r.Metadata["title"],
			Tags:          splitTags(r.Metadata["tags"]),
			Correspondent: r.Metadata["correspondent"],
			DocumentType:  r.Metadata["document_type"],
			Score:         r.Similarity,
		})
	}
	return matches, nil
}

func (c *Chromem) Delete(ctx context.Context, docID int) error {
	if err := c.collection.Delete(ctx, nil, nil, docIDString(docID)); err != nil {
		return fmt.Errorf("delete document %d from vector index: %w", docID, err)
	}
	return nil
}

// Close is a no-op; chromem persists on every write.
func (c *Chromem) Close() error {
	return nil
}
