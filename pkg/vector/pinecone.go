package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/scribadev/scriba/pkg/settings"
)

// Pinecone indexes into a managed pinecone index. The index itself is
// created out of band; we only read and write vectors.
type Pinecone struct {
	client   *pinecone.Client
	index    string
	embedder Embedder
}

func NewPinecone(cfg settings.VectorSettings, embedder Embedder) (*Pinecone, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("pinecone requires an api key")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
		Host:   cfg.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}

	index := cfg.Collection
	if index == "" {
		index = defaultCollection
	}

	return &Pinecone{
		client:   client,
		index:    index,
		embedder: embedder,
	}, nil
}

// connect resolves the index host and opens a connection for one
// operation. Connections are cheap and carry per-host state, so each
// call opens and closes its own.
func (p *Pinecone) connect(ctx context.Context) (*pinecone.IndexConnection, error) {
	index, err := p.client.DescribeIndex(ctx, p.index)
	if err != nil {
		return nil, fmt.Errorf("describe pinecone index %s: %w", p.index, err)
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, fmt.Errorf("connect to pinecone index %s: %w", p.index, err)
	}
	return conn, nil
}

func (p *Pinecone) Upsert(ctx context.Context, doc *Document) error {
	vec, err := p.embedder.Embed(ctx, embedText(doc))
	if err != nil {
		return fmt.Errorf("embed document %d: %w", doc.ID, err)
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	metadata, err := structpb.NewStruct(map[string]any{
		"title":         doc.Title,
		"tags":          joinTags(doc.Tags),
		"correspondent": doc.Correspondent,
		"document_type": doc.DocumentType,
		"processed":     doc.Processed,
	})
	if err != nil {
		return fmt.Errorf("convert metadata for document %d: %w", doc.ID, err)
	}

	_, err = conn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       docIDString(doc.ID),
		Values:   vec,
		Metadata: metadata,
	}})
	if err != nil {
		return fmt.Errorf("upsert vector %d: %w", doc.ID, err)
	}
	return nil
}

func (p *Pinecone) Search(ctx context.Context, query string, limit int, processedOnly bool) ([]Match, error) {
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var filter *pinecone.MetadataFilter
	if processedOnly {
		filter, err = structpb.NewStruct(map[string]any{"processed": true})
		if err != nil {
			return nil, fmt.Errorf("convert filter: %w", err)
		}
	}

	response, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vec,
		TopK:            uint32(limit),
		MetadataFilter:  filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query pinecone: %w", err)
	}

	matches := make([]Match, 0, len(response.Matches))
	for _, scored := range response.Matches {
		if scored.Vector == nil {
			continue
		}
		meta := map[string]any{}
		if scored.Vector.Metadata != nil {
			meta = scored.Vector.Metadata.AsMap()
		}
		matches = append(matches, Match{
			DocID:         parseDocID(scored.Vector.Id),
			Title:         metadataString(meta, "title"),
			Tags:          splitTags(metadataString(meta, "tags")),
			Correspondent: metadataString(meta, "correspondent"),
			DocumentType:  metadataString(meta, "document_type"),
			Score:         scored.Score,
		})
	}
	return matches, nil
}

func (p *Pinecone) Delete(ctx context.Context, docID int) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, []string{docIDString(docID)}); err != nil {
		return fmt.Errorf("delete vector %d: %w", docID, err)
	}
	return nil
}

// Close is a no-op; the pinecone client holds no long-lived
// connections of its own.
func (p *Pinecone) Close() error {
	return nil
}

func metadataString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}
