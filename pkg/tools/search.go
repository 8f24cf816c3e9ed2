package tools

import (
	"context"
	"fmt"
	"strings"
)

// searchSimilar answers free-text similarity queries from the vector index,
// restricted to fully-processed documents.
type searchSimilar struct {
	deps Deps
}

func (t *searchSimilar) Name() string { return "search_similar_documents" }

func (t *searchSimilar) Description() string {
	return "Search for documents semantically similar to a free-text query. " +
		"Returns title, tags, correspondent and type of fully-processed documents, with similarity scores."
}

func (t *searchSimilar) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Free-text query describing the document or topic to look for",
			},
			"limit": limitProperty(),
		},
		"required": []string{"query"},
	}
}

func (t *searchSimilar) Call(ctx context.Context, args map[string]any) (string, error) {
	query, err := stringArg(t.Name(), args, "query")
	if err != nil {
		return "", err
	}
	limit := limitArg(args)

	matches, err := t.deps.Vector.Search(ctx, query, limit, true)
	if err != nil {
		return "", fmt.Errorf("similarity search: %w", err)
	}
	if len(matches) == 0 {
		return "No similar documents found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d similar documents:", len(matches))
	for i, match := range matches {
		fmt.Fprintf(&b, "\n%d. [ID %d] %q (similarity %.2f)", i+1, match.DocID, match.Title, match.Score)
		if match.Correspondent != "" {
			b.WriteString("; correspondent: " + match.Correspondent)
		}
		if match.DocumentType != "" {
			b.WriteString("; type: " + match.DocumentType)
		}
		if len(match.Tags) > 0 {
			b.WriteString("; tags: " + strings.Join(match.Tags, ", "))
		}
	}
	return b.String(), nil
}
