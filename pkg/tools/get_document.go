package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
)

// getDocument retrieves one document in full. Documents still moving
// through the pipeline are refused so the model only learns from
// human-settled metadata.
type getDocument struct {
	deps Deps
}

func (t *getDocument) Name() string { return "get_document" }

func (t *getDocument) Description() string {
	return "Retrieve one document by id: title, correspondent, type, tags, custom fields and content. " +
		"Only fully-processed documents can be retrieved."
}

func (t *getDocument) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id": map[string]any{
				"type":        "integer",
				"description": "The document id, e.g. from a search result",
			},
		},
		"required": []string{"doc_id"},
	}
}

func (t *getDocument) Call(ctx context.Context, args map[string]any) (string, error) {
	id, err := intArg(t.Name(), args, "doc_id")
	if err != nil {
		return "", err
	}

	doc, err := t.deps.DMS.GetDocument(ctx, id)
	if errors.Is(err, dms.ErrNotFound) {
		return "", &ToolError{Tool: t.Name(), Msg: fmt.Sprintf("document %d does not exist", id)}
	}
	if err != nil {
		return "", fmt.Errorf("get document %d: %w", id, err)
	}

	processed, err := t.deps.processedTag(ctx)
	if err != nil && !errors.Is(err, dms.ErrNotFound) {
		return "", fmt.Errorf("resolve processed tag: %w", err)
	}
	if processed == nil || !hasTag(doc.Tags, processed.ID) {
		return "", &ToolError{Tool: t.Name(),
			Msg: fmt.Sprintf("document %d is not fully processed; only processed documents can be retrieved", id)}
	}

	maps, err := t.deps.loadNameMaps(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve entity names: %w", err)
	}
	fields, err := t.deps.DMS.ListCustomFields(ctx)
	if err != nil {
		return "", fmt.Errorf("list custom fields: %w", err)
	}
	fieldNames := make(map[int]string, len(fields))
	for _, f := range fields {
		fieldNames[f.ID] = f.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Document %d: %q", doc.ID, doc.Title)
	if c := maps.correspondent(doc); c != "" {
		b.WriteString("\nCorrespondent: " + c)
	}
	if dt := maps.documentType(doc); dt != "" {
		b.WriteString("\nType: " + dt)
	}
	if tags := maps.contentTags(doc.Tags); len(tags) > 0 {
		b.WriteString("\nTags: " + strings.Join(tags, ", "))
	}
	if !doc.Created.IsZero() {
		b.WriteString("\nCreated: " + doc.Created.Format("2006-01-02"))
	}
	if pairs := renderFieldValues(doc.CustomFields, fieldNames); len(pairs) > 0 {
		b.WriteString("\nCustom fields: " + strings.Join(pairs, "; "))
	}
	if content := strings.TrimSpace(doc.Content); content != "" {
		b.WriteString("\nContent:\n" + clipRunes(content, maxContentRunes))
	}
	return b.String(), nil
}

func renderFieldValues(values []dms.CustomFieldValue, names map[int]string) []string {
	var pairs []string
	for _, cf := range values {
		if cf.Value == nil {
			continue
		}
		name := names[cf.Field]
		if name == "" {
			name = fmt.Sprintf("field %d", cf.Field)
		}
		pairs = append(pairs, fmt.Sprintf("%s=%v", name, cf.Value))
	}
	return pairs
}
