package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/scribadev/scriba/pkg/dms"
)

// documentsByEntity lists processed documents carrying a named tag,
// correspondent or document type. One implementation covers all three
// tools; only the filter parameter differs.
type documentsByEntity struct {
	deps Deps
	tool string
	kind dms.EntityKind
}

func (t *documentsByEntity) Name() string { return t.tool }

func (t *documentsByEntity) Description() string {
	switch t.kind {
	case dms.EntityTag:
		return "List fully-processed documents carrying a tag, by tag name."
	case dms.EntityCorrespondent:
		return "List fully-processed documents from a correspondent, by correspondent name."
	default:
		return "List fully-processed documents of a document type, by type name."
	}
}

func (t *documentsByEntity) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("The %s name, matched case-insensitively", kindLabel(t.kind)),
			},
			"limit": limitProperty(),
		},
		"required": []string{"name"},
	}
}

func (t *documentsByEntity) Call(ctx context.Context, args map[string]any) (string, error) {
	name, err := stringArg(t.tool, args, "name")
	if err != nil {
		return "", err
	}
	limit := limitArg(args)

	entity, err := t.deps.DMS.FindEntity(ctx, t.kind, name)
	if errors.Is(err, dms.ErrNotFound) {
		return "", &ToolError{Tool: t.tool, Msg: fmt.Sprintf("no %s named %q exists", kindLabel(t.kind), name)}
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", kindLabel(t.kind), name, err)
	}

	processed, err := t.deps.processedTag(ctx)
	if errors.Is(err, dms.ErrNotFound) {
		return t.emptyResult(entity.Name), nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve processed tag: %w", err)
	}

	filter := url.Values{}
	switch t.kind {
	case dms.EntityTag:
		// Both the named tag and the processed tag must be present, so
		// the AND form of the tag filter.
		filter.Set("tags__id__all", fmt.Sprintf("%d,%d", entity.ID, processed.ID))
	case dms.EntityCorrespondent:
		filter.Set("correspondent", strconv.Itoa(entity.ID))
		filter.Set("tags__id__all", strconv.Itoa(processed.ID))
	case dms.EntityDocumentType:
		filter.Set("document_type", strconv.Itoa(entity.ID))
		filter.Set("tags__id__all", strconv.Itoa(processed.ID))
	}

	docs, err := t.deps.DMS.ListDocuments(ctx, filter, limit)
	if err != nil {
		return "", fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return t.emptyResult(entity.Name), nil
	}

	maps, err := t.deps.loadNameMaps(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve entity names: %w", err)
	}
	header := fmt.Sprintf("Found %d documents with %s %q:", len(docs), kindLabel(t.kind), entity.Name)
	return renderDocumentList(header, docs, maps), nil
}

func (t *documentsByEntity) emptyResult(name string) string {
	return fmt.Sprintf("No processed documents with %s %q found.", kindLabel(t.kind), name)
}
