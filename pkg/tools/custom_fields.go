package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
)

// documentsByCustomField lists processed documents carrying a custom
// field, optionally narrowed to a value.
type documentsByCustomField struct {
	deps Deps
}

func (t *documentsByCustomField) Name() string { return "get_documents_by_custom_field" }

func (t *documentsByCustomField) Description() string {
	return "List fully-processed documents that have a custom field set, by field name. " +
		"Pass value to match only documents whose field contains that value."
}

func (t *documentsByCustomField) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "The custom field name; use list_custom_fields to discover them",
			},
			"value": map[string]any{
				"type":        "string",
				"description": "Optional value the field must contain",
			},
			"limit": limitProperty(),
		},
		"required": []string{"name"},
	}
}

func (t *documentsByCustomField) Call(ctx context.Context, args map[string]any) (string, error) {
	name, err := stringArg(t.Name(), args, "name")
	if err != nil {
		return "", err
	}
	value := optionalStringArg(args, "value")
	limit := limitArg(args)

	fields, err := t.deps.DMS.ListCustomFields(ctx)
	if err != nil {
		return "", fmt.Errorf("list custom fields: %w", err)
	}
	var field *dms.CustomField
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			field = f
			break
		}
	}
	if field == nil {
		msg := fmt.Sprintf("no custom field named %q exists", name)
		if len(fields) > 0 {
			available := make([]string, 0, len(fields))
			for _, f := range fields {
				available = append(available, f.Name)
			}
			msg += "; available fields: " + strings.Join(available, ", ")
		}
		return "", &ToolError{Tool: t.Name(), Msg: msg}
	}

	processed, err := t.deps.processedTag(ctx)
	if errors.Is(err, dms.ErrNotFound) {
		return t.emptyResult(field.Name, value), nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve processed tag: %w", err)
	}

	// The DMS takes custom field queries as a JSON triple of field name,
	// operator and operand.
	var query []any
	if value != "" {
		query = []any{field.Name, "icontains", value}
	} else {
		query = []any{field.Name, "exists", true}
	}
	encoded, err := json.Marshal(query)
	if err != nil {
		return "", fmt.Errorf("encode custom field query: %w", err)
	}

	filter := url.Values{}
	filter.Set("custom_field_query", string(encoded))
	filter.Set("tags__id__all", strconv.Itoa(processed.ID))

	docs, err := t.deps.DMS.ListDocuments(ctx, filter, limit)
	if err != nil {
		return "", fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return t.emptyResult(field.Name, value), nil
	}

	maps, err := t.deps.loadNameMaps(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve entity names: %w", err)
	}
	header := fmt.Sprintf("Found %d documents with custom field %q:", len(docs), field.Name)
	if value != "" {
		header = fmt.Sprintf("Found %d documents with custom field %q containing %q:", len(docs), field.Name, value)
	}
	return renderDocumentList(header, docs, maps), nil
}

func (t *documentsByCustomField) emptyResult(field, value string) string {
	if value != "" {
		return fmt.Sprintf("No processed documents with custom field %q containing %q found.", field, value)
	}
	return fmt.Sprintf("No processed documents with custom field %q found.", field)
}

// listCustomFields enumerates the custom field schema.
type listCustomFields struct {
	deps Deps
}

func (t *listCustomFields) Name() string { return "list_custom_fields" }

func (t *listCustomFields) Description() string {
	return "List every custom field defined in the DMS, with its data type."
}

func (t *listCustomFields) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *listCustomFields) Call(ctx context.Context, _ map[string]any) (string, error) {
	fields, err := t.deps.DMS.ListCustomFields(ctx)
	if err != nil {
		return "", fmt.Errorf("list custom fields: %w", err)
	}
	if len(fields) == 0 {
		return "No custom fields are defined.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d custom fields are defined:", len(fields))
	for _, f := range fields {
		fmt.Fprintf(&b, "\n- %s (%s)", f.Name, f.DataType)
	}
	return b.String(), nil
}
