package dms

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ListTags returns every tag in the DMS.
func (c *Client) ListTags(ctx context.Context) ([]*Tag, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	return fetchAll[*Tag](ctx, c, cfg, "tags/", nil)
}

// ListCorrespondents returns every correspondent in the DMS.
func (c *Client) ListCorrespondents(ctx context.Context) ([]*Correspondent, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	return fetchAll[*Correspondent](ctx, c, cfg, "correspondents/", nil)
}

// ListDocumentTypes returns every document type in the DMS.
func (c *Client) ListDocumentTypes(ctx context.Context) ([]*DocumentType, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	return fetchAll[*DocumentType](ctx, c, cfg, "document_types/", nil)
}

// ListCustomFields returns the custom-field schema of the DMS.
func (c *Client) ListCustomFields(ctx context.Context) ([]*CustomField, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	return fetchAll[*CustomField](ctx, c, cfg, "custom_fields/", nil)
}

// ListEntities returns all entities of a kind with their document counts, in
// the DMS's listing order.
func (c *Client) ListEntities(ctx context.Context, kind EntityKind) ([]*Entity, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	if kind.path() == "" {
		return nil, fmt.Errorf("dms: unknown entity kind %q", kind)
	}
	return fetchAll[*Entity](ctx, c, cfg, kind.path()+"/", nil)
}

// findEntity looks an entity up by name, case-insensitively, preserving the
// DMS's canonical casing in the returned record.
func (c *Client) findEntity(ctx context.Context, cfg Config, kind EntityKind, name string) (*Entity, error) {
	query := url.Values{}
	query.Set("name__iexact", name)

	var p page[*Entity]
	if err := c.get(ctx, cfg, kind.path()+"/", query, &p); err != nil {
		return nil, err
	}
	for _, entity := range p.Results {
		if strings.EqualFold(entity.Name, name) {
			return entity, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, name)
}

func (c *Client) findTag(ctx context.Context, cfg Config, name string) (*Tag, error) {
	entity, err := c.findEntity(ctx, cfg, EntityTag, name)
	if err != nil {
		return nil, err
	}
	return &Tag{ID: entity.ID, Name: entity.Name, DocumentCount: entity.DocumentCount}, nil
}

// FindTag resolves a tag by name. Absent tags return ErrNotFound.
func (c *Client) FindTag(ctx context.Context, name string) (*Tag, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	return c.findTag(ctx, cfg, name)
}

// FindEntity resolves an entity of the given kind by name, case-insensitively.
// Absent names return ErrNotFound.
func (c *Client) FindEntity(ctx context.Context, kind EntityKind, name string) (*Entity, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	return c.findEntity(ctx, cfg, kind, name)
}

// getOrCreate finds the named entity or creates it. A creation race (the
// DMS rejects the duplicate name) resolves by re-reading.
func (c *Client) getOrCreate(ctx context.Context, kind EntityKind, name string) (*Entity, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}

	entity, err := c.findEntity(ctx, cfg, kind, name)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var created Entity
	createErr := c.post(ctx, cfg, kind.path()+"/", map[string]string{"name": name}, &created)
	if createErr == nil {
		return &created, nil
	}

	var dmsErr *Error
	if errors.As(createErr, &dmsErr) && dmsErr.StatusCode == 400 {
		if entity, err := c.findEntity(ctx, cfg, kind, name); err == nil {
			return entity, nil
		}
	}
	return nil, createErr
}

// GetOrCreateTag resolves or creates a tag by name.
func (c *Client) GetOrCreateTag(ctx context.Context, name string) (*Tag, error) {
	entity, err := c.getOrCreate(ctx, EntityTag, name)
	if err != nil {
		return nil, err
	}
	return &Tag{ID: entity.ID, Name: entity.Name}, nil
}

// GetOrCreateCorrespondent resolves or creates a correspondent by name.
func (c *Client) GetOrCreateCorrespondent(ctx context.Context, name string) (*Correspondent, error) {
	entity, err := c.getOrCreate(ctx, EntityCorrespondent, name)
	if err != nil {
		return nil, err
	}
	return &Correspondent{ID: entity.ID, Name: entity.Name}, nil
}

// GetOrCreateDocumentType resolves or creates a document type by name.
func (c *Client) GetOrCreateDocumentType(ctx context.Context, name string) (*DocumentType, error) {
	entity, err := c.getOrCreate(ctx, EntityDocumentType, name)
	if err != nil {
		return nil, err
	}
	return &DocumentType{ID: entity.ID, Name: entity.Name}, nil
}

// UpdateTagColor sets a tag's display color, used by the color-repair
// operation for workflow tags.
func (c *Client) UpdateTagColor(ctx context.Context, tagID int, color string) error {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return err
	}
	return c.patch(ctx, cfg, fmt.Sprintf("tags/%d/", tagID),
		map[string]string{"color": color}, nil)
}

// CountByEntity returns how many documents currently reference the entity.
func (c *Client) CountByEntity(ctx context.Context, kind EntityKind, id int) (int, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return 0, err
	}

	query := url.Values{}
	query.Set(filterParam(kind), strconv.Itoa(id))
	query.Set("page_size", "1")

	var p page[*Document]
	if err := c.get(ctx, cfg, "documents/", query, &p); err != nil {
		return 0, err
	}
	return p.Count, nil
}

// DeleteEntity removes an entity from the DMS.
func (c *Client) DeleteEntity(ctx context.Context, kind EntityKind, id int) error {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return err
	}
	if kind.path() == "" {
		return fmt.Errorf("dms: unknown entity kind %q", kind)
	}
	return c.delete(ctx, cfg, fmt.Sprintf("%s/%d/", kind.path(), id))
}

func filterParam(kind EntityKind) string {
	switch kind {
	case EntityTag:
		return "tags__id"
	case EntityCorrespondent:
		return "correspondent"
	case EntityDocumentType:
		return "document_type"
	default:
		return ""
	}
}

// MergeEntities reassigns every document referencing source to target, one
// batch of 100 at a time, then deletes source. Batches are re-fetched from
// the first page because each reassignment shrinks the filtered set.
func (c *Client) MergeEntities(ctx context.Context, kind EntityKind, sourceID, targetID int) error {
	if sourceID == targetID {
		return fmt.Errorf("dms: cannot merge entity %d into itself", sourceID)
	}
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set(filterParam(kind), strconv.Itoa(sourceID))
	query.Set("page_size", "100")

	for {
		var p page[*Document]
		if err := c.get(ctx, cfg, "documents/", query, &p); err != nil {
			return err
		}
		if len(p.Results) == 0 {
			break
		}

		for _, doc := range p.Results {
			patch := DocumentPatch{}
			switch kind {
			case EntityTag:
				tags := removeID(doc.Tags, sourceID)
				if !containsID(tags, targetID) {
					tags = append(tags, targetID)
				}
				patch.Tags = &tags
			case EntityCorrespondent:
				target := targetID
				patch.Correspondent = &target
			case EntityDocumentType:
				target := targetID
				patch.DocumentType = &target
			}
			if _, err := c.UpdateDocument(ctx, doc.ID, patch); err != nil {
				return fmt.Errorf("merge reassignment of document %d failed: %w", doc.ID, err)
			}
		}
	}

	return c.DeleteEntity(ctx, kind, sourceID)
}
