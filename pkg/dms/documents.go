package dms

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GetDocument fetches one document by id.
func (c *Client) GetDocument(ctx context.Context, id int) (*Document, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := c.get(ctx, cfg, fmt.Sprintf("documents/%d/", id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument applies a partial update and returns the document as the
// DMS now sees it.
func (c *Client) UpdateDocument(ctx context.Context, id int, patch DocumentPatch) (*Document, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := c.patch(ctx, cfg, fmt.Sprintf("documents/%d/", id), patch, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DownloadDocument returns the original file bytes, typically a PDF.
func (c *Client) DownloadDocument(ctx context.Context, id int) ([]byte, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, cfg, fmt.Sprintf("documents/%d/download/", id))
}

// ListByTag returns up to limit documents carrying the named tag. A missing
// tag is an empty result, not an error.
func (c *Client) ListByTag(ctx context.Context, name string, limit int) ([]*Document, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}

	tag, err := c.findTag(ctx, cfg, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("tags__id", strconv.Itoa(tag.ID))
	query.Set("page_size", strconv.Itoa(limit))

	var p page[*Document]
	if err := c.get(ctx, cfg, "documents/", query, &p); err != nil {
		return nil, err
	}
	return p.Results, nil
}

// ListByTags returns up to limit documents carrying any of the named tags.
func (c *Client) ListByTags(ctx context.Context, names []string, limit int) ([]*Document, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, name := range names {
		tag, err := c.findTag(ctx, cfg, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, strconv.Itoa(tag.ID))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("tags__id__in", strings.Join(ids, ","))
	query.Set("page_size", strconv.Itoa(limit))

	var p page[*Document]
	if err := c.get(ctx, cfg, "documents/", query, &p); err != nil {
		return nil, err
	}
	return p.Results, nil
}

// ListDocuments returns a single page of up to limit documents matching the
// filter parameters, in the DMS's listing order.
func (c *Client) ListDocuments(ctx context.Context, filter url.Values, limit int) ([]*Document, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for key, values := range filter {
		query[key] = values
	}
	query.Set("page_size", strconv.Itoa(limit))

	var p page[*Document]
	if err := c.get(ctx, cfg, "documents/", query, &p); err != nil {
		return nil, err
	}
	return p.Results, nil
}

// FetchAllByFilter retrieves every document matching the filter, following
// pagination links until exhausted.
func (c *Client) FetchAllByFilter(ctx context.Context, params url.Values) ([]*Document, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	return fetchAll[*Document](ctx, c, cfg, "documents/", params)
}

// CountByTag returns how many documents carry the named tag; 0 when the tag
// does not exist.
func (c *Client) CountByTag(ctx context.Context, name string) (int, error) {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := c.findTag(ctx, cfg, name)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	query := url.Values{}
	query.Set("tags__id", strconv.Itoa(tag.ID))
	query.Set("page_size", "1")

	var p page[*Document]
	if err := c.get(ctx, cfg, "documents/", query, &p); err != nil {
		return 0, err
	}
	return p.Count, nil
}

// AddTag puts the named tag on a document, creating the tag if the DMS does
// not know it yet. Adding a tag the document already has is a no-op.
func (c *Client) AddTag(ctx context.Context, docID int, name string) error {
	doc, err := c.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	tag, err := c.GetOrCreateTag(ctx, name)
	if err != nil {
		return err
	}

	if containsID(doc.Tags, tag.ID) {
		return nil
	}
	tags := append(append([]int{}, doc.Tags...), tag.ID)
	_, err = c.UpdateDocument(ctx, docID, DocumentPatch{Tags: &tags})
	return err
}

// RemoveTag takes the named tag off a document. Unknown tags and documents
// that never had the tag are no-ops.
func (c *Client) RemoveTag(ctx context.Context, docID int, name string) error {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return err
	}

	tag, err := c.findTag(ctx, cfg, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	doc, err := c.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if !containsID(doc.Tags, tag.ID) {
		return nil
	}

	tags := removeID(doc.Tags, tag.ID)
	_, err = c.UpdateDocument(ctx, docID, DocumentPatch{Tags: &tags})
	return err
}

// TransitionTag atomically moves a document from one workflow tag to the
// next: read the tag set, drop from, add to, write once. Already being in
// the target state is a no-op, so the operation is idempotent and safe to
// re-run after interruptions.
func (c *Client) TransitionTag(ctx context.Context, docID int, from, to string) error {
	cfg, err := c.currentConfig(ctx)
	if err != nil {
		return err
	}

	doc, err := c.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	toTag, err := c.GetOrCreateTag(ctx, to)
	if err != nil {
		return err
	}

	fromID := -1
	if from != "" {
		fromTag, err := c.findTag(ctx, cfg, from)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil {
			fromID = fromTag.ID
		}
	}

	hasTo := containsID(doc.Tags, toTag.ID)
	hasFrom := fromID >= 0 && containsID(doc.Tags, fromID)
	if hasTo && !hasFrom {
		return nil
	}

	tags := doc.Tags
	if hasFrom {
		tags = removeID(tags, fromID)
	}
	if !hasTo {
		tags = append(append([]int{}, tags...), toTag.ID)
	}

	_, err = c.UpdateDocument(ctx, docID, DocumentPatch{Tags: &tags})
	return err
}

func containsID(ids []int, id int) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func removeID(ids []int, id int) []int {
	out := make([]int, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}
