package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/vector"
)

// Deps are the read-only backends the document tools consult.
type Deps struct {
	DMS      *dms.Client
	Vector   vector.Store
	Settings *settings.Service
}

// DocumentTools returns the fixed tool set in the order the analysis
// prompts list them.
func DocumentTools(deps Deps) []Tool {
	return []Tool{
		&searchSimilar{deps: deps},
		&getDocument{deps: deps},
		&documentsByEntity{deps: deps, tool: "get_documents_by_tag", kind: dms.EntityTag},
		&documentsByEntity{deps: deps, tool: "get_documents_by_correspondent", kind: dms.EntityCorrespondent},
		&documentsByEntity{deps: deps, tool: "get_documents_by_type", kind: dms.EntityDocumentType},
		&documentsByCustomField{deps: deps},
		&listCustomFields{deps: deps},
	}
}

// processedTag resolves the workflow tag marking fully-processed documents.
// dms.ErrNotFound means nothing has been processed yet.
func (d Deps) processedTag(ctx context.Context) (*dms.Tag, error) {
	s, err := d.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	return d.DMS.FindTag(ctx, s.Tags.Processed)
}

// nameMaps resolve the id references documents carry into display names.
type nameMaps struct {
	tags           map[int]string
	correspondents map[int]string
	doctypes       map[int]string

	// workflow tags encode pipeline state, not content, and are hidden
	// from renderings so the model never suggests them back.
	workflow map[string]bool
}

func (d Deps) loadNameMaps(ctx context.Context) (*nameMaps, error) {
	s, err := d.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	m := &nameMaps{
		tags:           make(map[int]string),
		correspondents: make(map[int]string),
		doctypes:       make(map[int]string),
		workflow:       make(map[string]bool),
	}
	for _, name := range s.Tags.All() {
		m.workflow[strings.ToLower(name)] = true
	}

	tags, err := d.DMS.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		m.tags[t.ID] = t.Name
	}

	correspondents, err := d.DMS.ListCorrespondents(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range correspondents {
		m.correspondents[c.ID] = c.Name
	}

	doctypes, err := d.DMS.ListDocumentTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, dt := range doctypes {
		m.doctypes[dt.ID] = dt.Name
	}

	return m, nil
}

// contentTags returns the document's tag names minus the workflow tags.
func (m *nameMaps) contentTags(ids []int) []string {
	var names []string
	for _, id := range ids {
		name, ok := m.tags[id]
		if !ok || m.workflow[strings.ToLower(name)] {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (m *nameMaps) correspondent(doc *dms.Document) string {
	if doc.Correspondent == nil {
		return ""
	}
	return m.correspondents[*doc.Correspondent]
}

func (m *nameMaps) documentType(doc *dms.Document) string {
	if doc.DocumentType == nil {
		return ""
	}
	return m.doctypes[*doc.DocumentType]
}

// renderDocumentList renders one line per document under a header.
func renderDocumentList(header string, docs []*dms.Document, m *nameMaps) string {
	var b strings.Builder
	b.WriteString(header)
	for i, doc := range docs {
		fmt.Fprintf(&b, "\n%d. [ID %d] %q", i+1, doc.ID, doc.Title)
		if c := m.correspondent(doc); c != "" {
			b.WriteString("; correspondent: " + c)
		}
		if dt := m.documentType(doc); dt != "" {
			b.WriteString("; type: " + dt)
		}
		if tags := m.contentTags(doc.Tags); len(tags) > 0 {
			b.WriteString("; tags: " + strings.Join(tags, ", "))
		}
	}
	return b.String()
}

// maxContentRunes bounds the document content included in a tool result so
// one lookup cannot crowd out the rest of the prompt.
const maxContentRunes = 2000

func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n[content truncated]"
}

func hasTag(ids []int, id int) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// kindLabel spells an entity kind for model-facing messages.
func kindLabel(kind dms.EntityKind) string {
	if kind == dms.EntityDocumentType {
		return "document type"
	}
	return string(kind)
}

func limitProperty() map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": fmt.Sprintf("Maximum number of results (default %d, at most %d)", defaultLimit, maxLimit),
	}
}
