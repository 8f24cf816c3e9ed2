package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/prompts"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/vector"
	"github.com/scribadev/scriba/pkg/workflow"
)

const noneMarker = "(none)"

// similarMatches queries the vector index for processed lookalikes.
// Similarity context is advisory: on error the agent proceeds without
// it rather than failing the step.
func (d Deps) similarMatches(ctx context.Context, in *Input, limit int) []vector.Match {
	if d.Vector == nil {
		return nil
	}
	query := strings.TrimSpace(in.Doc.Title + "\n" + prompts.Excerpt(in.Doc.Content, searchTokens))
	if query == "" {
		return nil
	}
	matches, err := d.Vector.Search(ctx, query, limit, true)
	if err != nil {
		slog.Warn("Similarity search failed, continuing without",
			"doc_id", in.Doc.ID, "step", in.Spec.Step, "error", err)
		return nil
	}
	return matches
}

// blockedNames returns the names the user has rejected for this kind,
// global blocks included. Advisory for prompt context; the apply path
// re-checks through the store.
func (d Deps) blockedNames(ctx context.Context, kind store.ReviewKind) ([]string, error) {
	blocked, err := d.Store.ListBlocked(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list blocked %s names: %w", kind, err)
	}
	names := make([]string, 0, len(blocked))
	for _, b := range blocked {
		names = append(names, b.Name)
	}
	return names, nil
}

// renderSimilarTitles renders matches for the {similar_titles}
// placeholder, titles only.
func renderSimilarTitles(matches []vector.Match) string {
	if len(matches) == 0 {
		return noneMarker
	}
	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(m.Title)
	}
	return b.String()
}

// renderSimilarDocs renders matches for the {similar_docs} placeholder
// with the metadata already settled on them.
func renderSimilarDocs(matches []vector.Match) string {
	if len(matches) == 0 {
		return noneMarker
	}
	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %q", m.Title)
		var details []string
		if m.Correspondent != "" {
			details = append(details, "correspondent: "+m.Correspondent)
		}
		if m.DocumentType != "" {
			details = append(details, "type: "+m.DocumentType)
		}
		if len(m.Tags) > 0 {
			details = append(details, "tags: "+strings.Join(m.Tags, ", "))
		}
		if len(details) > 0 {
			b.WriteString(" (" + strings.Join(details, "; ") + ")")
		}
	}
	return b.String()
}

// renderNameListing renders an entity name list, appending the blocked
// names the model must not propose. The templates have no dedicated
// blocklist placeholder, so the note rides along with the listing.
func renderNameListing(names, blocked []string) string {
	listing := noneMarker
	if len(names) > 0 {
		listing = "- " + strings.Join(names, "\n- ")
	}
	if len(blocked) > 0 {
		listing += "\n\nNever propose these names, the user has rejected them: " +
			strings.Join(blocked, ", ")
	}
	return listing
}

// renderTagListing renders content tags for the {existing_tags}
// placeholder: workflow tags and tags the user excluded from analysis
// are dropped, curated descriptions ride along.
func renderTagListing(tags []*dms.Tag, anns map[int]*store.MetadataAnnotation, names workflow.TagNames, blocked []string) string {
	var lines []string
	for _, t := range tags {
		if names.IsWorkflowTag(t.Name) {
			continue
		}
		ann := anns[t.ID]
		if ann != nil && ann.ExcludeFromAnalysis {
			continue
		}
		line := "- " + t.Name
		if ann != nil && ann.Description != "" {
			line += ": " + ann.Description
		}
		lines = append(lines, line)
	}

	listing := noneMarker
	if len(lines) > 0 {
		listing = strings.Join(lines, "\n")
	}
	if len(blocked) > 0 {
		listing += "\n\nNever propose these names, the user has rejected them: " +
			strings.Join(blocked, ", ")
	}
	return listing
}

// renderFieldListing renders the configured custom fields for the
// {custom_fields} placeholder. Excluded fields are dropped entirely.
func renderFieldListing(fields []*dms.CustomField, anns map[int]*store.MetadataAnnotation) string {
	var lines []string
	for _, f := range fields {
		ann := anns[f.ID]
		if ann != nil && ann.ExcludeFromAnalysis {
			continue
		}
		line := fmt.Sprintf("- %s (id %d, %s)", f.Name, f.ID, f.DataType)
		if ann != nil && ann.Description != "" {
			line += ": " + ann.Description
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return noneMarker
	}
	return strings.Join(lines, "\n")
}

// excerpt is the document view most analysis prompts get.
func excerpt(doc *dms.Document) string {
	return prompts.Excerpt(doc.Content, excerptTokens)
}
