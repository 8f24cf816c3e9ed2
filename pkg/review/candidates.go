package review

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/store"
)

// Metadata keys of schema-cleanup candidates (written by the bootstrap
// analyzer, consumed by Approve) and of merged proposal records.
const (
	metaEntityKind = "entity_kind"
	metaEntityID   = "entity_id"
	metaSourceID   = "source_id"
	metaSourceName = "source_name"
	metaTargetID   = "target_id"
	metaTargetName = "target_name"
	metaSimilarity = "similarity"

	metaDocIDs   = "doc_ids"
	metaNextTags = "next_tags"

	// tagNamesKey mirrors the tags agent's queued-names metadata: a
	// JSON array of tag names an approval creates and assigns.
	tagNamesKey = "names"
)

// MergeCandidate builds the schema_merge pending review proposing to
// fold source into target. Suggestion carries the surviving name; both
// entity ids live in metadata so approval does not depend on names
// staying stable.
func MergeCandidate(kind dms.EntityKind, source, target *dms.Entity, similarity float64) *store.PendingReview {
	return &store.PendingReview{
		Kind:       store.ReviewKindSchemaMerge,
		Suggestion: target.Name,
		Reasoning: fmt.Sprintf("%q (%d documents) looks like a duplicate of %q (%d documents), similarity %.2f",
			source.Name, source.DocumentCount, target.Name, target.DocumentCount, similarity),
		Alternatives: []string{source.Name},
		Metadata: map[string]string{
			metaEntityKind: string(kind),
			metaSourceID:   strconv.Itoa(source.ID),
			metaSourceName: source.Name,
			metaTargetID:   strconv.Itoa(target.ID),
			metaTargetName: target.Name,
			metaSimilarity: strconv.FormatFloat(similarity, 'f', 2, 64),
		},
	}
}

// DeleteCandidate builds the schema_delete pending review for an entity
// no document references.
func DeleteCandidate(kind dms.EntityKind, entity *dms.Entity) *store.PendingReview {
	return &store.PendingReview{
		Kind:       store.ReviewKindSchemaDelete,
		Suggestion: entity.Name,
		Reasoning:  fmt.Sprintf("%q is not referenced by any document", entity.Name),
		Metadata: map[string]string{
			metaEntityKind: string(kind),
			metaEntityID:   strconv.Itoa(entity.ID),
		},
	}
}

// CandidateKind reports which entity collection a schema-cleanup
// candidate targets, so re-runs can clear stale candidates without
// touching other categories.
func CandidateKind(rev *store.PendingReview) (dms.EntityKind, bool) {
	kind, err := entityKind(rev)
	return kind, err == nil
}

// target is one document an approval touches, with the workflow tag it
// should advance to.
type target struct {
	docID   int
	nextTag string
}

// reviewTargets lists the documents a review covers. Plain rows have at
// most one; merged records carry the union in metadata.
func reviewTargets(rev *store.PendingReview) []target {
	if raw, ok := rev.Metadata[metaDocIDs]; ok && raw != "" {
		var ids []int
		if err := json.Unmarshal([]byte(raw), &ids); err == nil && len(ids) > 0 {
			nextTags := map[string]string{}
			if rawNext, ok := rev.Metadata[metaNextTags]; ok && rawNext != "" {
				_ = json.Unmarshal([]byte(rawNext), &nextTags)
			}
			targets := make([]target, 0, len(ids))
			for _, id := range ids {
				targets = append(targets, target{docID: id, nextTag: nextTags[strconv.Itoa(id)]})
			}
			return targets
		}
	}
	if rev.DocID > 0 {
		return []target{{docID: rev.DocID, nextTag: rev.NextTag}}
	}
	return nil
}

// metadataNames decodes the queued tag names of a tag review.
func metadataNames(rev *store.PendingReview) []string {
	raw, ok := rev.Metadata[tagNamesKey]
	if !ok || raw == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil
	}
	return names
}

// tagNamesToApply resolves which tag names an approval assigns: the
// user's selection when given, otherwise every queued name, otherwise
// the suggestion itself.
func tagNamesToApply(rev *store.PendingReview, selectedValue string) []string {
	var raw []string
	switch {
	case strings.TrimSpace(selectedValue) != "":
		raw = []string{selectedValue}
	default:
		raw = metadataNames(rev)
		if len(raw) == 0 {
			raw = []string{rev.Suggestion}
		}
	}

	var names []string
	for _, name := range raw {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// blockNames returns the names a rejection with feedback suppresses:
// the merge candidate's source (the name that keeps getting flagged),
// a tag review's queued names, or the suggestion itself.
func blockNames(rev *store.PendingReview) []string {
	switch rev.Kind {
	case store.ReviewKindSchemaMerge:
		if name := rev.Metadata[metaSourceName]; name != "" {
			return []string{name}
		}
	case store.ReviewKindTag:
		if names := metadataNames(rev); len(names) > 0 {
			return names
		}
	}
	if name := strings.TrimSpace(rev.Suggestion); name != "" {
		return []string{name}
	}
	return nil
}
