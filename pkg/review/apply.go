package review

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/workflow"
)

// applyProposal writes an approved document-bound proposal to the DMS:
// set the title, assign the resolved entity, or add the queued tags,
// then advance each covered document to its recorded next tag.
func (s *Service) applyProposal(ctx context.Context, rev *store.PendingReview, selectedValue string) error {
	targets := reviewTargets(rev)
	if len(targets) == 0 {
		return fmt.Errorf("review %s references no document", rev.ID)
	}
	st, err := s.deps.Settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	value := strings.TrimSpace(selectedValue)
	if value == "" {
		value = strings.TrimSpace(rev.Suggestion)
	}

	switch rev.Kind {
	case store.ReviewKindTitle:
		if value == "" {
			return fmt.Errorf("review %s carries no title to apply", rev.ID)
		}
		for _, t := range targets {
			if _, err := s.deps.DMS.UpdateDocument(ctx, t.docID, dms.DocumentPatch{Title: &value}); err != nil {
				return fmt.Errorf("set title on document %d: %w", t.docID, err)
			}
		}

	case store.ReviewKindCorrespondent:
		if value == "" {
			return fmt.Errorf("review %s carries no correspondent to apply", rev.ID)
		}
		ent, err := s.deps.DMS.GetOrCreateCorrespondent(ctx, value)
		if err != nil {
			return fmt.Errorf("resolve correspondent %q: %w", value, err)
		}
		for _, t := range targets {
			if _, err := s.deps.DMS.UpdateDocument(ctx, t.docID, dms.DocumentPatch{Correspondent: &ent.ID}); err != nil {
				return fmt.Errorf("assign correspondent to document %d: %w", t.docID, err)
			}
		}

	case store.ReviewKindDocumentType:
		if value == "" {
			return fmt.Errorf("review %s carries no document type to apply", rev.ID)
		}
		ent, err := s.deps.DMS.GetOrCreateDocumentType(ctx, value)
		if err != nil {
			return fmt.Errorf("resolve document type %q: %w", value, err)
		}
		for _, t := range targets {
			if _, err := s.deps.DMS.UpdateDocument(ctx, t.docID, dms.DocumentPatch{DocumentType: &ent.ID}); err != nil {
				return fmt.Errorf("assign document type to document %d: %w", t.docID, err)
			}
		}

	case store.ReviewKindTag:
		names := tagNamesToApply(rev, selectedValue)
		if len(names) == 0 {
			return fmt.Errorf("review %s carries no tag names", rev.ID)
		}
		for _, t := range targets {
			for _, name := range names {
				if err := s.deps.DMS.AddTag(ctx, t.docID, name); err != nil {
					return fmt.Errorf("add tag %q to document %d: %w", name, t.docID, err)
				}
			}
		}

	default:
		return fmt.Errorf("cannot apply review kind %s", rev.Kind)
	}

	for _, t := range targets {
		if err := s.advance(ctx, t.docID, t.nextTag, st.Tags); err != nil {
			return err
		}
	}
	return nil
}

// advance moves a document's workflow tag to the review's next tag. The
// current state is re-derived at approval time: a document that already
// moved at or past the next tag (a later run succeeded) is left alone.
func (s *Service) advance(ctx context.Context, docID int, nextTag string, tags workflow.TagNames) error {
	if nextTag == "" || docID <= 0 {
		return nil
	}
	doc, err := s.deps.DMS.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("fetch document %d: %w", docID, err)
	}
	names, err := s.docTagNames(ctx, doc)
	if err != nil {
		return err
	}

	state := workflow.StateOf(names, tags)
	target := workflow.StateOf([]string{nextTag}, tags)
	switch {
	case target == workflow.StateNone || state == workflow.StateNone:
		// The recorded next tag predates a tag-name change, or the
		// document lost its workflow tags; adding is the only safe move.
		if err := s.deps.DMS.AddTag(ctx, docID, nextTag); err != nil {
			return fmt.Errorf("add workflow tag %q to document %d: %w", nextTag, docID, err)
		}
	case state >= target:
		return nil
	default:
		if err := s.deps.DMS.TransitionTag(ctx, docID, tags.Tag(state), nextTag); err != nil {
			return fmt.Errorf("advance document %d to %q: %w", docID, nextTag, err)
		}
	}
	return nil
}

func (s *Service) docTagNames(ctx context.Context, doc *dms.Document) ([]string, error) {
	all, err := s.deps.DMS.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	byID := make(map[int]string, len(all))
	for _, tag := range all {
		byID[tag.ID] = tag.Name
	}
	names := make([]string, 0, len(doc.Tags))
	for _, id := range doc.Tags {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// applyMerge folds the candidate's source entity into its target. A
// source that is already gone counts as done: a prior half-finished
// approval or a manual cleanup met the merge goal.
func (s *Service) applyMerge(ctx context.Context, rev *store.PendingReview) error {
	kind, err := entityKind(rev)
	if err != nil {
		return err
	}
	sourceID, err := metaInt(rev, metaSourceID)
	if err != nil {
		return err
	}
	targetID, err := metaInt(rev, metaTargetID)
	if err != nil {
		return err
	}

	entities, err := s.deps.DMS.ListEntities(ctx, kind)
	if err != nil {
		return fmt.Errorf("list %ss: %w", kind, err)
	}
	var sourceExists, targetExists bool
	for _, e := range entities {
		if e.ID == sourceID {
			sourceExists = true
		}
		if e.ID == targetID {
			targetExists = true
		}
	}
	if !sourceExists {
		return nil
	}
	if !targetExists {
		return fmt.Errorf("merge target %s %d no longer exists", kind, targetID)
	}

	return s.deps.DMS.MergeEntities(ctx, kind, sourceID, targetID)
}

// applyDelete removes the candidate's entity if it is still unused.
// An entity that gained documents since the candidate was generated
// fails softly with ErrEntityInUse and the review row stays.
func (s *Service) applyDelete(ctx context.Context, rev *store.PendingReview) error {
	kind, err := entityKind(rev)
	if err != nil {
		return err
	}
	entityID, err := metaInt(rev, metaEntityID)
	if err != nil {
		return err
	}

	count, err := s.deps.DMS.CountByEntity(ctx, kind, entityID)
	if err != nil {
		return fmt.Errorf("count documents for %s %d: %w", kind, entityID, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %q has %d documents", ErrEntityInUse, rev.Suggestion, count)
	}

	err = s.deps.DMS.DeleteEntity(ctx, kind, entityID)
	if errors.Is(err, dms.ErrNotFound) {
		// Already gone, the delete goal is met.
		return nil
	}
	return err
}

func entityKind(rev *store.PendingReview) (dms.EntityKind, error) {
	switch kind := dms.EntityKind(rev.Metadata[metaEntityKind]); kind {
	case dms.EntityTag, dms.EntityCorrespondent, dms.EntityDocumentType:
		return kind, nil
	default:
		return "", fmt.Errorf("review %s names no entity kind", rev.ID)
	}
}

func metaInt(rev *store.PendingReview, key string) (int, error) {
	n, err := strconv.Atoi(rev.Metadata[key])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("review %s carries no usable %s", rev.ID, key)
	}
	return n, nil
}
