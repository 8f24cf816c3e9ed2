// Package review resolves pending reviews: approval applies the queued
// proposal to the DMS, rejection discards it with an optional blocklist
// entry, and merge collapses near-duplicate proposals into one canonical
// record. Every DMS write is idempotent, so a failed approval can be
// retried without double-applying.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/store"
)

// ErrEntityInUse rejects a schema_delete approval whose entity gained
// documents since the candidate was generated. The review row stays so
// the user can re-check or reject it.
var ErrEntityInUse = errors.New("entity is still referenced by documents")

// Deps are the service's collaborators.
type Deps struct {
	DMS      *dms.Client
	Store    *store.Store
	Settings *settings.Service
}

// Service owns review-queue resolution.
type Service struct {
	deps Deps
}

// New builds the review service.
func New(deps Deps) *Service {
	return &Service{deps: deps}
}

// List returns pending reviews, oldest first; kind filters when set.
func (s *Service) List(ctx context.Context, kind store.ReviewKind) ([]*store.PendingReview, error) {
	if kind != "" && !store.ValidReviewKind(kind) {
		return nil, fmt.Errorf("invalid review kind: %s", kind)
	}
	return s.deps.Store.ListReviews(ctx, kind)
}

// Counts returns the number of pending reviews per kind.
func (s *Service) Counts(ctx context.Context) (map[store.ReviewKind]int, error) {
	return s.deps.Store.CountReviews(ctx)
}

// Approve applies a pending review and removes it. selectedValue
// overrides the stored suggestion when the user picked an alternative
// or edited the name; schema reviews ignore it. The row is deleted only
// after every write succeeded, so a failed approval stays retryable.
func (s *Service) Approve(ctx context.Context, id, selectedValue string) (*store.PendingReview, error) {
	rev, err := s.deps.Store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}

	switch rev.Kind {
	case store.ReviewKindSchemaMerge:
		err = s.applyMerge(ctx, rev)
	case store.ReviewKindSchemaDelete:
		err = s.applyDelete(ctx, rev)
	default:
		err = s.applyProposal(ctx, rev, selectedValue)
	}
	if err != nil {
		return nil, err
	}

	if err := s.deps.Store.DeleteReview(ctx, id); err != nil {
		return nil, err
	}
	s.clearFlags(ctx, rev)
	return rev, nil
}

// Reject discards a pending review without blocking the suggestion. The
// document becomes eligible for re-processing once its review flag
// clears, so a fresh run may propose something better.
func (s *Service) Reject(ctx context.Context, id string) error {
	rev, err := s.deps.Store.GetReview(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deps.Store.DeleteReview(ctx, id); err != nil {
		return err
	}
	s.clearFlags(ctx, rev)
	return nil
}

// Feedback qualifies a rejection that should also suppress the
// suggestion in future runs.
type Feedback struct {
	Scope    store.BlockScope `json:"scope"`
	Reason   string           `json:"reason,omitempty"`
	Category string           `json:"category,omitempty"`
}

// RejectWithFeedback discards a pending review and blocks its names so
// no later run proposes them again. Scope global suppresses the names
// for every agent, scope kind only for this review's kind; an empty
// scope defaults to kind.
func (s *Service) RejectWithFeedback(ctx context.Context, id string, fb Feedback) error {
	rev, err := s.deps.Store.GetReview(ctx, id)
	if err != nil {
		return err
	}

	scope := fb.Scope
	if scope == "" {
		scope = store.BlockScopeKind
	}
	if scope != store.BlockScopeGlobal && scope != store.BlockScopeKind {
		return fmt.Errorf("unknown block scope %q", fb.Scope)
	}

	for _, name := range blockNames(rev) {
		blocked := &store.BlockedSuggestion{
			Name:     name,
			Scope:    scope,
			Kind:     rev.Kind,
			Reason:   fb.Reason,
			Category: fb.Category,
			DocID:    rev.DocID,
		}
		if err := s.deps.Store.InsertBlocked(ctx, blocked); err != nil {
			return fmt.Errorf("block suggestion %q: %w", name, err)
		}
	}

	if err := s.deps.Store.DeleteReview(ctx, id); err != nil {
		return err
	}
	s.clearFlags(ctx, rev)
	return nil
}

// MergePending collapses several pending proposals of one kind into a
// single record carrying the chosen canonical name and the union of
// their documents. Approving the merged record applies the name to
// every member document.
func (s *Service) MergePending(ctx context.Context, ids []string, finalName string) (*store.PendingReview, error) {
	finalName = strings.TrimSpace(finalName)
	if finalName == "" {
		return nil, errors.New("merge needs a final name")
	}
	if len(ids) < 2 {
		return nil, errors.New("merge needs at least two pending reviews")
	}

	members := make([]*store.PendingReview, 0, len(ids))
	for _, id := range ids {
		rev, err := s.deps.Store.GetReview(ctx, id)
		if err != nil {
			return nil, err
		}
		members = append(members, rev)
	}

	kind := members[0].Kind
	switch kind {
	case store.ReviewKindCorrespondent, store.ReviewKindDocumentType, store.ReviewKindTag:
	default:
		return nil, fmt.Errorf("cannot merge reviews of kind %s", kind)
	}
	for _, rev := range members[1:] {
		if rev.Kind != kind {
			return nil, fmt.Errorf("cannot merge %s and %s reviews", kind, rev.Kind)
		}
	}

	var (
		docIDs   []int
		seen     = map[int]bool{}
		nextTags = map[string]string{}
		variants []string
		attempts int
	)
	for _, rev := range members {
		for _, t := range reviewTargets(rev) {
			if t.docID <= 0 || seen[t.docID] {
				continue
			}
			seen[t.docID] = true
			docIDs = append(docIDs, t.docID)
			if t.nextTag != "" {
				nextTags[strconv.Itoa(t.docID)] = t.nextTag
			}
		}
		if v := strings.TrimSpace(rev.Suggestion); v != "" && !containsFold(variants, v) {
			variants = append(variants, v)
		}
		if rev.Attempts > attempts {
			attempts = rev.Attempts
		}
	}
	sort.Ints(docIDs)

	replacement := &store.PendingReview{
		Kind:         kind,
		Suggestion:   finalName,
		Reasoning:    fmt.Sprintf("Merged from %d pending suggestions.", len(members)),
		Alternatives: variants,
		Attempts:     attempts,
		Metadata:     map[string]string{},
	}
	if len(docIDs) == 1 {
		replacement.DocID = docIDs[0]
		replacement.NextTag = nextTags[strconv.Itoa(docIDs[0])]
		for _, rev := range members {
			if rev.DocID == docIDs[0] {
				replacement.DocTitle = rev.DocTitle
				break
			}
		}
	}
	if raw, err := json.Marshal(docIDs); err == nil {
		replacement.Metadata[metaDocIDs] = string(raw)
	}
	if len(nextTags) > 0 {
		if raw, err := json.Marshal(nextTags); err == nil {
			replacement.Metadata[metaNextTags] = string(raw)
		}
	}
	if kind == store.ReviewKindTag {
		raw, _ := json.Marshal([]string{finalName})
		replacement.Metadata[tagNamesKey] = string(raw)
	}

	if err := s.deps.Store.CollapseReviews(ctx, ids, replacement); err != nil {
		return nil, err
	}
	return replacement, nil
}

// clearFlags removes the manual-review tag from every document the
// resolved review covered, unless another active review still holds it.
// Best-effort: the flag mirrors queue state, it is not the state.
func (s *Service) clearFlags(ctx context.Context, rev *store.PendingReview) {
	targets := reviewTargets(rev)
	if len(targets) == 0 {
		return
	}
	st, err := s.deps.Settings.Get(ctx)
	if err != nil {
		slog.Warn("Failed to read settings while clearing review flags", "error", err)
		return
	}
	reviews, err := s.deps.Store.ListReviews(ctx, "")
	if err != nil {
		slog.Warn("Failed to list reviews while clearing review flags", "error", err)
		return
	}
	for _, t := range targets {
		if t.docID <= 0 || covered(reviews, t.docID) {
			continue
		}
		if err := s.deps.DMS.RemoveTag(ctx, t.docID, st.Tags.ManualReview); err != nil {
			slog.Warn("Failed to clear review flag", "doc", t.docID, "error", err)
		}
	}
}

// covered reports whether any active review still references the
// document, directly or through a merged record's member list.
func covered(reviews []*store.PendingReview, docID int) bool {
	for _, rev := range reviews {
		if rev.DocID == docID {
			return true
		}
		for _, t := range reviewTargets(rev) {
			if t.docID == docID {
				return true
			}
		}
	}
	return false
}

func containsFold(list []string, name string) bool {
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}
