package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/loop"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/workflow"
)

type tagSuggestion struct {
	Name          string  `json:"name" jsonschema:"required,description=Tag name"`
	IsNew         bool    `json:"is_new" jsonschema:"required,description=True when no existing tag matches"`
	ExistingTagID int     `json:"existing_tag_id,omitempty" jsonschema:"description=Id of the matching existing tag when known"`
	Relevance     float64 `json:"relevance,omitempty" jsonschema:"description=How strongly the tag applies, between 0 and 1"`
}

type tagRemoval struct {
	TagName string `json:"tag_name" jsonschema:"required,description=Tag to remove from the document"`
	Reason  string `json:"reason" jsonschema:"required,description=Why the tag does not belong"`
}

type tagsAnalysis struct {
	SuggestedTags []tagSuggestion `json:"suggested_tags" jsonschema:"required,description=Tags that should be on the document"`
	TagsToRemove  []tagRemoval    `json:"tags_to_remove,omitempty" jsonschema:"description=Present tags that are wrong for this document"`
	Reasoning     string          `json:"reasoning" jsonschema:"required,description=Why these tags"`
	Confidence    float64         `json:"confidence" jsonschema:"required,description=Confidence between 0 and 1"`
}

var tagsSchema = loop.MustSchema(tagsAnalysis{})

// reviewNamesKey carries the queued new-tag names as a JSON array in
// the review metadata, so approval can create all of them.
const reviewNamesKey = "names"

// tagsAgent selects content tags. Existing tags are applied
// immediately; genuinely new names always go through review, whatever
// the run's outcome. Workflow tag names and names colliding with a
// document type are refused in the prompt and again on apply.
type tagsAgent struct {
	deps Deps
}

func (a *tagsAgent) Step() workflow.Step { return workflow.StepTags }

func (a *tagsAgent) Run(ctx context.Context, in *Input) (*Result, error) {
	tags, err := a.deps.DMS.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	anns, err := a.deps.Store.ListAnnotations(ctx, store.MetadataTargetTag)
	if err != nil {
		return nil, fmt.Errorf("list tag annotations: %w", err)
	}
	doctypes, err := a.deps.DMS.ListDocumentTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list document types: %w", err)
	}
	blocked, err := a.deps.blockedNames(ctx, store.ReviewKindTag)
	if err != nil {
		return nil, err
	}

	typeNames := make(map[string]bool, len(doctypes))
	docType := "(none)"
	for _, t := range doctypes {
		typeNames[strings.ToLower(t.Name)] = true
		if in.Doc.DocumentType != nil && t.ID == *in.Doc.DocumentType {
			docType = t.Name
		}
	}

	doc := excerpt(in.Doc)
	vars := map[string]string{
		"document_excerpt": doc,
		"document_type":    docType,
		"existing_tags":    renderTagListing(tags, anns, in.Settings.Tags, blocked),
	}
	emit(in, store.LogEventContext, contextSummary(vars), "")

	eng := a.deps.engine(in, workflow.StepTags, tagsSchema)
	eng.BuildAnalysisPrompt = func(feedback string) (string, error) {
		v := map[string]string{"feedback": feedbackVar(feedback)}
		for k, val := range vars {
			v[k] = val
		}
		return a.deps.Prompts.Render(in.lang(), "tags_analysis", v)
	}
	eng.BuildConfirmPrompt = func(analysis string) (string, error) {
		return a.deps.Prompts.Render(in.lang(), "tags_confirmation", map[string]string{
			"analysis_result":  analysis,
			"document_excerpt": doc,
		})
	}

	lr, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}

	var ta tagsAnalysis
	if lr.Analysis != nil {
		_ = json.Unmarshal(lr.Analysis, &ta)
	}

	if !lr.Confirmed {
		return a.park(ctx, in, lr, &ta, typeNames)
	}
	return a.apply(ctx, in, lr, &ta, typeNames)
}

// apply writes the confirmed tag set: resolved existing tags are added
// and confirmed removals dropped in one patch, new names go to review.
func (a *tagsAgent) apply(ctx context.Context, in *Input, lr *loop.Result, ta *tagsAnalysis, typeNames map[string]bool) (*Result, error) {
	// The snapshot may be minutes old by now; tag math runs on the
	// live document.
	live, err := a.deps.DMS.GetDocument(ctx, in.Doc.ID)
	if err != nil {
		return nil, fmt.Errorf("refetch document %d: %w", in.Doc.ID, err)
	}

	var applied []string
	var queued []string
	var additions []int
	adding := make(map[int]bool)
	removing := make(map[int]bool)

	for _, s := range ta.SuggestedTags {
		name := strings.TrimSpace(s.Name)
		if name == "" || a.refused(in, name, typeNames) {
			continue
		}

		tag, err := a.deps.DMS.FindTag(ctx, name)
		switch {
		case err == nil:
			if !adding[tag.ID] {
				adding[tag.ID] = true
				additions = append(additions, tag.ID)
				applied = append(applied, tag.Name)
			}
		case errors.Is(err, dms.ErrNotFound):
			isBlocked, berr := a.deps.Store.IsBlocked(ctx, name, store.ReviewKindTag)
			if berr != nil {
				return nil, fmt.Errorf("check blocklist: %w", berr)
			}
			if !isBlocked {
				queued = append(queued, name)
			}
		default:
			return nil, fmt.Errorf("look up tag %q: %w", name, err)
		}
	}

	for _, r := range ta.TagsToRemove {
		name := strings.TrimSpace(r.TagName)
		if name == "" || in.Settings.Tags.IsWorkflowTag(name) {
			continue
		}
		tag, err := a.deps.DMS.FindTag(ctx, name)
		if errors.Is(err, dms.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("look up tag %q: %w", name, err)
		}
		if !adding[tag.ID] {
			removing[tag.ID] = true
		}
	}

	next := make([]int, 0, len(live.Tags)+len(additions))
	present := make(map[int]bool, len(live.Tags))
	for _, id := range live.Tags {
		if removing[id] {
			continue
		}
		next = append(next, id)
		present[id] = true
	}
	changed := len(next) != len(live.Tags)
	for _, id := range additions {
		if !present[id] {
			next = append(next, id)
			changed = true
		}
	}

	if changed {
		if _, err := a.deps.DMS.UpdateDocument(ctx, in.Doc.ID, dms.DocumentPatch{Tags: &next}); err != nil {
			return nil, fmt.Errorf("write tags: %w", err)
		}
	}
	if err := a.deps.transition(ctx, in); err != nil {
		return nil, err
	}
	if err := a.deps.DMS.RemoveTag(ctx, in.Doc.ID, in.Settings.Tags.ManualReview); err != nil {
		return nil, fmt.Errorf("clear review flag: %w", err)
	}

	if len(queued) > 0 {
		names, _ := json.Marshal(queued)
		rev := &store.PendingReview{
			DocID:        in.Doc.ID,
			DocTitle:     in.Doc.Title,
			Kind:         store.ReviewKindTag,
			Suggestion:   strings.Join(queued, ", "),
			Reasoning:    ta.Reasoning,
			Alternatives: queued,
			Attempts:     lr.Attempts,
			Metadata:     map[string]string{reviewNamesKey: string(names)},
		}
		// The step already transitioned; approval only creates and
		// assigns the tags, so no next tag and no manual-review flag.
		if err := a.deps.Store.InsertReview(ctx, rev); err != nil {
			return nil, fmt.Errorf("queue tag review: %w", err)
		}
	} else if err := a.deps.Store.DeleteReviewsByDocKind(ctx, in.Doc.ID, store.ReviewKindTag); err != nil {
		return nil, fmt.Errorf("clear stale tag reviews: %w", err)
	}

	return &Result{
		Step:        workflow.StepTags,
		Success:     true,
		Value:       strings.Join(applied, ", "),
		Reasoning:   ta.Reasoning,
		Confidence:  ta.Confidence,
		Attempts:    lr.Attempts,
		NeedsReview: len(queued) > 0,
		Analysis:    lr.Analysis,
	}, nil
}

// park queues the whole rejected proposal for review. Names the agent
// would refuse to apply are not worth a human's time either.
func (a *tagsAgent) park(ctx context.Context, in *Input, lr *loop.Result, ta *tagsAnalysis, typeNames map[string]bool) (*Result, error) {
	var names []string
	for _, s := range ta.SuggestedTags {
		name := strings.TrimSpace(s.Name)
		if name == "" || a.refused(in, name, typeNames) {
			continue
		}
		isBlocked, err := a.deps.Store.IsBlocked(ctx, name, store.ReviewKindTag)
		if err != nil {
			return nil, fmt.Errorf("check blocklist: %w", err)
		}
		if !isBlocked {
			names = append(names, name)
		}
	}

	meta, _ := json.Marshal(names)
	rev := &store.PendingReview{
		Kind:         store.ReviewKindTag,
		Suggestion:   strings.Join(names, ", "),
		Reasoning:    ta.Reasoning,
		Alternatives: names,
		Attempts:     lr.Attempts,
		LastFeedback: lr.Feedback,
		NextTag:      in.outputTag(),
		Metadata:     map[string]string{reviewNamesKey: string(meta)},
	}
	if err := a.deps.queueReview(ctx, in, rev); err != nil {
		return nil, err
	}

	res := parked(workflow.StepTags, lr)
	res.Reasoning = ta.Reasoning
	res.Confidence = ta.Confidence
	res.Alternatives = names
	return res, nil
}

// refused reports whether a proposed name may never become a content
// tag: workflow tag names and names colliding with a document type.
func (a *tagsAgent) refused(in *Input, name string, typeNames map[string]bool) bool {
	return in.Settings.Tags.IsWorkflowTag(name) || typeNames[strings.ToLower(name)]
}
