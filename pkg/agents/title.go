package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/loop"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/workflow"
)

type titleAnalysis struct {
	SuggestedTitle string   `json:"suggested_title" jsonschema:"required,description=Proposed document title"`
	Reasoning      string   `json:"reasoning" jsonschema:"required,description=Why this title fits the document"`
	Confidence     float64  `json:"confidence" jsonschema:"required,description=Confidence between 0 and 1"`
	BasedOnSimilar []string `json:"based_on_similar,omitempty" jsonschema:"description=Archived titles the naming follows"`
}

var titleSchema = loop.MustSchema(titleAnalysis{})

// titleAgent names the document, following the naming conventions of
// similar archived documents where the index offers any.
type titleAgent struct {
	deps Deps
}

func (a *titleAgent) Step() workflow.Step { return workflow.StepTitle }

func (a *titleAgent) Run(ctx context.Context, in *Input) (*Result, error) {
	doc := excerpt(in.Doc)
	similar := renderSimilarTitles(a.deps.similarMatches(ctx, in, similarLimit))
	emit(in, store.LogEventContext, "similar archived titles:\n"+similar, "")

	eng := a.deps.engine(in, workflow.StepTitle, titleSchema)
	eng.BuildAnalysisPrompt = func(feedback string) (string, error) {
		return a.deps.Prompts.Render(in.lang(), "title_analysis", map[string]string{
			"document_excerpt": doc,
			"similar_titles":   similar,
			"feedback":         feedbackVar(feedback),
		})
	}
	eng.BuildConfirmPrompt = func(analysis string) (string, error) {
		var ta titleAnalysis
		_ = json.Unmarshal([]byte(analysis), &ta)
		return a.deps.Prompts.Render(in.lang(), "title_confirmation", map[string]string{
			"analysis_result":  analysis,
			"document_excerpt": doc,
			"reasoning":        ta.Reasoning,
		})
	}

	lr, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}

	var ta titleAnalysis
	if lr.Analysis != nil {
		_ = json.Unmarshal(lr.Analysis, &ta)
	}
	title := strings.TrimSpace(ta.SuggestedTitle)

	if !lr.Confirmed {
		rev := &store.PendingReview{
			Kind:         store.ReviewKindTitle,
			Suggestion:   title,
			Reasoning:    ta.Reasoning,
			Alternatives: ta.BasedOnSimilar,
			Attempts:     lr.Attempts,
			LastFeedback: lr.Feedback,
			NextTag:      in.outputTag(),
		}
		if err := a.deps.queueReview(ctx, in, rev); err != nil {
			return nil, err
		}
		res := parked(workflow.StepTitle, lr)
		res.Value = title
		res.Reasoning = ta.Reasoning
		res.Confidence = ta.Confidence
		res.Alternatives = ta.BasedOnSimilar
		return res, nil
	}

	if title == "" {
		return a.deps.parkEmptySuggestion(ctx, in, workflow.StepTitle, store.ReviewKindTitle, lr)
	}

	if _, err := a.deps.DMS.UpdateDocument(ctx, in.Doc.ID, dms.DocumentPatch{Title: &title}); err != nil {
		return nil, fmt.Errorf("write title: %w", err)
	}
	if err := a.deps.transition(ctx, in); err != nil {
		return nil, err
	}

	return &Result{
		Step:         workflow.StepTitle,
		Success:      true,
		Value:        title,
		Reasoning:    ta.Reasoning,
		Confidence:   ta.Confidence,
		Alternatives: ta.BasedOnSimilar,
		Attempts:     lr.Attempts,
		Analysis:     lr.Analysis,
	}, nil
}
