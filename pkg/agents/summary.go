package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/llm"
	"github.com/scribadev/scriba/pkg/loop"
	"github.com/scribadev/scriba/pkg/prompts"
	"github.com/scribadev/scriba/pkg/textextract"
	"github.com/scribadev/scriba/pkg/workflow"
)

type summaryAnalysis struct {
	Summary    string  `json:"summary" jsonschema:"required,description=Two to four sentence abstract of the document"`
	Confidence float64 `json:"confidence" jsonschema:"required,description=Confidence between 0 and 1"`
}

var summarySchema = loop.MustSchema(summaryAnalysis{})

// summaryFieldName is the custom field the abstract is stored under
// when the DMS schema defines one. Without it the abstract still rides
// along in the result and the processing log.
const summaryFieldName = "summary"

// summaryAgent writes a short abstract. The analysis runs on the
// translation model when one is configured, since the abstract must be
// written in the document's language; the registry falls back to the
// large model otherwise. No tools: the abstract comes from the document
// alone.
type summaryAgent struct {
	deps Deps
}

func (a *summaryAgent) Step() workflow.Step { return workflow.StepSummary }

func (a *summaryAgent) Run(ctx context.Context, in *Input) (*Result, error) {
	if !textextract.Usable(in.Doc.Content) {
		return nil, fmt.Errorf("document %d has no usable text to summarize", in.Doc.ID)
	}
	content := prompts.Excerpt(in.Doc.Content, contentTokens)
	doc := excerpt(in.Doc)

	eng := a.deps.engine(in, workflow.StepSummary, summarySchema)
	eng.AnalysisRole = llm.ModelTranslation
	eng.Tools = nil
	eng.BuildAnalysisPrompt = func(feedback string) (string, error) {
		return a.deps.Prompts.Render(in.lang(), "summary_analysis", map[string]string{
			"document_content": content,
			"feedback":         feedbackVar(feedback),
		})
	}
	eng.BuildConfirmPrompt = func(analysis string) (string, error) {
		return a.deps.Prompts.Render(in.lang(), "summary_confirmation", map[string]string{
			"analysis_result":  analysis,
			"document_excerpt": doc,
		})
	}

	lr, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}

	var sa summaryAnalysis
	if lr.Analysis != nil {
		_ = json.Unmarshal(lr.Analysis, &sa)
	}
	summary := strings.TrimSpace(sa.Summary)

	// No review kind exists for abstracts; an unconfirmed run parks the
	// document under the manual-review flag only.
	if !lr.Confirmed || summary == "" {
		if err := a.deps.DMS.AddTag(ctx, in.Doc.ID, in.Settings.Tags.ManualReview); err != nil {
			return nil, fmt.Errorf("flag document %d for review: %w", in.Doc.ID, err)
		}
		res := parked(workflow.StepSummary, lr)
		res.Value = summary
		res.Confidence = sa.Confidence
		if res.Error == "" {
			res.Error = "confirmed analysis carried no summary"
		}
		return res, nil
	}

	if err := a.persist(ctx, in, summary); err != nil {
		return nil, err
	}
	if err := a.deps.transition(ctx, in); err != nil {
		return nil, err
	}

	return &Result{
		Step:       workflow.StepSummary,
		Success:    true,
		Value:      summary,
		Confidence: sa.Confidence,
		Attempts:   lr.Attempts,
		Analysis:   lr.Analysis,
	}, nil
}

// persist stores the abstract in the summary custom field when the DMS
// schema has one.
func (a *summaryAgent) persist(ctx context.Context, in *Input, summary string) error {
	fields, err := a.deps.DMS.ListCustomFields(ctx)
	if err != nil {
		return fmt.Errorf("list custom fields: %w", err)
	}
	for _, f := range fields {
		if !strings.EqualFold(f.Name, summaryFieldName) {
			continue
		}
		merged := mergeFieldValues(in.Doc.CustomFields, dms.CustomFieldValue{Field: f.ID, Value: summary})
		if _, err := a.deps.DMS.UpdateDocument(ctx, in.Doc.ID, dms.DocumentPatch{CustomFields: &merged}); err != nil {
			return fmt.Errorf("write summary field: %w", err)
		}
		return nil
	}
	return nil
}
