package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/loop"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/workflow"
)

type fieldValue struct {
	FieldID   int    `json:"field_id" jsonschema:"required,description=Id of the configured field"`
	Value     string `json:"value" jsonschema:"required,description=Extracted value normalized to the field's format"`
	Reasoning string `json:"reasoning,omitempty" jsonschema:"description=Where the document states the value"`
}

type customFieldsAnalysis struct {
	Fields     []fieldValue `json:"fields" jsonschema:"required,description=Values the document states; unanswered fields are omitted"`
	Reasoning  string       `json:"reasoning" jsonschema:"required,description=Extraction notes"`
	Confidence float64      `json:"confidence" jsonschema:"required,description=Confidence between 0 and 1"`
}

var customFieldsSchema = loop.MustSchema(customFieldsAnalysis{})

// customFieldsAgent extracts structured field values and finalizes the
// document. It is the only agent that never blocks: with no fields
// configured it degrades to a plain finalizer, and an unconfirmed run
// still moves the document to processed, flagged for review instead of
// parked.
type customFieldsAgent struct {
	deps Deps
}

func (a *customFieldsAgent) Step() workflow.Step { return workflow.StepCustomFields }

func (a *customFieldsAgent) Run(ctx context.Context, in *Input) (*Result, error) {
	fields, err := a.deps.DMS.ListCustomFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}
	anns, err := a.deps.Store.ListAnnotations(ctx, store.MetadataTargetCustomField)
	if err != nil {
		return nil, fmt.Errorf("list field annotations: %w", err)
	}

	candidates := make(map[int]*dms.CustomField)
	for _, f := range fields {
		if ann := anns[f.ID]; ann != nil && ann.ExcludeFromAnalysis {
			continue
		}
		candidates[f.ID] = f
	}
	if len(candidates) == 0 {
		if err := a.deps.transition(ctx, in); err != nil {
			return nil, err
		}
		return &Result{
			Step:    workflow.StepCustomFields,
			Success: true,
			Skipped: true,
			Value:   "no custom fields configured",
		}, nil
	}

	doc := excerpt(in.Doc)
	listing := renderFieldListing(fields, anns)
	emit(in, store.LogEventContext, "custom_fields:\n"+listing, "")

	eng := a.deps.engine(in, workflow.StepCustomFields, customFieldsSchema)
	eng.BuildAnalysisPrompt = func(feedback string) (string, error) {
		return a.deps.Prompts.Render(in.lang(), "custom_fields_analysis", map[string]string{
			"document_excerpt": doc,
			"custom_fields":    listing,
			"feedback":         feedbackVar(feedback),
		})
	}
	eng.BuildConfirmPrompt = func(analysis string) (string, error) {
		var ca customFieldsAnalysis
		_ = json.Unmarshal([]byte(analysis), &ca)
		return a.deps.Prompts.Render(in.lang(), "custom_fields_confirmation", map[string]string{
			"analysis_result":  analysis,
			"document_excerpt": doc,
			"suggested_fields": renderSuggestedFields(ca.Fields, candidates),
		})
	}

	lr, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}

	var ca customFieldsAnalysis
	if lr.Analysis != nil {
		_ = json.Unmarshal(lr.Analysis, &ca)
	}

	if !lr.Confirmed {
		// Finalize anyway; the review flag marks what a human should
		// double-check.
		if err := a.deps.DMS.AddTag(ctx, in.Doc.ID, in.Settings.Tags.ManualReview); err != nil {
			return nil, fmt.Errorf("flag document %d for review: %w", in.Doc.ID, err)
		}
		if err := a.deps.transition(ctx, in); err != nil {
			return nil, err
		}
		res := parked(workflow.StepCustomFields, lr)
		res.Success = true
		res.Reasoning = ca.Reasoning
		return res, nil
	}

	var updates []dms.CustomFieldValue
	var filled []string
	for _, fv := range ca.Fields {
		field, ok := candidates[fv.FieldID]
		value := strings.TrimSpace(fv.Value)
		if !ok || value == "" {
			continue
		}
		updates = append(updates, dms.CustomFieldValue{Field: field.ID, Value: value})
		filled = append(filled, field.Name)
	}

	if len(updates) > 0 {
		merged := mergeFieldValues(in.Doc.CustomFields, updates...)
		if _, err := a.deps.DMS.UpdateDocument(ctx, in.Doc.ID, dms.DocumentPatch{CustomFields: &merged}); err != nil {
			return nil, fmt.Errorf("write custom fields: %w", err)
		}
	}
	if err := a.deps.transition(ctx, in); err != nil {
		return nil, err
	}

	value := "no values extracted"
	if len(filled) > 0 {
		value = strings.Join(filled, ", ")
	}
	return &Result{
		Step:       workflow.StepCustomFields,
		Success:    true,
		Value:      value,
		Reasoning:  ca.Reasoning,
		Confidence: ca.Confidence,
		Attempts:   lr.Attempts,
		Analysis:   lr.Analysis,
	}, nil
}

// renderSuggestedFields renders extracted values for the confirmation
// prompt, resolving ids to names where the id is valid.
func renderSuggestedFields(values []fieldValue, candidates map[int]*dms.CustomField) string {
	if len(values) == 0 {
		return noneMarker
	}
	var lines []string
	for _, fv := range values {
		name := strconv.Itoa(fv.FieldID)
		if f := candidates[fv.FieldID]; f != nil {
			name = f.Name
		}
		lines = append(lines, "- "+name+": "+fv.Value)
	}
	return strings.Join(lines, "\n")
}

// mergeFieldValues overlays updates onto a document's field values,
// replacing same-field entries and appending the rest.
func mergeFieldValues(existing []dms.CustomFieldValue, updates ...dms.CustomFieldValue) []dms.CustomFieldValue {
	merged := make([]dms.CustomFieldValue, len(existing))
	copy(merged, existing)
	for _, u := range updates {
		replaced := false
		for i := range merged {
			if merged[i].Field == u.Field {
				merged[i].Value = u.Value
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, u)
		}
	}
	return merged
}
