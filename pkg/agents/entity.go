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

type correspondentAnalysis struct {
	SuggestedCorrespondent string  `json:"suggested_correspondent" jsonschema:"required,description=Name of the issuing organization or person"`
	Reasoning              string  `json:"reasoning" jsonschema:"required,description=Where the document names the issuer"`
	Confidence             float64 `json:"confidence" jsonschema:"required,description=Confidence between 0 and 1"`
}

type documentTypeAnalysis struct {
	SuggestedType string  `json:"suggested_type" jsonschema:"required,description=Name of the document type"`
	Reasoning     string  `json:"reasoning" jsonschema:"required,description=What makes the document this type"`
	Confidence    float64 `json:"confidence" jsonschema:"required,description=Confidence between 0 and 1"`
}

var (
	correspondentSchema = loop.MustSchema(correspondentAnalysis{})
	documentTypeSchema  = loop.MustSchema(documentTypeAnalysis{})
)

// entityAgent is the shared machinery of the correspondent and
// document-type steps: both propose a single name, prefer an existing
// entity over inventing one, and queue genuinely new names for review
// rather than creating them.
type entityAgent struct {
	deps Deps

	step   workflow.Step
	kind   store.ReviewKind
	entity dms.EntityKind

	analysisTemplate string
	confirmTemplate  string
	schema           map[string]any

	vars  func(ctx context.Context, a *entityAgent, in *Input) (map[string]string, error)
	parse func(raw json.RawMessage) (suggestion, reasoning string, confidence float64)
	patch func(id int) dms.DocumentPatch
}

func newCorrespondentAgent(deps Deps) *entityAgent {
	return &entityAgent{
		deps:             deps,
		step:             workflow.StepCorrespondent,
		kind:             store.ReviewKindCorrespondent,
		entity:           dms.EntityCorrespondent,
		analysisTemplate: "correspondent_analysis",
		confirmTemplate:  "correspondent_confirmation",
		schema:           correspondentSchema,
		vars:             correspondentVars,
		parse:            parseCorrespondent,
		patch: func(id int) dms.DocumentPatch {
			return dms.DocumentPatch{Correspondent: &id}
		},
	}
}

func newDocumentTypeAgent(deps Deps) *entityAgent {
	return &entityAgent{
		deps:             deps,
		step:             workflow.StepDocumentType,
		kind:             store.ReviewKindDocumentType,
		entity:           dms.EntityDocumentType,
		analysisTemplate: "document_type_analysis",
		confirmTemplate:  "document_type_confirmation",
		schema:           documentTypeSchema,
		vars:             documentTypeVars,
		parse:            parseDocumentType,
		patch: func(id int) dms.DocumentPatch {
			return dms.DocumentPatch{DocumentType: &id}
		},
	}
}

func correspondentVars(ctx context.Context, a *entityAgent, in *Input) (map[string]string, error) {
	list, err := a.deps.DMS.ListCorrespondents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list correspondents: %w", err)
	}
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Name)
	}
	blocked, err := a.deps.blockedNames(ctx, store.ReviewKindCorrespondent)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"document_excerpt":        excerpt(in.Doc),
		"existing_correspondents": renderNameListing(names, blocked),
		"similar_docs":            renderSimilarDocs(a.deps.similarMatches(ctx, in, similarLimit)),
	}, nil
}

func documentTypeVars(ctx context.Context, a *entityAgent, in *Input) (map[string]string, error) {
	list, err := a.deps.DMS.ListDocumentTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list document types: %w", err)
	}
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name)
	}
	blocked, err := a.deps.blockedNames(ctx, store.ReviewKindDocumentType)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"document_excerpt": excerpt(in.Doc),
		"existing_types":   renderNameListing(names, blocked),
	}, nil
}

func parseCorrespondent(raw json.RawMessage) (string, string, float64) {
	var ca correspondentAnalysis
	_ = json.Unmarshal(raw, &ca)
	return ca.SuggestedCorrespondent, ca.Reasoning, ca.Confidence
}

func parseDocumentType(raw json.RawMessage) (string, string, float64) {
	var da documentTypeAnalysis
	_ = json.Unmarshal(raw, &da)
	return da.SuggestedType, da.Reasoning, da.Confidence
}

func (a *entityAgent) Step() workflow.Step { return a.step }

func (a *entityAgent) Run(ctx context.Context, in *Input) (*Result, error) {
	vars, err := a.vars(ctx, a, in)
	if err != nil {
		return nil, err
	}
	emit(in, store.LogEventContext, contextSummary(vars), "")

	eng := a.deps.engine(in, a.step, a.schema)
	eng.BuildAnalysisPrompt = func(feedback string) (string, error) {
		v := make(map[string]string, len(vars)+1)
		for k, val := range vars {
			v[k] = val
		}
		v["feedback"] = feedbackVar(feedback)
		return a.deps.Prompts.Render(in.lang(), a.analysisTemplate, v)
	}
	eng.BuildConfirmPrompt = func(analysis string) (string, error) {
		return a.deps.Prompts.Render(in.lang(), a.confirmTemplate, map[string]string{
			"analysis_result":  analysis,
			"document_excerpt": vars["document_excerpt"],
		})
	}

	lr, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}

	var suggestion, reasoning string
	var confidence float64
	if lr.Analysis != nil {
		suggestion, reasoning, confidence = a.parse(lr.Analysis)
	}
	suggestion = strings.TrimSpace(suggestion)

	if !lr.Confirmed {
		rev := &store.PendingReview{
			Kind:         a.kind,
			Suggestion:   suggestion,
			Reasoning:    reasoning,
			Attempts:     lr.Attempts,
			LastFeedback: lr.Feedback,
			NextTag:      in.outputTag(),
		}
		if err := a.deps.queueReview(ctx, in, rev); err != nil {
			return nil, err
		}
		res := parked(a.step, lr)
		res.Value = suggestion
		res.Reasoning = reasoning
		res.Confidence = confidence
		return res, nil
	}

	if suggestion == "" {
		return a.deps.parkEmptySuggestion(ctx, in, a.step, a.kind, lr)
	}

	ent, err := a.deps.DMS.FindEntity(ctx, a.entity, suggestion)
	switch {
	case err == nil:
		return a.assign(ctx, in, lr, ent, reasoning, confidence)
	case errors.Is(err, dms.ErrNotFound):
		return a.queueNew(ctx, in, lr, suggestion, reasoning, confidence)
	default:
		return nil, fmt.Errorf("look up %s %q: %w", a.entity, suggestion, err)
	}
}

// assign applies an existing entity under its canonical name and
// casing.
func (a *entityAgent) assign(ctx context.Context, in *Input, lr *loop.Result, ent *dms.Entity, reasoning string, confidence float64) (*Result, error) {
	if _, err := a.deps.DMS.UpdateDocument(ctx, in.Doc.ID, a.patch(ent.ID)); err != nil {
		return nil, fmt.Errorf("assign %s %q: %w", a.entity, ent.Name, err)
	}
	if err := a.deps.transition(ctx, in); err != nil {
		return nil, err
	}
	return &Result{
		Step:       a.step,
		Success:    true,
		Value:      ent.Name,
		Reasoning:  reasoning,
		Confidence: confidence,
		Attempts:   lr.Attempts,
		Analysis:   lr.Analysis,
	}, nil
}

// queueNew parks a confirmed proposal that names an entity the DMS does
// not have. New entities are never created by the agent; a human
// approves or rejects the name first. Blocked names do not even reach
// the queue.
func (a *entityAgent) queueNew(ctx context.Context, in *Input, lr *loop.Result, suggestion, reasoning string, confidence float64) (*Result, error) {
	blocked, err := a.deps.Store.IsBlocked(ctx, suggestion, a.kind)
	if err != nil {
		return nil, fmt.Errorf("check blocklist: %w", err)
	}
	if blocked {
		if err := a.deps.DMS.AddTag(ctx, in.Doc.ID, in.Settings.Tags.ManualReview); err != nil {
			return nil, fmt.Errorf("flag document %d for review: %w", in.Doc.ID, err)
		}
		return &Result{
			Step:        a.step,
			Value:       suggestion,
			Attempts:    lr.Attempts,
			NeedsReview: true,
			Error:       fmt.Sprintf("proposed name %q is blocked", suggestion),
			Analysis:    lr.Analysis,
		}, nil
	}

	rev := &store.PendingReview{
		Kind:       a.kind,
		Suggestion: suggestion,
		Reasoning:  reasoning,
		Attempts:   lr.Attempts,
		NextTag:    in.outputTag(),
	}
	if err := a.deps.queueReview(ctx, in, rev); err != nil {
		return nil, err
	}
	return &Result{
		Step:        a.step,
		Value:       suggestion,
		Reasoning:   reasoning,
		Confidence:  confidence,
		Attempts:    lr.Attempts,
		NeedsReview: true,
		Analysis:    lr.Analysis,
	}, nil
}
