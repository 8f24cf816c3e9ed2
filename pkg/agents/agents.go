// Package agents implements the pipeline steps. Each agent owns one
// step end to end: it assembles context from live DMS state, runs the
// confirmation loop with its own analysis schema, applies the confirmed
// result through the DMS adapter, and moves the document's workflow tag
// from the step's input to its output. An unconfirmed run parks the
// document instead: a pending review is written where a review kind
// exists, the manual-review flag is added, and the workflow tag stays
// put so the scheduler does not re-enter the step until a human
// decides.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/loop"
	"github.com/scribadev/scriba/pkg/proclog"
	"github.com/scribadev/scriba/pkg/prompts"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/textextract"
	"github.com/scribadev/scriba/pkg/tools"
	"github.com/scribadev/scriba/pkg/vector"
	"github.com/scribadev/scriba/pkg/workflow"
)

// Token budgets for prompt context. The excerpt serves every analysis
// except the summary, which reads more of the document.
const (
	excerptTokens = 2000
	contentTokens = 6000
	searchTokens  = 256

	similarLimit = 5
)

// The templates carry the persona and the task; the system prompts only
// fix the output contract.
const (
	analysisSystem = "You analyze documents for a digital archive. Use the available tools to gather evidence when they help. Answer with a single JSON object matching the requested schema, and nothing else."
	confirmSystem  = "You audit a colleague's document analysis before it is applied to the archive. Answer with a single JSON object matching the requested schema, and nothing else."
)

// Deps are the collaborators every agent shares. Vector may be nil;
// similarity context then degrades to none.
type Deps struct {
	DMS     *dms.Client
	Store   *store.Store
	Vector  vector.Store
	Models  loop.ModelResolver
	Prompts *prompts.Loader
	Tools   *tools.Registry
	Extract *textextract.Registry
}

// Input is one step invocation. Doc is the snapshot the pipeline took
// at dispatch time; context that must be live (entity lists, blocked
// names) is fetched by the agent itself. Settings were read at the
// start of the operation and hold for its duration.
type Input struct {
	Doc      *dms.Document
	Spec     workflow.StepSpec
	Settings *settings.Settings

	// Logger receives processing events. Nil disables logging.
	Logger loop.ProcessLogger
}

func (in *Input) lang() string { return in.Settings.Prompts.Language }

func (in *Input) inputTag() string  { return in.Settings.Tags.Tag(in.Spec.Input) }
func (in *Input) outputTag() string { return in.Settings.Tags.Tag(in.Spec.Output) }

// Result is the outcome contract every agent reports to the pipeline.
// Value is the applied value in display form; Analysis carries the raw
// confirmed (or last rejected) analysis for consumers that want the
// step-specific fields.
type Result struct {
	Step         workflow.Step   `json:"step"`
	Success      bool            `json:"success"`
	Skipped      bool            `json:"skipped,omitempty"`
	Value        string          `json:"value,omitempty"`
	Reasoning    string          `json:"reasoning,omitempty"`
	Confidence   float64         `json:"confidence,omitempty"`
	Alternatives []string        `json:"alternatives,omitempty"`
	Attempts     int             `json:"attempts"`
	NeedsReview  bool            `json:"needs_review"`
	Error        string          `json:"error,omitempty"`
	Analysis     json.RawMessage `json:"analysis,omitempty"`
}

// Agent owns one pipeline step. Run returns an error only for
// infrastructure failures that should leave the document untouched for
// a later retry; model-level failures are folded into the Result.
type Agent interface {
	Step() workflow.Step
	Run(ctx context.Context, in *Input) (*Result, error)
}

// New builds the full agent set keyed by the step each one owns.
func New(deps Deps) map[workflow.Step]Agent {
	return map[workflow.Step]Agent{
		workflow.StepOCR:           &ocrAgent{deps: deps},
		workflow.StepSummary:       &summaryAgent{deps: deps},
		workflow.StepTitle:         &titleAgent{deps: deps},
		workflow.StepCorrespondent: newCorrespondentAgent(deps),
		workflow.StepDocumentType:  newDocumentTypeAgent(deps),
		workflow.StepTags:          &tagsAgent{deps: deps},
		workflow.StepCustomFields:  &customFieldsAgent{deps: deps},
	}
}

// engine pre-fills the loop configuration all agents share; callers add
// the prompt builders and any per-step overrides.
func (d Deps) engine(in *Input, step workflow.Step, schema map[string]any) *loop.Engine {
	return &loop.Engine{
		Agent:          string(step),
		DocID:          in.Doc.ID,
		Models:         d.Models,
		Tools:          d.Tools,
		Schema:         schema,
		AnalysisSystem: analysisSystem,
		ConfirmSystem:  confirmSystem,
		Logger:         in.Logger,
		MaxRetries:     in.Settings.Loop.MaxRetries,
		ToolBudget:     in.Settings.Loop.ToolBudget,
	}
}

// transition moves the document's workflow tag forward and records the
// move in the processing log.
func (d Deps) transition(ctx context.Context, in *Input) error {
	from, to := in.inputTag(), in.outputTag()
	if err := d.DMS.TransitionTag(ctx, in.Doc.ID, from, to); err != nil {
		return fmt.Errorf("transition %s to %s: %w", from, to, err)
	}
	emit(in, store.LogEventStateTransition, from+" -> "+to, "")
	return nil
}

// queueReview parks a document for human action. The store supersedes
// any prior active review of the same (doc, kind); the manual-review
// flag makes the parked document visible in the DMS itself.
func (d Deps) queueReview(ctx context.Context, in *Input, rev *store.PendingReview) error {
	rev.DocID = in.Doc.ID
	rev.DocTitle = in.Doc.Title
	if err := d.Store.InsertReview(ctx, rev); err != nil {
		return fmt.Errorf("queue %s review: %w", rev.Kind, err)
	}
	if err := d.DMS.AddTag(ctx, in.Doc.ID, in.Settings.Tags.ManualReview); err != nil {
		return fmt.Errorf("flag document %d for review: %w", in.Doc.ID, err)
	}
	return nil
}

// parked is the common result shape after an unconfirmed loop run.
func parked(step workflow.Step, lr *loop.Result) *Result {
	res := &Result{
		Step:        step,
		Attempts:    lr.Attempts,
		NeedsReview: true,
		Analysis:    lr.Analysis,
	}
	if lr.Err != nil {
		res.Error = lr.Err.Error()
	}
	return res
}

// parkEmptySuggestion handles a confirmed analysis whose suggestion is
// empty. Nothing can be applied, so the document goes to review with an
// explanation instead.
func (d Deps) parkEmptySuggestion(ctx context.Context, in *Input, step workflow.Step, kind store.ReviewKind, lr *loop.Result) (*Result, error) {
	reason := "confirmed analysis carried no " + strings.ReplaceAll(string(kind), "_", " ")
	rev := &store.PendingReview{
		Kind:         kind,
		Attempts:     lr.Attempts,
		LastFeedback: reason,
		NextTag:      in.outputTag(),
	}
	if err := d.queueReview(ctx, in, rev); err != nil {
		return nil, err
	}
	return &Result{
		Step:        step,
		Attempts:    lr.Attempts,
		NeedsReview: true,
		Error:       reason,
		Analysis:    lr.Analysis,
	}, nil
}

// contextSummary renders assembled prompt context for the processing
// log, without repeating the document text itself.
func contextSummary(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if k == "document_excerpt" || k == "document_content" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(k + ":\n" + vars[k])
	}
	return b.String()
}

// feedbackVar renders the {feedback} placeholder. The retry notice is
// injected here so the templates stay declarative.
func feedbackVar(feedback string) string {
	if feedback == "" {
		return "None."
	}
	return "A previous attempt was rejected. Reviewer feedback:\n" + feedback
}

func emit(in *Input, typ store.LogEventType, payload, parentID string) string {
	if in.Logger == nil {
		return ""
	}
	return in.Logger.Emit(proclog.Event{
		DocID:    in.Doc.ID,
		Step:     string(in.Spec.Step),
		Type:     typ,
		Payload:  payload,
		ParentID: parentID,
	})
}
