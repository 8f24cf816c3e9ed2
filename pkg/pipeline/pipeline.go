// Package pipeline is the step orchestrator: one call runs exactly one
// processing step against one document. The caller (scheduler or
// operator) drives the sequence across calls by observing the workflow
// tag each step leaves behind; nothing here loops. The streaming
// variant mirrors a run as {type, step, data, timestamp} events so a
// UI can follow the analysis live.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scribadev/scriba/pkg/agents"
	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/loop"
	"github.com/scribadev/scriba/pkg/proclog"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/workflow"
)

const streamBuffer = 16

// EventType classifies one stream event.
type EventType string

const (
	EventPipelineStart    EventType = "pipeline_start"
	EventStepStart        EventType = "step_start"
	EventAnalyzing        EventType = "analyzing"
	EventThinking         EventType = "thinking"
	EventConfirming       EventType = "confirming"
	EventStepComplete     EventType = "step_complete"
	EventStepError        EventType = "step_error"
	EventNeedsReview      EventType = "needs_review"
	EventPipelineComplete EventType = "pipeline_complete"
)

// Event is one entry on a processing stream.
type Event struct {
	Type      EventType     `json:"type"`
	Step      workflow.Step `json:"step,omitempty"`
	Data      any           `json:"data,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// StartData opens every stream.
type StartData struct {
	DocID int `json:"doc_id"`
}

// StepData announces the step about to run.
type StepData struct {
	InputTag  string `json:"input_tag"`
	OutputTag string `json:"output_tag"`
	Disabled  bool   `json:"disabled,omitempty"`
}

// Outcome reports what one call did. Completed means the document was
// already fully processed and no step ran.
type Outcome struct {
	DocID     int            `json:"doc_id"`
	Step      workflow.Step  `json:"step,omitempty"`
	Completed bool           `json:"completed,omitempty"`
	Result    *agents.Result `json:"result,omitempty"`
}

// Deps are the orchestrator's collaborators. Log may be nil, which
// disables the durable processing-log trail but not the event stream.
type Deps struct {
	DMS      *dms.Client
	Settings *settings.Service
	Agents   map[workflow.Step]agents.Agent
	Log      *proclog.Logger
}

// Pipeline dispatches steps. It holds no per-document state; every run
// re-reads settings and the document's live tags.
type Pipeline struct {
	deps Deps
}

func New(deps Deps) *Pipeline { return &Pipeline{deps: deps} }

// ProcessDocument runs exactly one step. An empty step derives the
// next one from the document's workflow tag; naming a step runs it
// regardless of the current tag, which is how operators retry a step
// whose tag has already moved on. Model-level failures are folded into
// the outcome's Result; a returned error means infrastructure trouble
// and an untouched input tag, so the next pass re-attempts the same
// step.
func (p *Pipeline) ProcessDocument(ctx context.Context, docID int, step workflow.Step) (*Outcome, error) {
	return p.run(ctx, docID, step, nil)
}

// ProcessDocumentStream runs one step and feeds the run's events to
// the returned channel, which closes when the run finishes. Consumers
// must drain the channel or cancel ctx; sends block on a full buffer
// until one of the two.
func (p *Pipeline) ProcessDocumentStream(ctx context.Context, docID int, step workflow.Step) (<-chan Event, error) {
	if step != "" && !workflow.ValidStep(step) {
		return nil, fmt.Errorf("unknown step: %s", step)
	}

	ch := make(chan Event, streamBuffer)
	send := func(typ EventType, st workflow.Step, data any) {
		select {
		case ch <- Event{Type: typ, Step: st, Data: data, Timestamp: time.Now().UTC()}:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(ch)
		if _, err := p.run(ctx, docID, step, send); err != nil {
			slog.Warn("Document processing failed", "doc", docID, "error", err)
		}
	}()
	return ch, nil
}

// emitter delivers stream events; nil is the non-streaming path.
type emitter func(typ EventType, step workflow.Step, data any)

func (e emitter) emit(typ EventType, step workflow.Step, data any) {
	if e != nil {
		e(typ, step, data)
	}
}

func (p *Pipeline) run(ctx context.Context, docID int, step workflow.Step, send emitter) (*Outcome, error) {
	send.emit(EventPipelineStart, "", StartData{DocID: docID})

	st, err := p.deps.Settings.Get(ctx)
	if err != nil {
		return fail(send, "", fmt.Errorf("read settings: %w", err))
	}

	doc, err := p.deps.DMS.GetDocument(ctx, docID)
	if err != nil {
		return fail(send, "", fmt.Errorf("fetch document %d: %w", docID, err))
	}
	tags, err := p.docTags(ctx, doc)
	if err != nil {
		return fail(send, "", err)
	}

	var spec workflow.StepSpec
	if step == "" {
		state := workflow.StateOf(tags, st.Tags)
		if state == workflow.StateProcessed {
			out := &Outcome{DocID: docID, Completed: true}
			send.emit(EventPipelineComplete, "", out)
			return out, nil
		}
		if state == workflow.StateNone {
			return fail(send, "", fmt.Errorf("document %d carries no workflow tag", docID))
		}
		p.cleanStale(ctx, docID, tags, st.Tags)
		var ok bool
		if spec, ok = workflow.Consumer(state, st.Steps.Summary); !ok {
			return fail(send, "", fmt.Errorf("no step consumes state %s", state))
		}
	} else {
		if !workflow.ValidStep(step) {
			return fail(send, "", fmt.Errorf("unknown step: %s", step))
		}
		var ok bool
		if spec, ok = workflow.SpecFor(step, st.Steps.Summary); !ok {
			return fail(send, step, fmt.Errorf("step %s is not in the active chain", step))
		}
	}

	from, to := st.Tags.Tag(spec.Input), st.Tags.Tag(spec.Output)
	enabled := st.StepEnabled(spec.Step)
	send.emit(EventStepStart, spec.Step, StepData{InputTag: from, OutputTag: to, Disabled: !enabled})

	var res *agents.Result
	if enabled {
		agent, ok := p.deps.Agents[spec.Step]
		if !ok {
			return fail(send, spec.Step, fmt.Errorf("no agent for step %s", spec.Step))
		}
		in := &agents.Input{Doc: doc, Spec: spec, Settings: st, Logger: p.logger(send, spec.Step)}
		res, err = agent.Run(ctx, in)
	} else {
		res, err = p.autoTransition(ctx, docID, spec, st)
	}
	if err != nil {
		p.markFailed(ctx, docID, st)
		return fail(send, spec.Step, err)
	}

	if workflow.HasFlag(tags, st.Tags.Failed) {
		if rerr := p.deps.DMS.RemoveTag(ctx, docID, st.Tags.Failed); rerr != nil {
			slog.Warn("Failed to clear failed flag", "doc", docID, "error", rerr)
		}
	}

	if res.NeedsReview {
		send.emit(EventNeedsReview, spec.Step, res)
	} else {
		send.emit(EventStepComplete, spec.Step, res)
	}
	out := &Outcome{DocID: docID, Step: spec.Step, Result: res}
	send.emit(EventPipelineComplete, spec.Step, out)
	return out, nil
}

// fail reports an error run: the error goes on the stream, the stream
// terminates with pipeline_complete, and the caller gets the error.
func fail(send emitter, step workflow.Step, err error) (*Outcome, error) {
	send.emit(EventStepError, step, err.Error())
	send.emit(EventPipelineComplete, step, nil)
	return nil, err
}

// autoTransition moves a disabled step's tag forward without a model
// call, so switched-off steps do not dam the pipeline.
func (p *Pipeline) autoTransition(ctx context.Context, docID int, spec workflow.StepSpec, st *settings.Settings) (*agents.Result, error) {
	from, to := st.Tags.Tag(spec.Input), st.Tags.Tag(spec.Output)
	if err := p.deps.DMS.TransitionTag(ctx, docID, from, to); err != nil {
		return nil, fmt.Errorf("transition %s to %s: %w", from, to, err)
	}
	if p.deps.Log != nil {
		p.deps.Log.Emit(proclog.Event{
			DocID:   docID,
			Step:    string(spec.Step),
			Type:    store.LogEventStateTransition,
			Payload: from + " -> " + to,
		})
	}
	return &agents.Result{Step: spec.Step, Success: true, Skipped: true, Value: "step disabled"}, nil
}

// markFailed flags the document so operators can filter for stuck
// work. The input tag was not touched, so the step stays
// re-attemptable.
func (p *Pipeline) markFailed(ctx context.Context, docID int, st *settings.Settings) {
	if err := p.deps.DMS.AddTag(ctx, docID, st.Tags.Failed); err != nil {
		slog.Warn("Failed to flag document after step error", "doc", docID, "error", err)
	}
}

// cleanStale removes lower-precedence state tags left behind by
// interrupted transitions. Best effort: precedence already picks the
// right state, a failed removal only leaves clutter.
func (p *Pipeline) cleanStale(ctx context.Context, docID int, tags []string, names workflow.TagNames) {
	for _, tag := range workflow.StaleTags(tags, names) {
		if err := p.deps.DMS.RemoveTag(ctx, docID, tag); err != nil {
			slog.Warn("Failed to remove stale workflow tag", "doc", docID, "tag", tag, "error", err)
		}
	}
}

// docTags resolves the document's tag ids to names through the DMS
// tag listing.
func (p *Pipeline) docTags(ctx context.Context, doc *dms.Document) ([]string, error) {
	all, err := p.deps.DMS.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	byID := make(map[int]string, len(all))
	for _, t := range all {
		byID[t.ID] = t.Name
	}
	names := make([]string, 0, len(doc.Tags))
	for _, id := range doc.Tags {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// logger builds the agent's process logger: proclog for the durable
// trail, plus a mirror of the analysis milestones onto the stream.
func (p *Pipeline) logger(send emitter, step workflow.Step) loop.ProcessLogger {
	var inner loop.ProcessLogger
	if p.deps.Log != nil {
		inner = p.deps.Log
	}
	if send == nil {
		return inner
	}
	return &streamLogger{inner: inner, step: step, send: send}
}

// streamLogger forwards loop events to the processing log while
// mirroring the analysis milestones onto the live stream: a prompt
// means an analysis round started, thinking and the confirmation
// verdict follow as they land.
type streamLogger struct {
	inner loop.ProcessLogger
	step  workflow.Step
	send  emitter
}

func (s *streamLogger) Emit(e proclog.Event) string {
	var id string
	if s.inner != nil {
		id = s.inner.Emit(e)
	}
	switch e.Type {
	case store.LogEventPrompt:
		s.send.emit(EventAnalyzing, s.step, nil)
	case store.LogEventThinking:
		s.send.emit(EventThinking, s.step, e.Payload)
	case store.LogEventConfirming:
		s.send.emit(EventConfirming, s.step, nil)
	}
	return id
}
