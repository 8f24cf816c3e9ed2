// Package loop implements the confirmation loop that drives every
// inference step: the large model produces a structured analysis,
// optionally gathering evidence through tools first, and the small model
// audits the result. Rejected analyses are retried with the auditor's
// feedback until confirmation succeeds or the retry budget runs out, at
// which point the caller queues the document for human review.
//
// The engine is indifferent to content. Prompts, schemas and the meaning
// of the analysis belong to the agents; the engine owns the state
// transitions, the tool-call budget, duplicate-call suppression and the
// processing log.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scribadev/scriba/pkg/llm"
	"github.com/scribadev/scriba/pkg/observability"
	"github.com/scribadev/scriba/pkg/proclog"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/tools"
)

const (
	defaultMaxRetries = 3
	defaultToolBudget = 5

	// confirmTemperature keeps the auditing model conservative.
	confirmTemperature = 0.1
)

// exhaustedNotice answers tool calls made after the budget is spent;
// providers require one result per call even when nothing ran.
const exhaustedNotice = "Tool budget exhausted. Produce your final answer from the evidence gathered so far."

// duplicatePrefix marks the synthesized result of a repeated call so the
// model can notice it already has this answer.
const duplicatePrefix = "Duplicate call, repeating the earlier result:\n"

// ProcessLogger receives loop events. Emit returns the id assigned to
// the entry so later events can reference it as their parent. It must
// never block; proclog.Logger satisfies this.
type ProcessLogger interface {
	Emit(e proclog.Event) string
}

// ModelResolver yields the provider for a model role at call time, so a
// settings change applies to the very next call. llm.Registry satisfies
// this.
type ModelResolver interface {
	Provider(ctx context.Context, role llm.ModelRole) (llm.Provider, error)
}

// Engine drives one document step through the loop. All prompt-building
// fields are required; configure an Engine and call Run once.
type Engine struct {
	// Agent names the step for logs, traces and metrics.
	Agent string
	// DocID is the document under analysis.
	DocID int

	Models ModelResolver

	// AnalysisRole selects the model the analysis phase runs on.
	// Empty means llm.ModelLarge; confirmation always uses the small
	// model.
	AnalysisRole llm.ModelRole

	// Tools offered to the analysis model. Nil disables tool use.
	Tools *tools.Registry

	// Schema constrains the structured analysis output.
	Schema map[string]any

	AnalysisSystem      string
	BuildAnalysisPrompt func(feedback string) (string, error)

	ConfirmSystem      string
	BuildConfirmPrompt func(analysis string) (string, error)

	// Logger receives processing events. Nil disables logging.
	Logger ProcessLogger

	// MaxRetries caps the number of analysis attempts; after that many
	// rejections the run ends in review.
	MaxRetries int
	// ToolBudget bounds tool invocations across the whole run,
	// repeated calls included.
	ToolBudget int

	// Think asks the analysis model to expose its reasoning when the
	// provider supports it.
	Think bool
}

// Result is the loop outcome. Err is set when the run ended without a
// confirmed analysis: an AnalysisError, or a plain error when the retry
// budget ran out. Analysis carries the last structured analysis
// produced, which may be nil when the first attempt already failed, and
// Feedback the rejection that stood when the run ended.
type Result struct {
	Confirmed bool
	Analysis  json.RawMessage
	Attempts  int
	Feedback  string
	Err       error
}

// confirmation is the auditing model's verdict.
type confirmation struct {
	Confirmed        bool   `json:"confirmed" jsonschema:"required,description=Whether the analysis is correct and should be applied"`
	Feedback         string `json:"feedback" jsonschema:"required,description=What is wrong with the analysis when it is not confirmed"`
	SuggestedChanges string `json:"suggested_changes,omitempty" jsonschema:"description=Concrete corrections for the next attempt"`
}

var confirmationSchema = MustSchema(confirmation{})

// resultPayload is the terminal log entry.
type resultPayload struct {
	Confirmed bool            `json:"confirmed"`
	Attempts  int             `json:"attempts"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Run drives the loop to a terminal state. The returned error is
// non-nil only for context cancellation; every other failure is folded
// into the Result so the agent can decide between applying the analysis
// and queueing the document for review.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	maxAttempts := e.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = defaultMaxRetries
	}

	budget := e.ToolBudget
	if budget < 1 {
		budget = defaultToolBudget
	}

	tracer := observability.GetTracer("scriba.loop")
	ctx, span := tracer.Start(ctx, "loop.run",
		trace.WithAttributes(
			attribute.String("loop.agent", e.Agent),
			attribute.Int("document.id", e.DocID),
		),
	)
	defer span.End()

	state := &runState{engine: e, budget: budget, cache: make(map[string]string)}

	var (
		analysis json.RawMessage
		feedback string
		attempts int
	)
	for {
		raw, err := state.analyze(ctx, feedback)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.SetStatus(codes.Error, "canceled")
				return nil, ctxErr
			}
			aerr := &AnalysisError{Agent: e.Agent, Err: err}
			e.emitResult(false, attempts, analysis, aerr.Error())
			span.SetStatus(codes.Error, aerr.Error())
			return &Result{Analysis: analysis, Attempts: attempts, Feedback: feedback, Err: aerr}, nil
		}
		analysis = raw
		attempts++

		decision, err := state.confirm(ctx, raw)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.SetStatus(codes.Error, "canceled")
				return nil, ctxErr
			}
			cerr := &ConfirmationError{Agent: e.Agent, Err: err}
			decision = &confirmation{Feedback: cerr.Error()}
		}

		verdict, _ := json.Marshal(decision)
		confirmingID := e.emit(store.LogEventConfirming, string(verdict), state.lastResponseID)

		if decision.Confirmed {
			e.emitResult(true, attempts, raw, "")
			span.SetAttributes(attribute.Int("loop.attempts", attempts))
			span.SetStatus(codes.Ok, "")
			return &Result{Confirmed: true, Analysis: raw, Attempts: attempts}, nil
		}

		feedback = joinFeedback(decision.Feedback, decision.SuggestedChanges)
		if feedback == "" {
			feedback = "The previous analysis was rejected."
		}

		if attempts >= maxAttempts {
			err := fmt.Errorf("analysis not confirmed after %d attempts", attempts)
			e.emitResult(false, attempts, raw, err.Error())
			span.SetAttributes(attribute.Int("loop.attempts", attempts))
			span.SetStatus(codes.Error, err.Error())
			return &Result{Analysis: raw, Attempts: attempts, Feedback: feedback, Err: err}, nil
		}

		e.emit(store.LogEventRetry, feedback, confirmingID)
	}
}

// runState is the mutable state of one Run.
type runState struct {
	engine *Engine
	budget int
	cache  map[string]string

	// transcript carries the assistant tool-call turns and their
	// results across rounds and retries, so evidence the budget already
	// paid for is never gathered twice.
	transcript []llm.Message

	// lastResponseID parents the confirmation decision to the response
	// whose analysis it audits.
	lastResponseID string
}

// analyze drives the large model until it yields a structured analysis,
// feeding tool results back in between rounds. Tools stay bound while
// budget remains; once it is spent the next round is forced onto the
// structured-output path.
func (s *runState) analyze(ctx context.Context, feedback string) (json.RawMessage, error) {
	e := s.engine

	prompt, err := e.BuildAnalysisPrompt(feedback)
	if err != nil {
		return nil, fmt.Errorf("build analysis prompt: %w", err)
	}
	promptID := e.emit(store.LogEventPrompt, prompt, "")

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		role := e.AnalysisRole
		if role == "" {
			role = llm.ModelLarge
		}
		provider, err := e.Models.Provider(ctx, role)
		if err != nil {
			e.emit(store.LogEventError, err.Error(), promptID)
			return nil, err
		}

		messages := make([]llm.Message, 0, len(s.transcript)+2)
		messages = append(messages,
			llm.SystemMessage(e.AnalysisSystem),
			llm.UserMessage(prompt),
		)
		messages = append(messages, s.transcript...)

		req := &llm.Request{Messages: messages, Think: e.Think}
		useTools := e.Tools != nil && s.budget > 0
		if useTools {
			req.Tools = e.Tools.Definitions()
		}

		start := time.Now()
		var resp *llm.Response
		if useTools {
			resp, err = provider.Generate(ctx, req)
		} else {
			resp, err = provider.GenerateStructured(ctx, req, e.Schema)
		}
		recordLLM(ctx, provider, start, resp, err)
		if err != nil {
			e.emit(store.LogEventError, err.Error(), promptID)
			return nil, err
		}

		responseID := e.emit(store.LogEventResponse, resp.Text, promptID)
		if resp.Thinking != "" {
			e.emit(store.LogEventThinking, resp.Thinking, responseID)
		}

		if useTools && len(resp.ToolCalls) > 0 {
			s.transcript = append(s.transcript, llm.AssistantMessage(resp.Text, resp.ToolCalls))
			s.transcript = append(s.transcript, s.runTools(ctx, resp.ToolCalls, responseID)...)
			continue
		}

		var analysis json.RawMessage
		if err := llm.DecodeStructured(resp, &analysis); err != nil {
			e.emit(store.LogEventError, err.Error(), responseID)
			return nil, err
		}
		s.lastResponseID = responseID
		return analysis, nil
	}
}

// runTools answers one round of tool calls. Every call is charged
// against the budget, repeated calls included; calls arriving after the
// budget is spent get a synthesized notice instead of an invocation.
func (s *runState) runTools(ctx context.Context, calls []llm.ToolCall, parentID string) []llm.Message {
	e := s.engine
	results := make([]llm.Message, 0, len(calls))

	for _, call := range calls {
		args := canonicalArgs(call.Args)
		callID := e.emit(store.LogEventToolCall, call.Name+" "+args, parentID)

		result := s.invoke(ctx, call, args)

		e.emit(store.LogEventToolResult, result, callID)
		results = append(results, llm.ToolResultMessage(call.ID, call.Name, result))
	}
	return results
}

// invoke resolves one tool call to its result string, consulting the
// duplicate cache and the budget.
func (s *runState) invoke(ctx context.Context, call llm.ToolCall, args string) string {
	if s.budget <= 0 {
		return exhaustedNotice
	}
	s.budget--

	key := call.Name + ":" + args
	if cached, ok := s.cache[key]; ok {
		return duplicatePrefix + cached
	}

	result, err := s.engine.Tools.Call(ctx, call.Name, call.Args)
	if err != nil {
		var toolErr *tools.ToolError
		if !errors.As(err, &toolErr) {
			// Transient failures are not cached so a repeated call can
			// succeed.
			return "Error: " + err.Error()
		}
		// A tool-level failure is a result the model reacts to; fall
		// through and cache the rendered error.
	}
	s.cache[key] = result
	return result
}

// confirm asks the small model to audit the analysis.
func (s *runState) confirm(ctx context.Context, analysis json.RawMessage) (*confirmation, error) {
	e := s.engine

	prompt, err := e.BuildConfirmPrompt(string(analysis))
	if err != nil {
		return nil, fmt.Errorf("build confirmation prompt: %w", err)
	}

	provider, err := e.Models.Provider(ctx, llm.ModelSmall)
	if err != nil {
		return nil, err
	}

	temperature := confirmTemperature
	req := &llm.Request{
		Messages: []llm.Message{
			llm.SystemMessage(e.ConfirmSystem),
			llm.UserMessage(prompt),
		},
		Temperature: &temperature,
	}

	start := time.Now()
	resp, err := provider.GenerateStructured(ctx, req, confirmationSchema)
	recordLLM(ctx, provider, start, resp, err)
	if err != nil {
		return nil, err
	}

	var decision confirmation
	if err := llm.DecodeStructured(resp, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// emit sends one event to the logger, stamping the agent and document.
func (e *Engine) emit(typ store.LogEventType, payload, parentID string) string {
	if e.Logger == nil {
		return ""
	}
	return e.Logger.Emit(proclog.Event{
		DocID:    e.DocID,
		Step:     e.Agent,
		Type:     typ,
		Payload:  payload,
		ParentID: parentID,
	})
}

func (e *Engine) emitResult(confirmed bool, attempts int, analysis json.RawMessage, errMsg string) {
	payload, _ := json.Marshal(resultPayload{
		Confirmed: confirmed,
		Attempts:  attempts,
		Analysis:  analysis,
		Error:     errMsg,
	})
	e.emit(store.LogEventResult, string(payload), "")
}

// canonicalArgs renders an argument map deterministically. encoding/json
// sorts map keys at every level, so equal maps produce equal strings.
func canonicalArgs(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}

func joinFeedback(feedback, changes string) string {
	feedback = strings.TrimSpace(feedback)
	changes = strings.TrimSpace(changes)
	switch {
	case feedback == "":
		return changes
	case changes == "":
		return feedback
	default:
		return feedback + "\nSuggested changes: " + changes
	}
}

func recordLLM(ctx context.Context, provider llm.Provider, start time.Time, resp *llm.Response, err error) {
	var promptTokens, outputTokens int
	if resp != nil {
		promptTokens, outputTokens = resp.PromptTokens, resp.OutputTokens
	}
	observability.GetGlobalMetrics().RecordLLMCall(ctx, provider.Name(), time.Since(start), promptTokens, outputTokens, err)
}
