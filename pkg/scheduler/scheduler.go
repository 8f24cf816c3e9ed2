// Package scheduler is the unattended-processing loop: it scans the
// DMS for documents whose workflow tag marks them ready for a step,
// feeds them to the pipeline one at a time, and sleeps when the queue
// is empty. Every iteration re-reads settings, so operators can toggle
// the loop, retune the poll interval, or disable steps while it runs.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/pipeline"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/workflow"
)

// batchSize bounds each per-tag listing. Small on purpose: stray
// documents carrying processed plus an intermediate tag must not mask
// real work behind a large page.
const batchSize = 10

// disabledBackoff is how long the loop naps while auto processing is
// switched off, and how long it backs off after a failed iteration.
const disabledBackoff = 5 * time.Second

// Processor runs one pipeline step for a document; *pipeline.Pipeline
// is the production implementation.
type Processor interface {
	ProcessDocument(ctx context.Context, docID int, step workflow.Step) (*pipeline.Outcome, error)
}

// Deps are the loop's collaborators.
type Deps struct {
	DMS      *dms.Client
	Settings *settings.Service
	Pipeline Processor
}

// Status is a point-in-time snapshot of the loop. CurrentDoc is zero
// between documents; Processed and Errors accumulate across restarts.
type Status struct {
	Running     bool          `json:"running"`
	CurrentDoc  int           `json:"current_doc,omitempty"`
	CurrentStep workflow.Step `json:"current_step,omitempty"`
	Processed   int           `json:"processed"`
	Errors      int           `json:"errors"`
	LastCheck   time.Time     `json:"last_check"`
}

// Scheduler owns the loop. Exactly one document is in flight at a
// time; all mutable state sits behind one mutex and is written only by
// Start, Stop, Trigger and the loop goroutine itself.
type Scheduler struct {
	deps Deps

	backoff time.Duration

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	stopped   chan struct{}
	wake      chan struct{}
	current   int
	step      workflow.Step
	processed int
	errors    int
	lastCheck time.Time
}

// New builds a stopped scheduler.
func New(deps Deps) *Scheduler {
	return &Scheduler{deps: deps, backoff: disabledBackoff}
}

// Start launches the loop. The auto-processing toggle is read inside
// the loop, so starting with auto disabled is fine: the loop idles
// until an operator switches it on.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.running = true
	go s.loop(ctx, s.stopped)
	return nil
}

// Stop cancels the loop and blocks until it exits. A document in
// flight finishes its step first. Stopping a stopped scheduler is a
// no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, stopped := s.cancel, s.stopped
	if s.wake != nil {
		close(s.wake)
		s.wake = nil
	}
	s.mu.Unlock()

	cancel()
	<-stopped
}

// Trigger wakes a sleeping loop for one immediate poll and reports
// whether the signal was delivered. While the loop is processing,
// disabled, or stopped the call is absorbed: the loop re-polls on its
// own as soon as the current document completes.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wake == nil {
		return false
	}
	close(s.wake)
	s.wake = nil
	return true
}

// Status returns a snapshot of the loop's state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:     s.running,
		CurrentDoc:  s.current,
		CurrentStep: s.step,
		Processed:   s.processed,
		Errors:      s.errors,
		LastCheck:   s.lastCheck,
	}
}

func (s *Scheduler) loop(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)

	for ctx.Err() == nil {
		st, err := s.deps.Settings.Get(ctx)
		if err != nil {
			slog.Warn("Scheduler could not read settings", "error", err)
			if !s.sleep(ctx, s.backoff) {
				return
			}
			continue
		}
		if !st.Auto.Enabled {
			if !s.sleep(ctx, s.backoff) {
				return
			}
			continue
		}

		doc, step, err := s.findEligible(ctx, st)
		s.mu.Lock()
		s.lastCheck = time.Now().UTC()
		s.mu.Unlock()
		if err != nil {
			slog.Warn("Eligibility scan failed", "error", err)
			s.mu.Lock()
			s.errors++
			s.mu.Unlock()
			if !s.sleep(ctx, s.backoff) {
				return
			}
			continue
		}

		if doc != nil {
			if perr := s.process(ctx, doc, step); perr != nil {
				slog.Warn("Auto-processing failed", "doc", doc.ID, "error", perr)
				if !s.sleep(ctx, s.backoff) {
					return
				}
			}
			// Immediate re-poll: the step moved the tag, the next
			// step (or the next document) may already be waiting.
			continue
		}

		if !s.sleepOrWake(ctx, time.Duration(st.Auto.IntervalMinutes)*time.Minute) {
			return
		}
	}
}

// process runs one document through a single pipeline step. The
// in-flight document finishes even when Stop cancels the loop; an
// aborted confirmation would only waste the tokens already spent.
func (s *Scheduler) process(ctx context.Context, doc *dms.Document, step workflow.Step) error {
	s.mu.Lock()
	s.current, s.step = doc.ID, step
	s.mu.Unlock()

	_, err := s.deps.Pipeline.ProcessDocument(context.WithoutCancel(ctx), doc.ID, "")

	s.mu.Lock()
	s.current, s.step = 0, ""
	if err != nil {
		s.errors++
	} else {
		s.processed++
	}
	s.mu.Unlock()
	return err
}

// findEligible walks the workflow tags in pipeline order and returns
// the first document ready for a step, paired with the step it will
// get. Documents carrying the processed tag alongside a stale
// intermediate tag are strays, not work, and parked documents
// (manual_review) wait for a human decision; both are skipped within
// the per-tag batch.
func (s *Scheduler) findEligible(ctx context.Context, st *settings.Settings) (*dms.Document, workflow.Step, error) {
	processedID, err := s.tagID(ctx, st.Tags.Processed)
	if err != nil {
		return nil, "", err
	}
	manualID, err := s.tagID(ctx, st.Tags.ManualReview)
	if err != nil {
		return nil, "", err
	}

	for state := workflow.StatePending; state <= workflow.StateTagsDone; state++ {
		spec, ok := workflow.Consumer(state, st.Steps.Summary)
		if !ok {
			continue
		}
		docs, err := s.deps.DMS.ListByTag(ctx, st.Tags.Tag(state), batchSize)
		if err != nil {
			return nil, "", err
		}
		for _, doc := range docs {
			if hasTagID(doc, processedID) || hasTagID(doc, manualID) {
				continue
			}
			return doc, spec.Step, nil
		}
	}
	return nil, "", nil
}

// tagID resolves a tag name to its DMS id; 0 when the tag does not
// exist yet, which also means no document can carry it.
func (s *Scheduler) tagID(ctx context.Context, name string) (int, error) {
	tag, err := s.deps.DMS.FindTag(ctx, name)
	if errors.Is(err, dms.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return tag.ID, nil
}

func hasTagID(doc *dms.Document, id int) bool {
	if id == 0 {
		return false
	}
	for _, t := range doc.Tags {
		if t == id {
			return true
		}
	}
	return false
}

// sleep waits d or until the loop is cancelled.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleepOrWake parks the loop for the poll interval, a trigger, or
// cancellation. The wake channel exists only while the loop sleeps
// here, which is what makes Trigger a strict "iff sleeping" signal.
func (s *Scheduler) sleepOrWake(ctx context.Context, d time.Duration) bool {
	wake := make(chan struct{})
	s.mu.Lock()
	s.wake = wake
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.wake == wake {
			s.wake = nil
		}
		s.mu.Unlock()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-wake:
		return true
	case <-ctx.Done():
		return false
	}
}
