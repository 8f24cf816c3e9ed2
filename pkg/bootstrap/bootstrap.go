// Package bootstrap analyzes an existing document schema for cleanup
// opportunities before automated processing is switched on. It scans
// tags, correspondents, and document types for near-duplicate names
// and for entities no document references, and queues the findings as
// schema_merge and schema_delete pending reviews. Nothing is changed
// until a reviewer approves.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/review"
	"github.com/scribadev/scriba/pkg/store"
)

// jobID keys the persisted progress row in the jobs table.
const jobID = "bootstrap"

// Scope selects which entity categories a run covers.
type Scope string

const (
	ScopeAll            Scope = "all"
	ScopeCorrespondents Scope = "correspondents"
	ScopeDocumentTypes  Scope = "document_types"
	ScopeTags           Scope = "tags"
)

func (s Scope) kinds() []dms.EntityKind {
	switch s {
	case ScopeAll, "":
		return []dms.EntityKind{dms.EntityCorrespondent, dms.EntityDocumentType, dms.EntityTag}
	case ScopeCorrespondents:
		return []dms.EntityKind{dms.EntityCorrespondent}
	case ScopeDocumentTypes:
		return []dms.EntityKind{dms.EntityDocumentType}
	case ScopeTags:
		return []dms.EntityKind{dms.EntityTag}
	default:
		return nil
	}
}

// Progress is the shared snapshot of an analyzer run. It is served
// live while the run is active and persisted to the jobs table so the
// last outcome survives restarts.
type Progress struct {
	Status                store.JobStatus          `json:"status"`
	Scope                 Scope                    `json:"scope,omitempty"`
	CategoryTotal         int                      `json:"category_total"`
	CategoriesProcessed   int                      `json:"categories_processed"`
	Suggestions           int                      `json:"suggestions"`
	ByKind                map[store.ReviewKind]int `json:"by_kind,omitempty"`
	Phase                 string                   `json:"phase,omitempty"`
	PhaseEntities         int                      `json:"phase_entities,omitempty"`
	AvgSecondsPerCategory float64                  `json:"avg_seconds_per_category,omitempty"`
	ETASeconds            float64                  `json:"eta_seconds,omitempty"`
	Error                 string                   `json:"error,omitempty"`
	StartedAt             time.Time                `json:"started_at"`
	FinishedAt            time.Time                `json:"finished_at"`
}

// Deps wires the analyzer to the outside world.
type Deps struct {
	DMS   *dms.Client
	Store *store.Store
}

// Analyzer runs the schema scan as a single background job. At most
// one run is active at a time.
type Analyzer struct {
	deps Deps

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	progress Progress
}

func New(deps Deps) *Analyzer {
	return &Analyzer{deps: deps}
}

// Start launches an analysis over the scoped categories in a
// background goroutine. It fails when a run is already active.
func (a *Analyzer) Start(scope Scope) error {
	kinds := scope.kinds()
	if len(kinds) == 0 {
		return fmt.Errorf("unknown bootstrap scope %q", scope)
	}
	if scope == "" {
		scope = ScopeAll
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("bootstrap analysis already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.running = true
	a.cancel = cancel
	a.done = make(chan struct{})
	a.progress = Progress{
		Status:        store.JobStatusRunning,
		Scope:         scope,
		CategoryTotal: len(kinds),
		ByKind:        map[store.ReviewKind]int{},
		StartedAt:     time.Now().UTC(),
	}
	go a.run(ctx, kinds)
	return nil
}

// Cancel asks a running analysis to stop at its next checkpoint and
// reports whether a run was active. The goroutine winds down on its
// own; Status flips to cancelled once it has.
func (a *Analyzer) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.cancel == nil {
		return false
	}
	a.cancel()
	return true
}

// Skip marks the bootstrap as completed without scanning anything, for
// installs whose schema is already in shape. Refused while a run is
// active.
func (a *Analyzer) Skip(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("bootstrap analysis already running")
	}
	a.progress = Progress{
		Status:     store.JobStatusCompleted,
		FinishedAt: time.Now().UTC(),
	}
	a.mu.Unlock()

	a.persist(ctx)
	return nil
}

// Status returns the live snapshot while a run is active, otherwise
// the last persisted one. A bootstrap that never ran reports idle.
func (a *Analyzer) Status(ctx context.Context) (Progress, error) {
	a.mu.Lock()
	if a.progress.Status != "" {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, nil
	}
	a.mu.Unlock()

	job, err := a.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}
	if job == nil {
		return Progress{Status: store.JobStatusIdle}, nil
	}
	var snap Progress
	if job.Progress != "" {
		if err := json.Unmarshal([]byte(job.Progress), &snap); err != nil {
			return Progress{}, fmt.Errorf("decode bootstrap progress: %w", err)
		}
	}
	snap.Status = job.Status
	return snap, nil
}

func (a *Analyzer) run(ctx context.Context, kinds []dms.EntityKind) {
	defer func() {
		a.mu.Lock()
		a.running = false
		a.cancel = nil
		done := a.done
		a.mu.Unlock()
		close(done)
	}()

	// The persist context deliberately ignores run cancellation so the
	// terminal snapshot still lands after Cancel.
	pctx := context.WithoutCancel(ctx)
	a.persist(pctx)

	if err := a.clearCandidates(ctx, kinds); err != nil {
		if ctx.Err() != nil {
			a.finish(pctx, store.JobStatusCancelled, nil)
			return
		}
		a.finish(pctx, store.JobStatusError, err)
		return
	}

	var elapsed time.Duration
	for i, kind := range kinds {
		if ctx.Err() != nil {
			a.finish(pctx, store.JobStatusCancelled, nil)
			return
		}
		categoryStart := time.Now()
		if err := a.analyzeCategory(ctx, kind); err != nil {
			if ctx.Err() != nil {
				a.finish(pctx, store.JobStatusCancelled, nil)
				return
			}
			slog.Error("Bootstrap analysis failed", "category", string(kind), "error", err)
			a.finish(pctx, store.JobStatusError, err)
			return
		}
		elapsed += time.Since(categoryStart)

		a.mu.Lock()
		a.progress.CategoriesProcessed = i + 1
		avg := elapsed.Seconds() / float64(i+1)
		a.progress.AvgSecondsPerCategory = avg
		a.progress.ETASeconds = avg * float64(len(kinds)-(i+1))
		a.mu.Unlock()
		a.persist(pctx)
	}

	a.finish(pctx, store.JobStatusCompleted, nil)
}

// clearCandidates removes the previous run's schema reviews for the
// scoped categories so a re-run regenerates instead of accumulating
// duplicates. Other categories' candidates stay untouched.
func (a *Analyzer) clearCandidates(ctx context.Context, kinds []dms.EntityKind) error {
	selected := make(map[dms.EntityKind]bool, len(kinds))
	for _, kind := range kinds {
		selected[kind] = true
	}
	for _, rk := range []store.ReviewKind{store.ReviewKindSchemaMerge, store.ReviewKindSchemaDelete} {
		reviews, err := a.deps.Store.ListReviews(ctx, rk)
		if err != nil {
			return fmt.Errorf("list prior candidates: %w", err)
		}
		for _, rev := range reviews {
			kind, ok := review.CandidateKind(rev)
			if !ok || !selected[kind] {
				continue
			}
			if err := a.deps.Store.DeleteReview(ctx, rev.ID); err != nil {
				return fmt.Errorf("clear prior candidate %s: %w", rev.ID, err)
			}
		}
	}
	return nil
}

func (a *Analyzer) analyzeCategory(ctx context.Context, kind dms.EntityKind) error {
	a.setPhase(string(kind)+": fetching entities", 0)
	entities, err := a.deps.DMS.ListEntities(ctx, kind)
	if err != nil {
		return fmt.Errorf("list %ss: %w", kind, err)
	}

	a.setPhase(string(kind)+": merge candidates", len(entities))
	for _, pair := range mergeCandidates(entities) {
		if err := ctx.Err(); err != nil {
			return err
		}
		blocked, err := a.deps.Store.IsBlocked(ctx, pair.source.Name, store.ReviewKindSchemaMerge)
		if err != nil {
			return fmt.Errorf("check blocklist for %q: %w", pair.source.Name, err)
		}
		if blocked {
			continue
		}
		rev := review.MergeCandidate(kind, pair.source, pair.target, pair.similarity)
		if err := a.deps.Store.InsertReview(ctx, rev); err != nil {
			return fmt.Errorf("queue merge candidate %q: %w", pair.source.Name, err)
		}
		a.record(store.ReviewKindSchemaMerge)
	}

	// Unused tags are normal vocabulary waiting for documents, so only
	// correspondents and document types get delete candidates.
	if kind == dms.EntityTag {
		return nil
	}
	a.setPhase(string(kind)+": delete candidates", len(entities))
	for _, entity := range entities {
		if entity.DocumentCount != 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		blocked, err := a.deps.Store.IsBlocked(ctx, entity.Name, store.ReviewKindSchemaDelete)
		if err != nil {
			return fmt.Errorf("check blocklist for %q: %w", entity.Name, err)
		}
		if blocked {
			continue
		}
		if err := a.deps.Store.InsertReview(ctx, review.DeleteCandidate(kind, entity)); err != nil {
			return fmt.Errorf("queue delete candidate %q: %w", entity.Name, err)
		}
		a.record(store.ReviewKindSchemaDelete)
	}
	return nil
}

func (a *Analyzer) finish(ctx context.Context, status store.JobStatus, err error) {
	a.mu.Lock()
	a.progress.Status = status
	a.progress.Phase = ""
	a.progress.PhaseEntities = 0
	a.progress.ETASeconds = 0
	a.progress.FinishedAt = time.Now().UTC()
	if err != nil {
		a.progress.Error = err.Error()
	}
	a.mu.Unlock()
	a.persist(ctx)
}

func (a *Analyzer) setPhase(phase string, entities int) {
	a.mu.Lock()
	a.progress.Phase = phase
	a.progress.PhaseEntities = entities
	a.mu.Unlock()
}

func (a *Analyzer) record(kind store.ReviewKind) {
	a.mu.Lock()
	a.progress.Suggestions++
	a.progress.ByKind[kind]++
	a.mu.Unlock()
}

func (a *Analyzer) snapshotLocked() Progress {
	snap := a.progress
	if a.progress.ByKind != nil {
		snap.ByKind = make(map[store.ReviewKind]int, len(a.progress.ByKind))
		for k, v := range a.progress.ByKind {
			snap.ByKind[k] = v
		}
	}
	return snap
}

// persist mirrors the in-memory progress to the jobs table.
func (a *Analyzer) persist(ctx context.Context) {
	a.mu.Lock()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("Failed to encode bootstrap progress", "error", err)
		return
	}
	job := &store.Job{ID: jobID, Status: snap.Status, Progress: string(raw)}
	if err := a.deps.Store.UpsertJob(ctx, job); err != nil {
		slog.Warn("Failed to persist bootstrap progress", "error", err)
	}
}
