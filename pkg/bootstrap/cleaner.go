package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scribadev/scriba/pkg/proclog"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/store"
)

// cleanupJobID keys the maintenance job row in the jobs table.
const cleanupJobID = "cleanup"

// pruneTimeout bounds one prune pass.
const pruneTimeout = time.Minute

// Cleaner runs scheduled maintenance: on the cron schedule from the
// cleanup settings it prunes processing-log entries older than the
// configured retention. Schedule changes take effect on restart; the
// retention window is re-read on every run.
type Cleaner struct {
	settings *settings.Service
	log      *proclog.Logger
	store    *store.Store

	mu   sync.Mutex
	cron *cron.Cron
	spec string
}

func NewCleaner(svc *settings.Service, log *proclog.Logger, st *store.Store) *Cleaner {
	return &Cleaner{settings: svc, log: log, store: st}
}

// Start reads the cleanup schedule and arms the cron runner. An empty
// schedule leaves maintenance off.
func (c *Cleaner) Start(ctx context.Context) error {
	st, err := c.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if st.Cleanup.Schedule == "" {
		return nil
	}

	runner := cron.New()
	if _, err := runner.AddFunc(st.Cleanup.Schedule, c.prune); err != nil {
		return fmt.Errorf("cleanup schedule %q: %w", st.Cleanup.Schedule, err)
	}

	c.mu.Lock()
	c.cron = runner
	c.spec = st.Cleanup.Schedule
	c.mu.Unlock()

	job := &store.Job{ID: cleanupJobID, Status: store.JobStatusIdle, Schedule: st.Cleanup.Schedule}
	if err := c.store.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("record cleanup job: %w", err)
	}

	runner.Start()
	slog.Info("Cleanup schedule armed", "schedule", st.Cleanup.Schedule)
	return nil
}

// Stop halts the cron runner and waits for an in-flight prune.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	runner := c.cron
	c.cron = nil
	c.mu.Unlock()
	if runner != nil {
		<-runner.Stop().Done()
	}
}

func (c *Cleaner) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	st, err := c.settings.Get(ctx)
	if err != nil {
		slog.Warn("Cleanup could not read settings", "error", err)
		return
	}
	if st.Cleanup.LogRetentionDays <= 0 {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -st.Cleanup.LogRetentionDays)
	pruned, err := c.log.Prune(ctx, cutoff)
	if err != nil {
		slog.Warn("Processing-log prune failed", "error", err)
		return
	}
	if pruned > 0 {
		slog.Info("Pruned processing log", "entries", pruned, "cutoff", cutoff)
	}

	c.mu.Lock()
	spec := c.spec
	c.mu.Unlock()
	job := &store.Job{ID: cleanupJobID, Status: store.JobStatusCompleted, Schedule: spec}
	if err := c.store.UpsertJob(ctx, job); err != nil {
		slog.Warn("Failed to record cleanup run", "error", err)
	}
}
