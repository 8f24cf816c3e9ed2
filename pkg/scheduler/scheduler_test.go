package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/goleak"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/pipeline"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeDMS serves just enough of the REST surface for eligibility
// scans: tag lookup by name and document listing by tag id.
type fakeDMS struct {
	mu      sync.Mutex
	docs    map[int]*dms.Document
	tags    map[int]*dms.Tag
	nextID  int
	tagGets int

	srv *httptest.Server
}

func newFakeDMS(t *testing.T) *fakeDMS {
	t.Helper()
	f := &fakeDMS{
		docs:   make(map[int]*dms.Document),
		tags:   make(map[int]*dms.Tag),
		nextID: 1,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags/", f.handleTags)
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDMS) client() *dms.Client {
	return dms.NewClient(dms.StaticConfig(dms.Config{BaseURL: f.srv.URL, Token: "secret"}))
}

func (f *fakeDMS) handleTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name__iexact")
	f.mu.Lock()
	f.tagGets++
	var results []*dms.Tag
	for _, tag := range f.tags {
		if name == "" || strings.EqualFold(tag.Name, name) {
			results = append(results, tag)
		}
	}
	f.mu.Unlock()
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	json.NewEncoder(w).Encode(map[string]any{"count": len(results), "next": nil, "results": results})
}

func (f *fakeDMS) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tagID, _ := strconv.Atoi(r.URL.Query().Get("tags__id"))
	f.mu.Lock()
	var results []*dms.Document
	for _, doc := range f.docs {
		for _, id := range doc.Tags {
			if id == tagID {
				results = append(results, doc)
				break
			}
		}
	}
	f.mu.Unlock()
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	json.NewEncoder(w).Encode(map[string]any{"count": len(results), "next": nil, "results": results})
}

func (f *fakeDMS) ensureTag(name string) *dms.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tag := range f.tags {
		if strings.EqualFold(tag.Name, name) {
			return tag
		}
	}
	tag := &dms.Tag{ID: f.nextID, Name: name}
	f.nextID++
	f.tags[tag.ID] = tag
	return tag
}

func (f *fakeDMS) addDocument(title string, tagNames ...string) *dms.Document {
	ids := make([]int, 0, len(tagNames))
	for _, name := range tagNames {
		ids = append(ids, f.ensureTag(name).ID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := &dms.Document{ID: f.nextID, Title: title, Tags: ids, Content: "scanned text"}
	f.nextID++
	f.docs[doc.ID] = doc
	return doc
}

// setTags replaces a document's tag set, creating tags as needed.
func (f *fakeDMS) setTags(docID int, names ...string) {
	ids := make([]int, 0, len(names))
	for _, name := range names {
		ids = append(ids, f.ensureTag(name).ID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[docID]; ok {
		doc.Tags = ids
	}
}

func (f *fakeDMS) tagLookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tagGets
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "scheduler.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.New(db, "sqlite")
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	return st
}

type processedCall struct {
	docID int
	err   error
}

// stubProcessor stands in for the pipeline. Each call runs the
// scripted hook, reports on the calls channel, and returns the hook's
// error.
type stubProcessor struct {
	calls chan processedCall
	run   func(ctx context.Context, docID int) error
}

func (p *stubProcessor) ProcessDocument(ctx context.Context, docID int, step workflow.Step) (*pipeline.Outcome, error) {
	var err error
	if p.run != nil {
		err = p.run(ctx, docID)
	}
	p.calls <- processedCall{docID: docID, err: err}
	if err != nil {
		return nil, err
	}
	return &pipeline.Outcome{DocID: docID}, nil
}

type fixture struct {
	t     *testing.T
	dms   *fakeDMS
	svc   *settings.Service
	proc  *stubProcessor
	sched *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, dms: newFakeDMS(t)}
	f.svc = settings.NewService(newTestStore(t))
	f.proc = &stubProcessor{calls: make(chan processedCall, 32)}
	// Default script: mark the document fully processed so it drops
	// out of the eligibility scan.
	f.proc.run = func(_ context.Context, docID int) error {
		f.dms.setTags(docID, "ai:processed")
		return nil
	}
	f.sched = New(Deps{DMS: f.dms.client(), Settings: f.svc, Pipeline: f.proc})
	f.sched.backoff = 5 * time.Millisecond
	return f
}

func (f *fixture) enable() {
	f.t.Helper()
	if _, err := f.svc.Update(context.Background(), map[string]string{"auto.enabled": "true"}); err != nil {
		f.t.Fatalf("enable auto processing: %v", err)
	}
}

func (f *fixture) start() {
	f.t.Helper()
	if err := f.sched.Start(); err != nil {
		f.t.Fatalf("Start() = %v", err)
	}
	f.t.Cleanup(f.sched.Stop)
}

func (f *fixture) waitCall() processedCall {
	f.t.Helper()
	select {
	case c := <-f.proc.calls:
		return c
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for a processing call")
		return processedCall{}
	}
}

func (f *fixture) expectNoCall(within time.Duration) {
	f.t.Helper()
	select {
	case c := <-f.proc.calls:
		f.t.Fatalf("unexpected processing call for document %d", c.docID)
	case <-time.After(within):
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestScheduler_ProcessesEligibleDocument(t *testing.T) {
	f := newFixture(t)
	f.enable()
	doc := f.dms.addDocument("invoice.pdf", "ai:pending")

	f.start()

	if c := f.waitCall(); c.docID != doc.ID {
		t.Errorf("processed document %d, want %d", c.docID, doc.ID)
	}
	waitFor(t, "counters to settle", func() bool {
		st := f.sched.Status()
		return st.Processed == 1 && st.CurrentDoc == 0
	})
	if st := f.sched.Status(); st.Errors != 0 || st.LastCheck.IsZero() {
		t.Errorf("Status() = %+v, want zero errors and a last check time", st)
	}
}

func TestScheduler_ScanOrderFollowsPipeline(t *testing.T) {
	f := newFixture(t)
	f.enable()
	late := f.dms.addDocument("late.pdf", "ai:tags-done")
	early := f.dms.addDocument("early.pdf", "ai:pending")

	f.start()

	if c := f.waitCall(); c.docID != early.ID {
		t.Fatalf("first pick = document %d, want the pending one %d", c.docID, early.ID)
	}
	if c := f.waitCall(); c.docID != late.ID {
		t.Errorf("second pick = document %d, want %d", c.docID, late.ID)
	}
}

func TestScheduler_SkipsStraysAndParkedDocuments(t *testing.T) {
	f := newFixture(t)
	f.enable()
	f.dms.addDocument("stray.pdf", "ai:pending", "ai:processed")
	f.dms.addDocument("parked.pdf", "ai:pending", "ai:manual-review")
	real := f.dms.addDocument("real.pdf", "ai:pending")

	f.start()

	if c := f.waitCall(); c.docID != real.ID {
		t.Errorf("processed document %d, want %d", c.docID, real.ID)
	}
	f.expectNoCall(50 * time.Millisecond)
}

func TestScheduler_DisabledLoopIdles(t *testing.T) {
	f := newFixture(t) // auto.enabled defaults to false
	f.dms.addDocument("waiting.pdf", "ai:pending")

	f.start()

	f.expectNoCall(50 * time.Millisecond)
	if n := f.dms.tagLookups(); n != 0 {
		t.Errorf("disabled loop performed %d tag lookups, want 0", n)
	}
	if st := f.sched.Status(); !st.Running {
		t.Error("Status().Running = false, want true while idling")
	}
}

func TestScheduler_TriggerWakesSleepingLoop(t *testing.T) {
	f := newFixture(t)
	f.enable()

	f.start()

	// Empty queue: the first scan completes and the loop parks on the
	// poll interval. Trigger reports true only in that window.
	waitFor(t, "loop to fall asleep", f.sched.Trigger)
	before := f.dms.tagLookups()
	waitFor(t, "a fresh scan after the trigger", func() bool {
		return f.dms.tagLookups() > before
	})
}

func TestScheduler_ErrorCountsAndRecovers(t *testing.T) {
	f := newFixture(t)
	f.enable()
	var attempt atomic.Int32
	f.proc.run = func(_ context.Context, docID int) error {
		if attempt.Add(1) == 1 {
			return errors.New("model unreachable")
		}
		f.dms.setTags(docID, "ai:processed")
		return nil
	}
	doc := f.dms.addDocument("flaky.pdf", "ai:pending")

	f.start()

	if c := f.waitCall(); c.err == nil {
		t.Fatal("first attempt should have failed")
	}
	if c := f.waitCall(); c.err != nil || c.docID != doc.ID {
		t.Fatalf("retry = (%d, %v), want clean pass for document %d", c.docID, c.err, doc.ID)
	}
	waitFor(t, "counters to settle", func() bool {
		st := f.sched.Status()
		return st.Errors == 1 && st.Processed == 1
	})
}

func TestScheduler_StopWaitsForInFlightDocument(t *testing.T) {
	f := newFixture(t)
	f.enable()
	release := make(chan struct{})
	var inFlightCtxErr error
	f.proc.run = func(ctx context.Context, docID int) error {
		<-release
		inFlightCtxErr = ctx.Err()
		f.dms.setTags(docID, "ai:processed")
		return nil
	}
	doc := f.dms.addDocument("slow.pdf", "ai:pending")

	f.start()

	waitFor(t, "processing to begin", func() bool {
		return f.sched.Status().CurrentDoc == doc.ID
	})
	if f.sched.Trigger() {
		t.Error("Trigger() = true while processing, want the signal absorbed")
	}

	done := make(chan struct{})
	go func() {
		f.sched.Stop()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Stop returned while a document was still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the document finished")
	}
	if inFlightCtxErr != nil {
		t.Errorf("in-flight context was cancelled: %v", inFlightCtxErr)
	}
	st := f.sched.Status()
	if st.Running || st.Processed != 1 {
		t.Errorf("Status() after Stop = %+v, want stopped with one processed", st)
	}
}

func TestScheduler_StartAndStopGuards(t *testing.T) {
	f := newFixture(t)

	f.sched.Stop() // never started: no-op

	f.start()
	if err := f.sched.Start(); err == nil {
		t.Error("second Start() = nil, want already-running error")
	}

	f.sched.Stop()
	f.sched.Stop() // second Stop: no-op

	if err := f.sched.Start(); err != nil {
		t.Errorf("restart after Stop = %v", err)
	}
}
