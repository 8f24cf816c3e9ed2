package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scribadev/scriba/pkg/agents"
	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/proclog"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/workflow"
)

// fakeDMS is the in-memory DMS the orchestrator runs against: documents
// whose tag sets follow PATCH updates, and a tag collection with
// name__iexact lookup and creation. The stub agents never touch the
// DMS, so entity collections beyond tags are not served.
type fakeDMS struct {
	mu     sync.Mutex
	docs   map[int]*dms.Document
	tags   map[int]*dms.Tag
	nextID int

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
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	mux.HandleFunc("/api/tags/", f.handleTags)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDMS) client() *dms.Client {
	return dms.NewClient(dms.StaticConfig(dms.Config{BaseURL: f.srv.URL, Token: "secret"}))
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

// hasTag reports whether the document currently carries the named tag.
func (f *fakeDMS) hasTag(docID int, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var tagID int
	for _, tag := range f.tags {
		if strings.EqualFold(tag.Name, name) {
			tagID = tag.ID
			break
		}
	}
	if tagID == 0 {
		return false
	}
	doc, ok := f.docs[docID]
	if !ok {
		return false
	}
	for _, id := range doc.Tags {
		if id == tagID {
			return true
		}
	}
	return false
}

func (f *fakeDMS) handleDocuments(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
	id, err := strconv.Atoi(rest)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	doc, ok := f.docs[id]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(doc)
	case http.MethodPatch:
		var patch dms.DocumentPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		if patch.Tags != nil {
			doc.Tags = *patch.Tags
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(doc)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *fakeDMS) handleTags(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		f.mu.Lock()
		var results []*dms.Tag
		for _, tag := range f.tags {
			if name := r.URL.Query().Get("name__iexact"); name != "" &&
				!strings.EqualFold(tag.Name, name) {
				continue
			}
			results = append(results, tag)
		}
		f.mu.Unlock()
		sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
		json.NewEncoder(w).Encode(map[string]any{
			"count": len(results), "next": nil, "results": results,
		})
	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		tag := f.ensureTag(body.Name)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(tag)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// stubAgent records its invocations and answers with a canned result.
// It never moves the workflow tag; transition assertions in this file
// target the orchestrator's own writes.
type stubAgent struct {
	step workflow.Step
	res  *agents.Result
	err  error

	mu     sync.Mutex
	inputs []*agents.Input
}

func (a *stubAgent) Step() workflow.Step { return a.step }

func (a *stubAgent) Run(_ context.Context, in *agents.Input) (*agents.Result, error) {
	a.mu.Lock()
	a.inputs = append(a.inputs, in)
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.res != nil {
		return a.res, nil
	}
	return &agents.Result{Step: a.step, Success: true, Value: "ok", Attempts: 1}, nil
}

func (a *stubAgent) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inputs)
}

func (a *stubAgent) lastInput() *agents.Input {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.inputs) == 0 {
		return nil
	}
	return a.inputs[len(a.inputs)-1]
}

// loopingAgent emits the loop's milestone events through the injected
// logger before answering, the way a real confirmation run does.
type loopingAgent struct {
	stubAgent
}

func (a *loopingAgent) Run(ctx context.Context, in *agents.Input) (*agents.Result, error) {
	promptID := in.Logger.Emit(proclog.Event{
		DocID: in.Doc.ID, Step: string(a.step),
		Type: store.LogEventPrompt, Payload: "analyze this",
	})
	respID := in.Logger.Emit(proclog.Event{
		DocID: in.Doc.ID, Step: string(a.step),
		Type: store.LogEventResponse, Payload: `{"value":"ok"}`, ParentID: promptID,
	})
	in.Logger.Emit(proclog.Event{
		DocID: in.Doc.ID, Step: string(a.step),
		Type: store.LogEventThinking, Payload: "weighing the evidence", ParentID: respID,
	})
	in.Logger.Emit(proclog.Event{
		DocID: in.Doc.ID, Step: string(a.step),
		Type: store.LogEventConfirming, Payload: `{"confirmed":true}`, ParentID: respID,
	})
	return a.stubAgent.Run(ctx, in)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db, "sqlite")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

type fixture struct {
	t   *testing.T
	dms *fakeDMS
	st  *store.Store
	svc *settings.Service
	set map[workflow.Step]agents.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:   t,
		dms: newFakeDMS(t),
		st:  newTestStore(t),
		set: make(map[workflow.Step]agents.Agent, len(workflow.Steps)),
	}
	f.svc = settings.NewService(f.st)
	for _, step := range workflow.Steps {
		f.set[step] = &stubAgent{step: step}
	}
	return f
}

func (f *fixture) pipeline() *Pipeline {
	return New(Deps{DMS: f.dms.client(), Settings: f.svc, Agents: f.set})
}

func (f *fixture) stub(step workflow.Step) *stubAgent {
	return f.set[step].(*stubAgent)
}

func (f *fixture) update(values map[string]string) {
	f.t.Helper()
	if _, err := f.svc.Update(context.Background(), values); err != nil {
		f.t.Fatalf("Update settings: %v", err)
	}
}

func TestProcessDocument_DerivesNextStep(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan.pdf", "ai:pending")

	out, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, "")
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if out.Step != workflow.StepOCR {
		t.Errorf("Step = %s, want %s", out.Step, workflow.StepOCR)
	}
	if out.Completed {
		t.Error("Completed should be false when a step ran")
	}
	if out.Result == nil || !out.Result.Success {
		t.Fatalf("Result = %+v, want success", out.Result)
	}

	ocr := f.stub(workflow.StepOCR)
	if ocr.calls() != 1 {
		t.Fatalf("ocr agent calls = %d, want 1", ocr.calls())
	}
	in := ocr.lastInput()
	if in.Doc.ID != doc.ID {
		t.Errorf("agent got document %d, want %d", in.Doc.ID, doc.ID)
	}
	if in.Spec.Input != workflow.StatePending || in.Spec.Output != workflow.StateOCRDone {
		t.Errorf("agent spec = %v -> %v, want pending -> ocr_done", in.Spec.Input, in.Spec.Output)
	}
	if in.Settings.Loop.MaxRetries != 3 {
		t.Errorf("settings did not flow through, MaxRetries = %d", in.Settings.Loop.MaxRetries)
	}
	if got := f.stub(workflow.StepTitle).calls(); got != 0 {
		t.Errorf("title agent calls = %d, want 0", got)
	}
}

func TestProcessDocument_AlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("done.pdf", "ai:processed")

	out, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, "")
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if !out.Completed {
		t.Error("Completed should be true for a processed document")
	}
	if out.Result != nil {
		t.Errorf("Result = %+v, want nil", out.Result)
	}
	for _, step := range workflow.Steps {
		if got := f.stub(step).calls(); got != 0 {
			t.Errorf("%s agent calls = %d, want 0", step, got)
		}
	}
}

func TestProcessDocument_NoWorkflowTag(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("untracked.pdf")

	_, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, "")
	if err == nil || !strings.Contains(err.Error(), "no workflow tag") {
		t.Fatalf("err = %v, want no-workflow-tag error", err)
	}
	for _, step := range workflow.Steps {
		if got := f.stub(step).calls(); got != 0 {
			t.Errorf("%s agent calls = %d, want 0", step, got)
		}
	}
}

func TestProcessDocument_UnknownDocument(t *testing.T) {
	f := newFixture(t)

	if _, err := f.pipeline().ProcessDocument(context.Background(), 999, ""); err == nil {
		t.Fatal("ProcessDocument on a missing document should fail")
	}
}

func TestProcessDocument_DisabledStepAutoTransitions(t *testing.T) {
	f := newFixture(t)
	f.update(map[string]string{"steps.title": "false"})
	doc := f.dms.addDocument("scan.pdf", "ai:ocr-done")

	out, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, "")
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if out.Step != workflow.StepTitle {
		t.Errorf("Step = %s, want %s", out.Step, workflow.StepTitle)
	}
	if !out.Result.Skipped || !out.Result.Success {
		t.Errorf("Result = %+v, want skipped success", out.Result)
	}
	if got := f.stub(workflow.StepTitle).calls(); got != 0 {
		t.Errorf("title agent calls = %d, want 0", got)
	}
	if !f.dms.hasTag(doc.ID, "ai:title-done") {
		t.Error("document should have moved to ai:title-done")
	}
	if f.dms.hasTag(doc.ID, "ai:ocr-done") {
		t.Error("input tag should have been removed")
	}
}

func TestProcessDocument_DisabledStepLogsTransition(t *testing.T) {
	f := newFixture(t)
	f.update(map[string]string{"steps.title": "false"})
	doc := f.dms.addDocument("scan.pdf", "ai:ocr-done")

	log := proclog.New(f.st)
	t.Cleanup(func() { log.Close() })
	p := New(Deps{DMS: f.dms.client(), Settings: f.svc, Agents: f.set, Log: log})

	if _, err := p.ProcessDocument(context.Background(), doc.ID, ""); err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	entries, err := log.Entries(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if entries[0].EventType != store.LogEventStateTransition {
		t.Errorf("event type = %s, want state_transition", entries[0].EventType)
	}
	if entries[0].Payload != "ai:ocr-done -> ai:title-done" {
		t.Errorf("payload = %q", entries[0].Payload)
	}
}

func TestProcessDocument_AgentErrorFlagsDocument(t *testing.T) {
	f := newFixture(t)
	f.stub(workflow.StepOCR).err = errors.New("model unreachable")
	doc := f.dms.addDocument("scan.pdf", "ai:pending")

	_, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, "")
	if err == nil || !strings.Contains(err.Error(), "model unreachable") {
		t.Fatalf("err = %v, want agent error", err)
	}

	if !f.dms.hasTag(doc.ID, "ai:failed") {
		t.Error("document should carry the failed flag")
	}
	if !f.dms.hasTag(doc.ID, "ai:pending") {
		t.Error("input tag must survive a failed step")
	}
}

func TestProcessDocument_ClearsFailedFlagAfterCleanRun(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan.pdf", "ai:pending", "ai:failed")

	if _, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, ""); err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if f.dms.hasTag(doc.ID, "ai:failed") {
		t.Error("failed flag should be cleared after a clean run")
	}
}

func TestProcessDocument_ExplicitStepBypassesGating(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan.pdf", "ai:title-done")

	out, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, workflow.StepTitle)
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if out.Step != workflow.StepTitle {
		t.Errorf("Step = %s, want title", out.Step)
	}
	title := f.stub(workflow.StepTitle)
	if title.calls() != 1 {
		t.Fatalf("title agent calls = %d, want 1", title.calls())
	}
	if got := title.lastInput().Spec.Step; got != workflow.StepTitle {
		t.Errorf("agent spec step = %s, want title", got)
	}
}

func TestProcessDocument_ExplicitSummaryFollowsToggle(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan.pdf", "ai:ocr-done")

	_, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, workflow.StepSummary)
	if err == nil || !strings.Contains(err.Error(), "not in the active chain") {
		t.Fatalf("err = %v, want inactive-chain error", err)
	}

	f.update(map[string]string{"steps.summary": "true"})
	out, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, workflow.StepSummary)
	if err != nil {
		t.Fatalf("ProcessDocument with summary enabled failed: %v", err)
	}
	if out.Step != workflow.StepSummary {
		t.Errorf("Step = %s, want summary", out.Step)
	}
	if got := f.stub(workflow.StepSummary).calls(); got != 1 {
		t.Errorf("summary agent calls = %d, want 1", got)
	}
}

func TestProcessDocument_SummaryDoneOrphanMovesToTitle(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan.pdf", "ai:summary-done")

	out, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, "")
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if out.Step != workflow.StepTitle {
		t.Errorf("Step = %s, want title", out.Step)
	}
	if got := f.stub(workflow.StepTitle).calls(); got != 1 {
		t.Errorf("title agent calls = %d, want 1", got)
	}
}

func TestProcessDocument_CleansStaleTags(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan.pdf", "ai:pending", "ai:ocr-done")

	out, err := f.pipeline().ProcessDocument(context.Background(), doc.ID, "")
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if out.Step != workflow.StepTitle {
		t.Errorf("Step = %s, want title (ocr_done outranks pending)", out.Step)
	}
	if f.dms.hasTag(doc.ID, "ai:pending") {
		t.Error("stale pending tag should have been removed")
	}
	if !f.dms.hasTag(doc.ID, "ai:ocr-done") {
		t.Error("current state tag must survive cleanup")
	}
}

func TestProcessDocumentStream_EventSequence(t *testing.T) {
	f := newFixture(t)
	f.set[workflow.StepOCR] = &loopingAgent{stubAgent{step: workflow.StepOCR}}
	doc := f.dms.addDocument("scan.pdf", "ai:pending")

	ch, err := f.pipeline().ProcessDocumentStream(context.Background(), doc.ID, "")
	if err != nil {
		t.Fatalf("ProcessDocumentStream failed: %v", err)
	}

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []EventType{
		EventPipelineStart, EventStepStart, EventAnalyzing,
		EventThinking, EventConfirming, EventStepComplete, EventPipelineComplete,
	}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}

	if events[0].Step != "" {
		t.Errorf("pipeline_start step = %q, want empty", events[0].Step)
	}
	for _, ev := range events[1 : len(events)-1] {
		if ev.Step != workflow.StepOCR {
			t.Errorf("%s step = %s, want ocr", ev.Type, ev.Step)
		}
	}
	if data, ok := events[1].Data.(StepData); !ok || data.InputTag != "ai:pending" || data.OutputTag != "ai:ocr-done" {
		t.Errorf("step_start data = %#v", events[1].Data)
	}
	if got, ok := events[3].Data.(string); !ok || got != "weighing the evidence" {
		t.Errorf("thinking data = %#v", events[3].Data)
	}
	out, ok := events[len(events)-1].Data.(*Outcome)
	if !ok || out.Step != workflow.StepOCR || out.Result == nil {
		t.Errorf("pipeline_complete data = %#v", events[len(events)-1].Data)
	}
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			t.Errorf("%s event missing timestamp", ev.Type)
		}
	}
}

func TestProcessDocumentStream_NeedsReview(t *testing.T) {
	f := newFixture(t)
	f.stub(workflow.StepTitle).res = &agents.Result{
		Step: workflow.StepTitle, Success: false, NeedsReview: true, Attempts: 3,
	}
	doc := f.dms.addDocument("scan.pdf", "ai:ocr-done")

	ch, err := f.pipeline().ProcessDocumentStream(context.Background(), doc.ID, "")
	if err != nil {
		t.Fatalf("ProcessDocumentStream failed: %v", err)
	}

	var types []EventType
	for ev := range ch {
		types = append(types, ev.Type)
	}
	want := []EventType{EventPipelineStart, EventStepStart, EventNeedsReview, EventPipelineComplete}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
}

func TestProcessDocumentStream_ErrorRun(t *testing.T) {
	f := newFixture(t)
	f.stub(workflow.StepOCR).err = errors.New("boom")
	doc := f.dms.addDocument("scan.pdf", "ai:pending")

	ch, err := f.pipeline().ProcessDocumentStream(context.Background(), doc.ID, "")
	if err != nil {
		t.Fatalf("ProcessDocumentStream failed: %v", err)
	}

	var types []EventType
	var errData any
	for ev := range ch {
		types = append(types, ev.Type)
		if ev.Type == EventStepError {
			errData = ev.Data
		}
	}
	want := []EventType{EventPipelineStart, EventStepStart, EventStepError, EventPipelineComplete}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	if msg, ok := errData.(string); !ok || !strings.Contains(msg, "boom") {
		t.Errorf("step_error data = %#v, want the error text", errData)
	}
}

func TestProcessDocumentStream_UnknownStep(t *testing.T) {
	f := newFixture(t)

	if _, err := f.pipeline().ProcessDocumentStream(context.Background(), 1, workflow.Step("polish")); err == nil {
		t.Fatal("ProcessDocumentStream with an unknown step should fail")
	}
}
