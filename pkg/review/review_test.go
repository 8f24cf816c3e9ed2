package review

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
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/store"
)

// fakeDMS serves the slices of the REST surface approvals touch:
// document get/patch, filtered document listing, entity lookup,
// creation and deletion.
type fakeDMS struct {
	mu       sync.Mutex
	docs     map[int]*dms.Document
	entities map[string]map[int]*dms.Entity
	nextID   int

	srv *httptest.Server
}

func newFakeDMS(t *testing.T) *fakeDMS {
	t.Helper()
	f := &fakeDMS{
		docs: make(map[int]*dms.Document),
		entities: map[string]map[int]*dms.Entity{
			"tags":           {},
			"correspondents": {},
			"document_types": {},
		},
		nextID: 1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	mux.HandleFunc("/api/tags/", f.handleEntities("tags"))
	mux.HandleFunc("/api/correspondents/", f.handleEntities("correspondents"))
	mux.HandleFunc("/api/document_types/", f.handleEntities("document_types"))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDMS) client() *dms.Client {
	return dms.NewClient(dms.StaticConfig(dms.Config{BaseURL: f.srv.URL, Token: "secret"}))
}

func (f *fakeDMS) addEntity(path, name string) *dms.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &dms.Entity{ID: f.nextID, Name: name}
	f.nextID++
	f.entities[path][e.ID] = e
	return e
}

func (f *fakeDMS) entityByName(path, name string) *dms.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entities[path] {
		if strings.EqualFold(e.Name, name) {
			return e
		}
	}
	return nil
}

func (f *fakeDMS) entityCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entities[path])
}

func (f *fakeDMS) ensureTag(name string) *dms.Entity {
	if e := f.entityByName("tags", name); e != nil {
		return e
	}
	return f.addEntity("tags", name)
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

func (f *fakeDMS) document(docID int) dms.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.docs[docID]
}

func (f *fakeDMS) hasTag(docID int, name string) bool {
	e := f.entityByName("tags", name)
	if e == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return false
	}
	for _, id := range doc.Tags {
		if id == e.ID {
			return true
		}
	}
	return false
}

func (f *fakeDMS) handleDocuments(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
	if rest == "" {
		f.listDocuments(w, r)
		return
	}

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
		if patch.Title != nil {
			doc.Title = *patch.Title
		}
		if patch.Correspondent != nil {
			doc.Correspondent = patch.Correspondent
		}
		if patch.DocumentType != nil {
			doc.DocumentType = patch.DocumentType
		}
		if patch.Tags != nil {
			doc.Tags = *patch.Tags
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(doc)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *fakeDMS) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	intFilter := func(key string) (int, bool) {
		v := q.Get(key)
		if v == "" {
			return 0, false
		}
		id, _ := strconv.Atoi(v)
		return id, true
	}

	f.mu.Lock()
	var results []*dms.Document
	for _, doc := range f.docs {
		if id, ok := intFilter("tags__id"); ok && !containsInt(doc.Tags, id) {
			continue
		}
		if id, ok := intFilter("correspondent"); ok &&
			(doc.Correspondent == nil || *doc.Correspondent != id) {
			continue
		}
		if id, ok := intFilter("document_type"); ok &&
			(doc.DocumentType == nil || *doc.DocumentType != id) {
			continue
		}
		results = append(results, doc)
	}
	f.mu.Unlock()
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	json.NewEncoder(w).Encode(map[string]any{
		"count": len(results), "next": nil, "results": results,
	})
}

func (f *fakeDMS) handleEntities(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/"+path+"/"), "/")

		if rest != "" {
			id, err := strconv.Atoi(rest)
			if err != nil {
				http.Error(w, "bad id", http.StatusBadRequest)
				return
			}
			if r.Method != http.MethodDelete {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			f.mu.Lock()
			_, ok := f.entities[path][id]
			delete(f.entities[path], id)
			f.mu.Unlock()
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			var results []*dms.Entity
			for _, e := range f.entities[path] {
				if name := r.URL.Query().Get("name__iexact"); name != "" &&
					!strings.EqualFold(e.Name, name) {
					continue
				}
				results = append(results, e)
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
			f.mu.Lock()
			e := &dms.Entity{ID: f.nextID, Name: body.Name}
			f.nextID++
			f.entities[path][e.ID] = e
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(e)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func containsInt(list []int, id int) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "review.db"))
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

type fixture struct {
	t   *testing.T
	dms *fakeDMS
	st  *store.Store
	svc *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, dms: newFakeDMS(t), st: newTestStore(t)}
	f.svc = New(Deps{DMS: f.dms.client(), Store: f.st, Settings: settings.NewService(f.st)})
	return f
}

func (f *fixture) queue(rev *store.PendingReview) *store.PendingReview {
	f.t.Helper()
	if err := f.st.InsertReview(context.Background(), rev); err != nil {
		f.t.Fatalf("insert review: %v", err)
	}
	return rev
}

func (f *fixture) reviewGone(id string) bool {
	f.t.Helper()
	_, err := f.st.GetReview(context.Background(), id)
	return errors.Is(err, store.ErrReviewNotFound)
}

func TestApprove_TitleTransitionsAndClearsFlag(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan_001.pdf", "ai:ocr-done", "ai:manual-review")
	rev := f.queue(&store.PendingReview{
		DocID:      doc.ID,
		DocTitle:   doc.Title,
		Kind:       store.ReviewKindTitle,
		Suggestion: "PayPal payment to Example Shop",
		NextTag:    "ai:title-done",
	})

	resolved, err := f.svc.Approve(context.Background(), rev.ID, "")
	if err != nil {
		t.Fatalf("Approve() = %v", err)
	}
	if resolved.ID != rev.ID {
		t.Errorf("resolved review %s, want %s", resolved.ID, rev.ID)
	}

	if got := f.dms.document(doc.ID).Title; got != "PayPal payment to Example Shop" {
		t.Errorf("title = %q, want the approved suggestion", got)
	}
	if !f.dms.hasTag(doc.ID, "ai:title-done") || f.dms.hasTag(doc.ID, "ai:ocr-done") {
		t.Error("workflow tag did not transition ocr-done to title-done")
	}
	if f.dms.hasTag(doc.ID, "ai:manual-review") {
		t.Error("manual-review flag survived approval of the only review")
	}
	if !f.reviewGone(rev.ID) {
		t.Error("approved review still in the store")
	}
}

func TestApprove_SelectedValueOverridesSuggestion(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan_002.pdf", "ai:title-done")
	rev := f.queue(&store.PendingReview{
		DocID:      doc.ID,
		Kind:       store.ReviewKindCorrespondent,
		Suggestion: "Acme",
		NextTag:    "ai:correspondent-done",
	})

	if _, err := f.svc.Approve(context.Background(), rev.ID, "ACME Corporation"); err != nil {
		t.Fatalf("Approve() = %v", err)
	}

	ent := f.dms.entityByName("correspondents", "ACME Corporation")
	if ent == nil {
		t.Fatal("selected correspondent was not created")
	}
	if got := f.dms.document(doc.ID).Correspondent; got == nil || *got != ent.ID {
		t.Errorf("correspondent = %v, want %d", got, ent.ID)
	}
	if f.dms.entityByName("correspondents", "Acme") != nil {
		t.Error("stored suggestion was created despite the override")
	}
	if !f.dms.hasTag(doc.ID, "ai:correspondent-done") {
		t.Error("approval did not advance the workflow tag")
	}
}

func TestApprove_ReusesExistingEntity(t *testing.T) {
	f := newFixture(t)
	existing := f.dms.addEntity("correspondents", "Acme Inc")
	doc := f.dms.addDocument("scan_003.pdf", "ai:title-done")
	rev := f.queue(&store.PendingReview{
		DocID:      doc.ID,
		Kind:       store.ReviewKindCorrespondent,
		Suggestion: "acme inc",
		NextTag:    "ai:correspondent-done",
	})

	if _, err := f.svc.Approve(context.Background(), rev.ID, ""); err != nil {
		t.Fatalf("Approve() = %v", err)
	}

	if got := f.dms.document(doc.ID).Correspondent; got == nil || *got != existing.ID {
		t.Errorf("correspondent = %v, want existing entity %d", got, existing.ID)
	}
	if n := f.dms.entityCount("correspondents"); n != 1 {
		t.Errorf("correspondent count = %d, want 1 (case-insensitive reuse)", n)
	}
}

func TestApprove_TagReviewAppliesQueuedNames(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan_004.pdf", "ai:tags-done", "ai:manual-review")
	names, _ := json.Marshal([]string{"Warranty", "Electronics"})
	rev := f.queue(&store.PendingReview{
		DocID:      doc.ID,
		Kind:       store.ReviewKindTag,
		Suggestion: "Warranty, Electronics",
		Metadata:   map[string]string{"names": string(names)},
	})

	if _, err := f.svc.Approve(context.Background(), rev.ID, ""); err != nil {
		t.Fatalf("Approve() = %v", err)
	}

	for _, name := range []string{"Warranty", "Electronics"} {
		if !f.dms.hasTag(doc.ID, name) {
			t.Errorf("tag %q missing after approval", name)
		}
	}
	if !f.dms.hasTag(doc.ID, "ai:tags-done") {
		t.Error("steady workflow tag was disturbed by a no-next-tag approval")
	}
	if f.dms.hasTag(doc.ID, "ai:manual-review") {
		t.Error("manual-review flag survived approval")
	}
}

func TestApprove_DocumentAlreadyAdvancedSkipsTransition(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan_005.pdf", "ai:correspondent-done")
	rev := f.queue(&store.PendingReview{
		DocID:      doc.ID,
		Kind:       store.ReviewKindTitle,
		Suggestion: "Late approval",
		NextTag:    "ai:title-done",
	})

	if _, err := f.svc.Approve(context.Background(), rev.ID, ""); err != nil {
		t.Fatalf("Approve() = %v", err)
	}

	if got := f.dms.document(doc.ID).Title; got != "Late approval" {
		t.Errorf("title = %q, want the approved value even on a stale review", got)
	}
	if f.dms.hasTag(doc.ID, "ai:title-done") {
		t.Error("approval moved the document backwards to title-done")
	}
	if !f.dms.hasTag(doc.ID, "ai:correspondent-done") {
		t.Error("current workflow tag was removed")
	}
}

func TestApprove_SchemaMergeReassignsAndDeletes(t *testing.T) {
	f := newFixture(t)
	target := f.dms.addEntity("correspondents", "Acme Inc")
	source := f.dms.addEntity("correspondents", "acme inc")
	docA := f.dms.addDocument("a.pdf")
	docB := f.dms.addDocument("b.pdf")
	f.dms.mu.Lock()
	f.dms.docs[docA.ID].Correspondent = &source.ID
	f.dms.docs[docB.ID].Correspondent = &target.ID
	f.dms.mu.Unlock()

	rev := f.queue(MergeCandidate(dms.EntityCorrespondent, source, target, 1.0))

	if _, err := f.svc.Approve(context.Background(), rev.ID, ""); err != nil {
		t.Fatalf("Approve() = %v", err)
	}

	if got := f.dms.document(docA.ID).Correspondent; got == nil || *got != target.ID {
		t.Errorf("document correspondent = %v, want merged target %d", got, target.ID)
	}
	if f.dms.entityByName("correspondents", "acme inc") != nil {
		t.Error("merge source entity still exists")
	}
	if !f.reviewGone(rev.ID) {
		t.Error("approved merge review still in the store")
	}
}

func TestApprove_SchemaDeleteRemovesUnusedEntity(t *testing.T) {
	f := newFixture(t)
	unused := f.dms.addEntity("document_types", "Misc")
	rev := f.queue(DeleteCandidate(dms.EntityDocumentType, unused))

	if _, err := f.svc.Approve(context.Background(), rev.ID, ""); err != nil {
		t.Fatalf("Approve() = %v", err)
	}
	if f.dms.entityByName("document_types", "Misc") != nil {
		t.Error("unused entity still exists after approval")
	}
	if !f.reviewGone(rev.ID) {
		t.Error("approved delete review still in the store")
	}
}

func TestApprove_SchemaDeleteInUseFailsSoft(t *testing.T) {
	f := newFixture(t)
	dt := f.dms.addEntity("document_types", "Invoice")
	doc := f.dms.addDocument("in_use.pdf")
	f.dms.mu.Lock()
	f.dms.docs[doc.ID].DocumentType = &dt.ID
	f.dms.mu.Unlock()

	rev := f.queue(DeleteCandidate(dms.EntityDocumentType, dt))

	_, err := f.svc.Approve(context.Background(), rev.ID, "")
	if !errors.Is(err, ErrEntityInUse) {
		t.Fatalf("Approve() = %v, want ErrEntityInUse", err)
	}
	if f.dms.entityByName("document_types", "Invoice") == nil {
		t.Error("in-use entity was deleted")
	}
	if f.reviewGone(rev.ID) {
		t.Error("soft failure removed the review row")
	}
}

func TestApprove_UnknownID(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Approve(context.Background(), "no-such-id", ""); !errors.Is(err, store.ErrReviewNotFound) {
		t.Errorf("Approve() = %v, want ErrReviewNotFound", err)
	}
}

func TestReject_KeepsFlagWhileOtherReviewsRemain(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan_006.pdf", "ai:ocr-done", "ai:manual-review")
	title := f.queue(&store.PendingReview{
		DocID: doc.ID, Kind: store.ReviewKindTitle, Suggestion: "A",
	})
	corr := f.queue(&store.PendingReview{
		DocID: doc.ID, Kind: store.ReviewKindCorrespondent, Suggestion: "B",
	})

	if err := f.svc.Reject(context.Background(), title.ID); err != nil {
		t.Fatalf("Reject() = %v", err)
	}
	if !f.dms.hasTag(doc.ID, "ai:manual-review") {
		t.Fatal("flag cleared while another review is still active")
	}

	if err := f.svc.Reject(context.Background(), corr.ID); err != nil {
		t.Fatalf("Reject() = %v", err)
	}
	if f.dms.hasTag(doc.ID, "ai:manual-review") {
		t.Error("flag survived rejection of the last review")
	}
	if !f.reviewGone(title.ID) || !f.reviewGone(corr.ID) {
		t.Error("rejected reviews still in the store")
	}
}

func TestRejectWithFeedback_BlocksGlobally(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan_007.pdf", "ai:title-done", "ai:manual-review")
	rev := f.queue(&store.PendingReview{
		DocID: doc.ID, Kind: store.ReviewKindCorrespondent, Suggestion: "Shady Vendor",
	})

	err := f.svc.RejectWithFeedback(context.Background(), rev.ID, Feedback{
		Scope: store.BlockScopeGlobal, Reason: "not a real company",
	})
	if err != nil {
		t.Fatalf("RejectWithFeedback() = %v", err)
	}

	for _, kind := range []store.ReviewKind{store.ReviewKindCorrespondent, store.ReviewKindTag} {
		blocked, err := f.st.IsBlocked(context.Background(), "shady vendor", kind)
		if err != nil || !blocked {
			t.Errorf("IsBlocked(%s) = (%v, %v), want globally blocked", kind, blocked, err)
		}
	}
	if !f.reviewGone(rev.ID) {
		t.Error("rejected review still in the store")
	}
}

func TestRejectWithFeedback_TagKindBlocksQueuedNamesOnly(t *testing.T) {
	f := newFixture(t)
	doc := f.dms.addDocument("scan_008.pdf", "ai:tags-done")
	names, _ := json.Marshal([]string{"Foo", "Bar"})
	rev := f.queue(&store.PendingReview{
		DocID: doc.ID, Kind: store.ReviewKindTag,
		Suggestion: "Foo, Bar",
		Metadata:   map[string]string{"names": string(names)},
	})

	err := f.svc.RejectWithFeedback(context.Background(), rev.ID, Feedback{Scope: store.BlockScopeKind})
	if err != nil {
		t.Fatalf("RejectWithFeedback() = %v", err)
	}

	for _, name := range []string{"Foo", "Bar"} {
		if blocked, _ := f.st.IsBlocked(context.Background(), name, store.ReviewKindTag); !blocked {
			t.Errorf("%q not blocked for tag kind", name)
		}
		if blocked, _ := f.st.IsBlocked(context.Background(), name, store.ReviewKindCorrespondent); blocked {
			t.Errorf("%q leaked outside its kind scope", name)
		}
	}
}

func TestRejectWithFeedback_UnknownScope(t *testing.T) {
	f := newFixture(t)
	rev := f.queue(&store.PendingReview{
		DocID: f.dms.addDocument("scan_009.pdf").ID,
		Kind:  store.ReviewKindTitle, Suggestion: "X",
	})

	err := f.svc.RejectWithFeedback(context.Background(), rev.ID, Feedback{Scope: "everywhere"})
	if err == nil || !strings.Contains(err.Error(), "unknown block scope") {
		t.Fatalf("RejectWithFeedback() = %v, want scope error", err)
	}
	if f.reviewGone(rev.ID) {
		t.Error("review removed despite the invalid request")
	}
}

func TestMergePending_CollapsesAndAppliesToAllDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docA := f.dms.addDocument("a.pdf", "ai:title-done", "ai:manual-review")
	docB := f.dms.addDocument("b.pdf", "ai:title-done", "ai:manual-review")
	revA := f.queue(&store.PendingReview{
		DocID: docA.ID, Kind: store.ReviewKindCorrespondent,
		Suggestion: "ACME", NextTag: "ai:correspondent-done", Attempts: 2,
	})
	revB := f.queue(&store.PendingReview{
		DocID: docB.ID, Kind: store.ReviewKindCorrespondent,
		Suggestion: "Acme Incorporated", NextTag: "ai:correspondent-done", Attempts: 3,
	})

	merged, err := f.svc.MergePending(ctx, []string{revA.ID, revB.ID}, "Acme Inc")
	if err != nil {
		t.Fatalf("MergePending() = %v", err)
	}

	all, err := f.svc.List(ctx, store.ReviewKindCorrespondent)
	if err != nil || len(all) != 1 {
		t.Fatalf("List() = (%d, %v), want the single merged record", len(all), err)
	}
	if all[0].Suggestion != "Acme Inc" || all[0].Attempts != 3 {
		t.Errorf("merged record = %q attempts %d, want Acme Inc with max attempts 3",
			all[0].Suggestion, all[0].Attempts)
	}
	if len(all[0].Alternatives) != 2 {
		t.Errorf("alternatives = %v, want the two collapsed variants", all[0].Alternatives)
	}

	if _, err := f.svc.Approve(ctx, merged.ID, ""); err != nil {
		t.Fatalf("Approve(merged) = %v", err)
	}
	ent := f.dms.entityByName("correspondents", "Acme Inc")
	if ent == nil {
		t.Fatal("canonical correspondent was not created")
	}
	for _, docID := range []int{docA.ID, docB.ID} {
		if got := f.dms.document(docID).Correspondent; got == nil || *got != ent.ID {
			t.Errorf("document %d correspondent = %v, want %d", docID, got, ent.ID)
		}
		if !f.dms.hasTag(docID, "ai:correspondent-done") {
			t.Errorf("document %d did not advance", docID)
		}
		if f.dms.hasTag(docID, "ai:manual-review") {
			t.Errorf("document %d still flagged for review", docID)
		}
	}
}

func TestMergePending_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.dms.addDocument("scan_010.pdf")
	title := f.queue(&store.PendingReview{DocID: doc.ID, Kind: store.ReviewKindTitle, Suggestion: "T"})
	corr := f.queue(&store.PendingReview{DocID: doc.ID, Kind: store.ReviewKindCorrespondent, Suggestion: "C"})

	if _, err := f.svc.MergePending(ctx, []string{title.ID, corr.ID}, "X"); err == nil {
		t.Error("merging mixed kinds should fail")
	}
	if _, err := f.svc.MergePending(ctx, []string{corr.ID}, "X"); err == nil {
		t.Error("merging a single review should fail")
	}
	if _, err := f.svc.MergePending(ctx, []string{title.ID, corr.ID}, "  "); err == nil {
		t.Error("merging without a final name should fail")
	}
}

func TestList_FiltersAndValidatesKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.dms.addDocument("scan_011.pdf")
	f.queue(&store.PendingReview{DocID: doc.ID, Kind: store.ReviewKindTitle, Suggestion: "T"})
	f.queue(&store.PendingReview{DocID: doc.ID, Kind: store.ReviewKindTag, Suggestion: "X"})

	all, err := f.svc.List(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("List(all) = (%d, %v), want 2", len(all), err)
	}
	tags, err := f.svc.List(ctx, store.ReviewKindTag)
	if err != nil || len(tags) != 1 {
		t.Fatalf("List(tag) = (%d, %v), want 1", len(tags), err)
	}
	if _, err := f.svc.List(ctx, "bogus"); err == nil {
		t.Error("List should reject unknown kinds")
	}

	counts, err := f.svc.Counts(ctx)
	if err != nil || counts[store.ReviewKindTitle] != 1 || counts[store.ReviewKindTag] != 1 {
		t.Errorf("Counts() = (%v, %v), want one of each kind", counts, err)
	}
}
