// Package server is the HTTP control surface: pipeline runs and live
// streams per document, scheduler control, the review queue, the
// bootstrap analyzer, runtime settings, metadata annotations, prompt
// templates and operational odds and ends. It holds no domain logic;
// every handler validates input, calls one collaborator and renders
// the result.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scribadev/scriba/pkg/auth"
	"github.com/scribadev/scriba/pkg/bootstrap"
	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/observability"
	"github.com/scribadev/scriba/pkg/pipeline"
	"github.com/scribadev/scriba/pkg/proclog"
	"github.com/scribadev/scriba/pkg/prompts"
	"github.com/scribadev/scriba/pkg/review"
	"github.com/scribadev/scriba/pkg/scheduler"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/workflow"
)

const shutdownGrace = 10 * time.Second

// Processor runs one pipeline step per call.
type Processor interface {
	ProcessDocument(ctx context.Context, docID int, step workflow.Step) (*pipeline.Outcome, error)
	ProcessDocumentStream(ctx context.Context, docID int, step workflow.Step) (<-chan pipeline.Event, error)
}

// Loop is the auto-processing scheduler's control set.
type Loop interface {
	Start() error
	Stop()
	Trigger() bool
	Status() scheduler.Status
}

// Reviews is the review-queue service surface.
type Reviews interface {
	List(ctx context.Context, kind store.ReviewKind) ([]*store.PendingReview, error)
	Counts(ctx context.Context) (map[store.ReviewKind]int, error)
	Approve(ctx context.Context, id, selectedValue string) (*store.PendingReview, error)
	Reject(ctx context.Context, id string) error
	RejectWithFeedback(ctx context.Context, id string, fb review.Feedback) error
	MergePending(ctx context.Context, ids []string, finalName string) (*store.PendingReview, error)
}

// Analyzer is the schema-cleanup bootstrap job surface.
type Analyzer interface {
	Start(scope bootstrap.Scope) error
	Cancel() bool
	Skip(ctx context.Context) error
	Status(ctx context.Context) (bootstrap.Progress, error)
}

// Deps are the collaborators the handlers dispatch to. Auth may be nil
// (no authentication); Prompts and Log may be nil on installs that
// disable those surfaces, their routes then answer 404.
type Deps struct {
	Pipeline  Processor
	Scheduler Loop
	Reviews   Reviews
	Bootstrap Analyzer
	Settings  *settings.Service
	Store     *store.Store
	DMS       *dms.Client
	Log       *proclog.Logger
	Prompts   *prompts.Loader
	Auth      auth.Validator
}

// Server serves the control surface over chi.
type Server struct {
	deps Deps
	addr string
	http *http.Server
}

// New builds the server for the given listen address.
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps, addr: addr}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", observability.MetricsHandler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(s.deps.Auth))

		r.Route("/documents/{id}", func(r chi.Router) {
			r.Post("/process", s.handleProcess)
			r.Get("/stream", s.handleProcessStream)
			r.Get("/log", s.handleLogTree)
			r.Delete("/log", s.handleLogClear)
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/", s.handleSchedulerStatus)
			r.Post("/start", s.handleSchedulerStart)
			r.Post("/stop", s.handleSchedulerStop)
			r.Post("/trigger", s.handleSchedulerTrigger)
		})

		r.Route("/reviews", func(r chi.Router) {
			r.Get("/", s.handleReviewList)
			r.Get("/counts", s.handleReviewCounts)
			r.Post("/merge", s.handleReviewMerge)
			r.Post("/{id}/approve", s.handleReviewApprove)
			r.Post("/{id}/reject", s.handleReviewReject)
		})

		r.Route("/bootstrap", func(r chi.Router) {
			r.Get("/", s.handleBootstrapStatus)
			r.Post("/start", s.handleBootstrapStart)
			r.Post("/cancel", s.handleBootstrapCancel)
			r.Post("/skip", s.handleBootstrapSkip)
		})

		r.Get("/settings", s.handleSettingsGet)
		r.Put("/settings", s.handleSettingsUpdate)

		r.Route("/metadata/{target}", func(r chi.Router) {
			r.Get("/", s.handleMetadataList)
			r.Put("/{id}", s.handleMetadataUpsert)
			r.Delete("/{id}", s.handleMetadataDelete)
		})

		r.Route("/prompts/{lang}", func(r chi.Router) {
			r.Get("/", s.handlePromptNames)
			r.Get("/{name}", s.handlePromptGet)
			r.Put("/{name}", s.handlePromptSave)
		})

		r.Post("/tags/repair-colors", s.handleTagColorRepair)
		r.Get("/stats/queues", s.handleQueueStats)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Control surface listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// statusWriter captures the response code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
