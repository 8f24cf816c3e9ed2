package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scribadev/scriba/pkg/bootstrap"
	"github.com/scribadev/scriba/pkg/review"
	"github.com/scribadev/scriba/pkg/store"
)

// --- scheduler ---

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Scheduler.Start(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, _ *http.Request) {
	s.deps.Scheduler.Stop()
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, _ *http.Request) {
	delivered := s.deps.Scheduler.Trigger()
	writeJSON(w, http.StatusOK, map[string]bool{"triggered": delivered})
}

// --- review queue ---

func (s *Server) handleReviewList(w http.ResponseWriter, r *http.Request) {
	kind := store.ReviewKind(r.URL.Query().Get("kind"))
	if kind != "" && !store.ValidReviewKind(kind) {
		writeError(w, http.StatusBadRequest, errors.New("unknown review kind"))
		return
	}
	reviews, err := s.deps.Reviews.List(r.Context(), kind)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if reviews == nil {
		reviews = []*store.PendingReview{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleReviewCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Reviews.Counts(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type approveRequest struct {
	Value string `json:"value,omitempty"`
}

func (s *Server) handleReviewApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	rev, err := s.deps.Reviews.Approve(r.Context(), chi.URLParam(r, "id"), req.Value)
	if err != nil {
		if errors.Is(err, review.ErrEntityInUse) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

type rejectRequest struct {
	Block    bool             `json:"block,omitempty"`
	Scope    store.BlockScope `json:"scope,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Category string           `json:"category,omitempty"`
}

func (s *Server) handleReviewReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	id := chi.URLParam(r, "id")

	var err error
	if req.Block {
		err = s.deps.Reviews.RejectWithFeedback(r.Context(), id, review.Feedback{
			Scope:    req.Scope,
			Reason:   req.Reason,
			Category: req.Category,
		})
	} else {
		err = s.deps.Reviews.Reject(r.Context(), id)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mergeRequest struct {
	IDs       []string `json:"ids"`
	FinalName string   `json:"final_name"`
}

func (s *Server) handleReviewMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.IDs) == 0 || strings.TrimSpace(req.FinalName) == "" {
		writeError(w, http.StatusBadRequest, errors.New("ids and final_name are required"))
		return
	}
	merged, err := s.deps.Reviews.MergePending(r.Context(), req.IDs, req.FinalName)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// --- bootstrap analyzer ---

type bootstrapRequest struct {
	Scope bootstrap.Scope `json:"scope,omitempty"`
}

func (s *Server) handleBootstrapStart(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.deps.Bootstrap.Start(req.Scope); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	progress, err := s.deps.Bootstrap.Status(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, progress)
}

func (s *Server) handleBootstrapStatus(w http.ResponseWriter, r *http.Request) {
	progress, err := s.deps.Bootstrap.Status(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleBootstrapCancel(w http.ResponseWriter, _ *http.Request) {
	cancelled := s.deps.Bootstrap.Cancel()
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleBootstrapSkip(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Bootstrap.Skip(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
