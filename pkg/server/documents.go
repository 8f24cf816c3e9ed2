package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/scribadev/scriba/pkg/proclog"
	"github.com/scribadev/scriba/pkg/workflow"
)

type processRequest struct {
	Step workflow.Step `json:"step,omitempty"`
}

// handleProcess runs exactly one pipeline step and returns the
// outcome. An empty step lets the pipeline derive the next one from
// the document's workflow tag.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	docID, err := intParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req processRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Step != "" && !workflow.ValidStep(req.Step) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown step: %s", req.Step))
		return
	}

	out, err := s.deps.Pipeline.ProcessDocument(r.Context(), docID, req.Step)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleProcessStream runs one step and mirrors the run as
// server-sent events, one event per pipeline event, closing with
// "done". The step comes from the query string so plain EventSource
// clients can connect.
func (s *Server) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	docID, err := intParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	step := workflow.Step(r.URL.Query().Get("step"))

	events, err := s.deps.Pipeline.ProcessDocumentStream(r.Context(), docID, step)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
	fmt.Fprintf(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

// handleLogTree returns the document's processing log as a forest for
// expandable rendering.
func (s *Server) handleLogTree(w http.ResponseWriter, r *http.Request) {
	if s.deps.Log == nil {
		writeError(w, http.StatusNotFound, errors.New("processing log is disabled"))
		return
	}
	docID, err := intParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tree, err := s.deps.Log.Tree(r.Context(), docID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if tree == nil {
		tree = []*proclog.Node{}
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleLogClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Log == nil {
		writeError(w, http.StatusNotFound, errors.New("processing log is disabled"))
		return
	}
	docID, err := intParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Log.Clear(r.Context(), docID); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
