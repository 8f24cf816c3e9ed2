package server

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/scribadev/scriba/pkg/store"
)

// --- runtime settings ---

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Settings.Get(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSettingsUpdate takes a flat key/value patch (dotted keys, the
// store's native shape) and returns the settings now in effect.
func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var patch map[string]string
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(patch) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty settings patch"))
		return
	}
	st, err := s.deps.Settings.Update(r.Context(), patch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- metadata annotations ---

func metadataTarget(r *http.Request) (store.MetadataTarget, error) {
	switch chi.URLParam(r, "target") {
	case "tags", "tag":
		return store.MetadataTargetTag, nil
	case "custom_fields", "custom_field":
		return store.MetadataTargetCustomField, nil
	}
	return "", fmt.Errorf("unknown metadata target %q", chi.URLParam(r, "target"))
}

func (s *Server) handleMetadataList(w http.ResponseWriter, r *http.Request) {
	target, err := metadataTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	annotations, err := s.deps.Store.ListAnnotations(r.Context(), target)
	if err != nil {
		writeFailure(w, err)
		return
	}
	list := make([]*store.MetadataAnnotation, 0, len(annotations))
	for _, ann := range annotations {
		list = append(list, ann)
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleMetadataUpsert(w http.ResponseWriter, r *http.Request) {
	target, err := metadataTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := intParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var ann store.MetadataAnnotation
	if err := decodeBody(r, &ann); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ann.TargetID = id
	if ann.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("annotation name is required"))
		return
	}
	if err := s.deps.Store.UpsertAnnotation(r.Context(), target, &ann); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &ann)
}

func (s *Server) handleMetadataDelete(w http.ResponseWriter, r *http.Request) {
	target, err := metadataTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := intParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Store.DeleteAnnotation(r.Context(), target, id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- prompt templates ---

func (s *Server) handlePromptNames(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prompts == nil {
		writeError(w, http.StatusNotFound, errors.New("prompt templates are disabled"))
		return
	}
	names, err := s.deps.Prompts.Names(chi.URLParam(r, "lang"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handlePromptGet(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prompts == nil {
		writeError(w, http.StatusNotFound, errors.New("prompt templates are disabled"))
		return
	}
	text, err := s.deps.Prompts.Get(chi.URLParam(r, "lang"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(text))
}

func (s *Server) handlePromptSave(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prompts == nil {
		writeError(w, http.StatusNotFound, errors.New("prompt templates are disabled"))
		return
	}
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Prompts.Save(chi.URLParam(r, "lang"), chi.URLParam(r, "name"), string(body)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- operational odds and ends ---

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// tagPalette provides stable replacement colors for tags whose color
// the DMS lost or never set. Workflow tags share a muted gray so they
// read as machinery, not content.
var tagPalette = []string{
	"#a6cee3", "#1f78b4", "#b2df8a", "#33a02c", "#fb9a99", "#e31a1c",
	"#fdbf6f", "#ff7f00", "#cab2d6", "#6a3d9a", "#ffff99", "#b15928",
}

const workflowTagColor = "#9e9e9e"

type colorRepairResult struct {
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
}

// handleTagColorRepair walks every DMS tag and rewrites missing or
// malformed colors: workflow tags get the shared gray, content tags a
// palette color keyed by a stable hash of the name.
func (s *Server) handleTagColorRepair(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Settings.Get(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	tags, err := s.deps.DMS.ListTags(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	result := colorRepairResult{Checked: len(tags)}
	for _, tag := range tags {
		if hexColor.MatchString(tag.Color) {
			continue
		}
		color := workflowTagColor
		if !st.Tags.IsWorkflowTag(tag.Name) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tag.Name))
			color = tagPalette[int(h.Sum32())%len(tagPalette)]
		}
		if err := s.deps.DMS.UpdateTagColor(r.Context(), tag.ID, color); err != nil {
			writeFailure(w, err)
			return
		}
		result.Repaired++
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueueStats reports how many documents sit at each workflow
// stage, the numbers behind the dashboard's queue view.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Settings.Get(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	counts := make(map[string]int)
	for _, name := range st.Tags.All() {
		n, err := s.deps.DMS.CountByTag(r.Context(), name)
		if err != nil {
			writeFailure(w, err)
			return
		}
		counts[name] = n
	}
	writeJSON(w, http.StatusOK, counts)
}
