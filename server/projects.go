package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/store"
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name           string   `json:"name"`
		Classification string   `json:"classification"`
		Tags           []string `json:"tags"`
		DueDate        string   `json:"due_date"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	if in.Name == "" {
		fail(w, core.NewError(core.CodeValidationError, "project name is required"))
		return
	}
	class := store.Classification(in.Classification)
	if in.Classification == "" {
		class = store.ClassSensitive
	}
	if !class.Valid() {
		fail(w, core.NewError(core.CodeValidationError, "unknown classification"))
		return
	}
	if len(in.Tags) > store.MaxProjectTags {
		fail(w, core.NewError(core.CodeValidationError, "too many tags"))
		return
	}
	p, err := s.deps.Store.CreateProject(r.Context(), in.Name, class, in.Tags, in.DueDate)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Store.ListProjects(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	if projects == nil {
		projects = []*store.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status string `json:"status"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.UpdateProjectStatus(r.Context(), id, store.ProjectStatus(in.Status)); err != nil {
		fail(w, err)
		return
	}
	p, err := s.deps.Store.GetProject(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProjectClassification(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Classification string `json:"classification"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	err := s.deps.Store.UpdateProjectClassification(r.Context(), id, store.Classification(in.Classification))
	if err != nil {
		fail(w, err)
		return
	}
	p, err := s.deps.Store.GetProject(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeleteProject runs the secure delete. 204 on success, including the
// idempotent already-deleted case.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	_, err := s.deps.Shredder.DeleteProject(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.ListEventsByProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Knox.ExportSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
