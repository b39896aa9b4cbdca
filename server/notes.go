package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/vault"
)

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	note, err := s.deps.Sanitizer.CreateProjectNote(r.Context(), chi.URLParam(r, "id"), actor(r), in.Title, in.Body)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.deps.Store.ListProjectNotesByProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	if notes == nil {
		notes = []*store.ProjectNote{}
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.deps.Store.GetProjectNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleEditNote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		MaskedBody string `json:"masked_body"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	if in.MaskedBody == "" {
		fail(w, core.NewError(core.CodeValidationError, "masked_body is required"))
		return
	}
	note, err := s.deps.Sanitizer.EditNoteMasked(r.Context(), chi.URLParam(r, "id"), actor(r), in.MaskedBody)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleBumpNote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Level string `json:"level"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	note, err := s.deps.Sanitizer.BumpNoteLevel(r.Context(), chi.URLParam(r, "id"), actor(r), mask.Level(in.Level))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// handleCreateJournalistNote stores a private note, optionally with an
// attached image. Multipart when an image rides along, plain JSON otherwise.
// The body is raw by contract and never enters the masker.
func (s *Server) handleCreateJournalistNote(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	note := &store.JournalistNote{ProjectID: projectID}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			fail(w, core.NewError(core.CodeValidationError, "upload too large or malformed"))
			return
		}
		note.Body = r.FormValue("body")
		note.Category = store.NoteCategory(r.FormValue("category"))
		if file, _, err := r.FormFile("image"); err == nil {
			data, readErr := io.ReadAll(file)
			file.Close()
			if readErr != nil {
				fail(w, core.NewError(core.CodeValidationError, "reading image"))
				return
			}
			ref, putErr := s.deps.Vault.Put(projectID, vault.KindImage, data)
			if putErr != nil {
				fail(w, putErr)
				return
			}
			note.ImageRefs = []string{string(ref)}
		}
	} else {
		var in struct {
			Body     string `json:"body"`
			Category string `json:"category"`
		}
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		note.Body = in.Body
		note.Category = store.NoteCategory(in.Category)
	}

	if note.Body == "" {
		fail(w, core.NewError(core.CodeValidationError, "note body is required"))
		return
	}
	if _, err := s.deps.Store.GetProject(r.Context(), projectID); err != nil {
		fail(w, err)
		return
	}
	if err := s.deps.Store.InsertJournalistNote(r.Context(), note); err != nil {
		fail(w, core.NewError(core.CodeValidationError, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleListJournalistNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.deps.Store.ListJournalistNotesByProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	if notes == nil {
		notes = []*store.JournalistNote{}
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title   string `json:"title"`
		Type    string `json:"type"`
		URL     string `json:"url"`
		Comment string `json:"comment"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	if in.Title == "" {
		fail(w, core.NewError(core.CodeValidationError, "source title is required"))
		return
	}
	if _, err := s.deps.Store.GetProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, err)
		return
	}
	src := &store.Source{
		ProjectID: chi.URLParam(r, "id"),
		Title:     in.Title,
		Type:      store.SourceType(in.Type),
		URL:       in.URL,
		Comment:   in.Comment,
	}
	if err := s.deps.Store.InsertSource(r.Context(), src); err != nil {
		fail(w, core.NewError(core.CodeValidationError, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deps.Store.ListSourcesByProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	if sources == nil {
		sources = []*store.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}
