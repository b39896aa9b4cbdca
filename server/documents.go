package server

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/sanitize"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/vault"
)

// fileTypeFor maps an upload filename to an accepted document type.
func fileTypeFor(filename string) (store.FileType, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return store.FileTypePDF, true
	case ".txt", ".md":
		return store.FileTypeTXT, true
	}
	return "", false
}

// readUpload pulls one multipart file field, enforcing the upload cap.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return "", nil, core.NewError(core.CodeValidationError, "upload too large or malformed")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, core.NewError(core.CodeValidationError, "missing file field "+field)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, core.NewError(core.CodeValidationError, "reading upload")
	}
	return header.Filename, data, nil
}

// withoutText strips masked_text for list/upload responses; the full text
// is only served by the single-document endpoint.
func withoutText(d *store.Document) *store.Document {
	c := *d
	c.MaskedText = ""
	return &c
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	filename, data, err := s.readUpload(w, r, "file")
	if err != nil {
		fail(w, err)
		return
	}
	fileType, ok := fileTypeFor(filename)
	if !ok {
		fail(w, core.NewError(core.CodeValidationError, "only pdf and txt uploads are accepted"))
		return
	}
	doc, err := s.deps.Sanitizer.IngestDocument(r.Context(), sanitize.IngestInput{
		ProjectID:    chi.URLParam(r, "id"),
		Actor:        actor(r),
		Filename:     filename,
		FileType:     fileType,
		Raw:          data,
		KeepOriginal: r.FormValue("keep_original") != "false",
	})
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withoutText(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Store.ListDocumentsByProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	out := make([]*store.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, withoutText(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleEditDocument(w http.ResponseWriter, r *http.Request) {
	var in struct {
		MaskedText string `json:"masked_text"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	if in.MaskedText == "" {
		fail(w, core.NewError(core.CodeValidationError, "masked_text is required"))
		return
	}
	doc, err := s.deps.Sanitizer.EditDocumentMasked(r.Context(), chi.URLParam(r, "id"), actor(r), in.MaskedText)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleBumpDocument(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Level string `json:"level"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	doc, err := s.deps.Sanitizer.BumpDocumentLevel(r.Context(), chi.URLParam(r, "id"), actor(r), mask.Level(in.Level))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleExcludeDocument(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Excluded bool `json:"excluded"`
	}
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.SetDocumentExcluded(r.Context(), id, in.Excluded); err != nil {
		fail(w, err)
		return
	}
	doc, err := s.deps.Store.GetDocument(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument removes a document: original blob first, then the
// row. A failed blob delete aborts with the row intact, so the blob never
// ends up untracked.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	if doc.OriginalBlobRef != "" {
		if err := s.deps.Vault.Delete(vault.Ref(doc.OriginalBlobRef)); err != nil && !errors.Is(err, vault.ErrMissing) {
			fail(w, err)
			return
		}
	}
	if _, err := s.deps.Store.DeleteDocument(r.Context(), doc.ID); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
