package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/jobs"
	"github.com/DanielWarg/fortknox/core/knox"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/transcribe"
)

type compileRequest struct {
	ProjectID  string          `json:"project_id"`
	PolicyID   string          `json:"policy_id"`
	TemplateID string          `json:"template_id"`
	Selection  *knox.Selection `json:"selection,omitempty"`
}

// handleCompileSync runs a compile inside the request, bounded by the
// configured deadline. Idempotence makes a client retry after disconnect
// cheap: the cached report is served without a remote call.
func (s *Server) handleCompileSync(w http.ResponseWriter, r *http.Request) {
	var in compileRequest
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()
	report, err := s.deps.Knox.Compile(ctx, in.ProjectID, in.PolicyID, in.TemplateID, in.Selection)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCompileAsync(w http.ResponseWriter, r *http.Request) {
	var in compileRequest
	if err := decode(r, &in); err != nil {
		fail(w, err)
		return
	}
	if in.ProjectID == "" || in.PolicyID == "" || in.TemplateID == "" {
		fail(w, core.NewError(core.CodeValidationError, "project_id, policy_id and template_id are required"))
		return
	}
	job, err := s.deps.Jobs.EnqueueCompile(r.Context(), jobs.CompileInput{
		ProjectID:  in.ProjectID,
		PolicyID:   in.PolicyID,
		TemplateID: in.TemplateID,
		Selection:  in.Selection,
	})
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.deps.Store.ListReportsByProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	if reports == nil {
		reports = []*store.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// storedAudio puts the upload in the vault and builds the job payload.
func (s *Server) storedAudio(w http.ResponseWriter, r *http.Request) (transcribe.StoredInput, error) {
	filename, data, err := s.readUpload(w, r, "audio")
	if err != nil {
		return transcribe.StoredInput{}, err
	}
	projectID := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetProject(r.Context(), projectID); err != nil {
		return transcribe.StoredInput{}, err
	}
	ref, err := s.deps.Transcriber.StoreAudio(projectID, data)
	if err != nil {
		return transcribe.StoredInput{}, err
	}
	return transcribe.StoredInput{
		ProjectID: projectID,
		Actor:     actor(r),
		Filename:  filename,
		Mime:      r.FormValue("mime"),
		BlobRef:   string(ref),
		KeepAudio: r.FormValue("keep_audio") == "true",
	}, nil
}

func (s *Server) handleTranscribeSync(w http.ResponseWriter, r *http.Request) {
	in, err := s.storedAudio(w, r)
	if err != nil {
		fail(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()
	doc, err := s.deps.Transcriber.TranscribeStored(ctx, in)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withoutText(doc))
}

func (s *Server) handleTranscribeAsync(w http.ResponseWriter, r *http.Request) {
	in, err := s.storedAudio(w, r)
	if err != nil {
		fail(w, err)
		return
	}
	job, err := s.deps.Jobs.EnqueueTranscribe(r.Context(), in)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
