// Package server exposes the editorial core over HTTP. Handlers are thin:
// they decode, call a service, and encode. Every error leaves through the
// uniform envelope in respond.go.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/jobs"
	"github.com/DanielWarg/fortknox/core/knox"
	"github.com/DanielWarg/fortknox/core/sanitize"
	"github.com/DanielWarg/fortknox/core/shred"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/transcribe"
	"github.com/DanielWarg/fortknox/core/vault"
)

// Deps bundles the services the HTTP surface fronts.
type Deps struct {
	Store       *store.Store
	Vault       *vault.Vault
	Guard       *guard.Guard
	Sanitizer   *sanitize.Service
	Transcriber *transcribe.Service
	Knox        *knox.Orchestrator
	Shredder    *shred.Service
	Jobs        *jobs.Runner
}

// Server is the HTTP front of the editorial core.
type Server struct {
	cfg  *core.Config
	deps Deps
	log  *zap.Logger
	http *http.Server
}

// New builds a server around the wired services.
func New(cfg *core.Config, deps Deps, log *zap.Logger) *Server {
	s := &Server{cfg: cfg, deps: deps, log: log}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the route tree. Exposed separately so tests can drive
// the handlers through httptest without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Delete("/", s.handleDeleteProject)
				r.Put("/status", s.handleProjectStatus)
				r.Put("/classification", s.handleProjectClassification)
				r.Get("/events", s.handleListEvents)
				r.Get("/export_snapshot", s.handleExportSnapshot)
				r.Get("/reports", s.handleListReports)

				r.Post("/documents", s.handleUploadDocument)
				r.Get("/documents", s.handleListDocuments)
				r.Post("/notes", s.handleCreateNote)
				r.Get("/notes", s.handleListNotes)
				r.Post("/journalist-notes", s.handleCreateJournalistNote)
				r.Get("/journalist-notes", s.handleListJournalistNotes)
				r.Post("/sources", s.handleCreateSource)
				r.Get("/sources", s.handleListSources)
				r.Post("/recordings", s.handleTranscribeSync)
				r.Post("/recordings/jobs", s.handleTranscribeAsync)
			})
		})

		r.Route("/documents/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Put("/", s.handleEditDocument)
			r.Delete("/", s.handleDeleteDocument)
			r.Put("/sanitize-level", s.handleBumpDocument)
			r.Put("/exclude", s.handleExcludeDocument)
		})

		r.Route("/notes/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetNote)
			r.Put("/", s.handleEditNote)
			r.Put("/sanitize-level", s.handleBumpNote)
		})

		r.Route("/fortknox", func(r chi.Router) {
			r.Post("/compile", s.handleCompileSync)
			r.Post("/compile/jobs", s.handleCompileAsync)
			r.Get("/reports/{id}", s.handleGetReport)
		})

		r.Get("/jobs/{id}", s.handleGetJob)
	})
	return r
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger logs the route pattern, never the concrete URL: project and
// document IDs in paths must not reach log files when source safety is on.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("route", chi.RouteContext(r.Context()).RoutePattern()),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// actor resolves who performed the request for the audit trail.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "local"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, core.NewError(core.CodeNetworkError, "database unreachable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"offline":     s.cfg.Offline,
		"testmode":    s.cfg.TestMode,
		"guard_mode":  string(s.deps.Guard.Mode()),
		"guard_drops": s.deps.Guard.DropCounts(),
	})
}
