// Package jobs runs queued background work: transcriptions and knox
// compiles. Jobs are single-attempt; a worker claims the oldest queued job,
// runs its handler under a deadline, and records the terminal state. There
// is no retry machinery: remote errors surface to the caller via the job
// row and a new job must be enqueued deliberately.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/knox"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/transcribe"
)

// Handler executes one claimed job and returns a result reference
// (typically the created document or report ID).
type Handler func(ctx context.Context, job *store.Job) (resultRef string, err error)

// Runner polls the queue and dispatches jobs to registered handlers.
type Runner struct {
	store    *store.Store
	handlers map[store.JobKind]Handler
	timeout  time.Duration
	interval time.Duration
	log      *zap.Logger
}

// NewRunner builds a runner with the given per-job deadline.
func NewRunner(st *store.Store, timeout time.Duration, log *zap.Logger) *Runner {
	return &Runner{
		store:    st,
		handlers: make(map[store.JobKind]Handler),
		timeout:  timeout,
		interval: 250 * time.Millisecond,
		log:      log,
	}
}

// Register installs the handler for a job kind. Kinds without a handler
// are never claimed.
func (r *Runner) Register(kind store.JobKind, h Handler) {
	r.handlers[kind] = h
}

// CompileInput is the job payload for knox_compile jobs.
type CompileInput struct {
	ProjectID  string          `json:"project_id"`
	PolicyID   string          `json:"policy_id"`
	TemplateID string          `json:"template_id"`
	Selection  *knox.Selection `json:"selection,omitempty"`
}

// EnqueueCompile queues a compile job.
func (r *Runner) EnqueueCompile(ctx context.Context, in CompileInput) (*store.Job, error) {
	return r.enqueue(ctx, store.JobKnoxCompile, in)
}

// EnqueueTranscribe queues a transcription job. The audio must already be
// in the vault; the payload carries only its ref.
func (r *Runner) EnqueueTranscribe(ctx context.Context, in transcribe.StoredInput) (*store.Job, error) {
	return r.enqueue(ctx, store.JobTranscribe, in)
}

func (r *Runner) enqueue(ctx context.Context, kind store.JobKind, payload any) (*store.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: encoding payload: %w", err)
	}
	return r.store.CreateJob(ctx, kind, string(raw))
}

// Run starts the worker pool and blocks until ctx is cancelled. Each
// worker polls all registered kinds round-robin.
func (r *Runner) Run(ctx context.Context, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error { return r.worker(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) worker(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		claimed := false
		for kind := range r.handlers {
			job, err := r.store.ClaimNextJob(ctx, kind)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			r.runJob(ctx, job)
			claimed = true
		}
		if claimed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runJob executes a single job under the runner deadline and records the
// terminal state. Handler failures never stop the worker.
func (r *Runner) runJob(ctx context.Context, job *store.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultRef, err := r.handlers[job.Kind](jobCtx, job)
	if err != nil {
		code, detail := errorCode(err)
		if finishErr := r.store.FinishJob(ctx, job.ID, store.JobFailed, "", code, detail); finishErr != nil {
			r.log.Error("finalizing failed job", zap.String("job_id", job.ID), zap.Error(finishErr))
		}
		r.log.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.String("error_code", code))
		return
	}
	if finishErr := r.store.FinishJob(ctx, job.ID, store.JobSucceeded, resultRef, "", ""); finishErr != nil {
		r.log.Error("finalizing succeeded job", zap.String("job_id", job.ID), zap.Error(finishErr))
	}
	r.log.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)))
}

// errorCode maps a handler error to the job row's error fields. Unexpected
// errors carry no code, only a detail.
func errorCode(err error) (code, detail string) {
	var coded *core.CodedError
	if errors.As(err, &coded) {
		return string(coded.Code), coded.Detail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(core.CodeTimeout), "job deadline exceeded"
	}
	return "", err.Error()
}

// NewCompileHandler adapts the orchestrator to a job handler.
func NewCompileHandler(orc *knox.Orchestrator) Handler {
	return func(ctx context.Context, job *store.Job) (string, error) {
		var in CompileInput
		if err := json.Unmarshal([]byte(job.InputRef), &in); err != nil {
			return "", core.NewError(core.CodeValidationError, "malformed compile job payload")
		}
		report, err := orc.Compile(ctx, in.ProjectID, in.PolicyID, in.TemplateID, in.Selection)
		if err != nil {
			return "", err
		}
		return report.ID, nil
	}
}

// NewTranscribeHandler adapts the transcription service to a job handler.
func NewTranscribeHandler(svc *transcribe.Service) Handler {
	return func(ctx context.Context, job *store.Job) (string, error) {
		var in transcribe.StoredInput
		if err := json.Unmarshal([]byte(job.InputRef), &in); err != nil {
			return "", core.NewError(core.CodeValidationError, "malformed transcribe job payload")
		}
		doc, err := svc.TranscribeStored(ctx, in)
		if err != nil {
			return "", err
		}
		return doc.ID, nil
	}
}
