package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTerminalJob is returned when a finished job would be mutated again.
var ErrTerminalJob = errors.New("store: job already in a terminal state")

// CreateJob atomically enqueues a job in the queued state.
func (s *Store) CreateJob(ctx context.Context, kind JobKind, inputRef string) (*Job, error) {
	j := &Job{
		ID:       uuid.NewString(),
		Kind:     kind,
		Status:   JobQueued,
		InputRef: inputRef,
	}
	ts := now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, kind, status, input_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
			j.ID, string(j.Kind), string(j.Status), j.InputRef, ts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: creating job: %w", err)
	}
	j.CreatedAt = parseTime(ts)
	return j, nil
}

// ClaimNextJob transitions the oldest queued job of the given kind to
// running and returns it. Returns ErrNotFound when the queue is empty. The
// claim is a single transaction, so two workers can never run the same job.
func (s *Store) ClaimNextJob(ctx context.Context, kind JobKind) (*Job, error) {
	var claimed *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, input_ref, created_at FROM jobs
			 WHERE kind = ? AND status = ? ORDER BY created_at, id LIMIT 1`,
			string(kind), string(JobQueued))
		var id, inputRef, created string
		if err := row.Scan(&id, &inputRef, &created); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
			string(JobRunning), id, string(JobQueued))
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		claimed = &Job{
			ID:        id,
			Kind:      kind,
			Status:    JobRunning,
			InputRef:  inputRef,
			CreatedAt: parseTime(created),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FinishJob moves a running job to a terminal state. Terminal states are
// immutable: finishing an already-finished job fails with ErrTerminalJob.
func (s *Store) FinishJob(ctx context.Context, id string, status JobStatus, resultRef, errorCode, errorDetail string) error {
	if status != JobSucceeded && status != JobFailed {
		return fmt.Errorf("store: %q is not a terminal job status", status)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if JobStatus(current) == JobSucceeded || JobStatus(current) == JobFailed {
			return ErrTerminalJob
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, result_ref = ?, error_code = ?, error_detail = ?, finished_at = ?
			 WHERE id = ?`,
			string(status), resultRef, errorCode, errorDetail, now(), id)
		return err
	})
}

// GetJob returns the job's current state for polling clients.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, status, input_ref, result_ref, error_code, error_detail, created_at, finished_at
		 FROM jobs WHERE id = ?`, id)

	var j Job
	var kind, status, created string
	var finished sql.NullString
	err := row.Scan(&j.ID, &kind, &status, &j.InputRef, &j.ResultRef, &j.ErrorCode, &j.ErrorDetail, &created, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	j.Kind = JobKind(kind)
	j.Status = JobStatus(status)
	j.CreatedAt = parseTime(created)
	if finished.Valid {
		t := parseTime(finished.String)
		j.FinishedAt = &t
	}
	return &j, nil
}
