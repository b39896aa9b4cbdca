// Package shred implements secure project deletion: blobs first, then
// orphan verification, then the row subgraph. Nothing of a deleted project
// survives except a single project_deleted audit event with counts.
package shred

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/vault"
)

// Result reports what a delete removed. Counts only, never names or
// content.
type Result struct {
	ProjectID      string          `json:"project_id"`
	AlreadyDeleted bool            `json:"already_deleted"`
	BlobsDeleted   int             `json:"blobs_deleted"`
	Rows           store.RowCounts `json:"rows"`
}

// Service performs secure deletes.
type Service struct {
	store *store.Store
	vault *vault.Vault
	guard *guard.Guard
	log   *zap.Logger
}

// NewService wires a secure delete service.
func NewService(st *store.Store, v *vault.Vault, g *guard.Guard, log *zap.Logger) *Service {
	return &Service{store: st, vault: v, guard: g, log: log}
}

// DeleteProject removes a project and everything it owns, in order: blobs,
// orphan check, rows, project directory. The deletion set is the vault's
// own listing of the project directory, not the rows' blob references, so
// unreferenced blobs (audio whose transcription never produced a document,
// images whose note insert failed) are shredded too. Any blob failure and
// the orphan check both abort before a single row is touched, so a failed
// delete keeps the project intact and retryable. Deleting an
// already-deleted project succeeds as a no-op.
func (s *Service) DeleteProject(ctx context.Context, projectID, actor string) (*Result, error) {
	res := &Result{ProjectID: projectID}

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			res.AlreadyDeleted = true
			return res, nil
		}
		return nil, err
	}

	rows, err := s.store.ProjectRowCounts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	res.Rows = rows

	refs, err := s.vault.ListOrphans(projectID)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		err := s.vault.Delete(ref)
		if errors.Is(err, vault.ErrMissing) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("shred: aborting before row delete: %w", err)
		}
		res.BlobsDeleted++
	}

	remaining, err := s.vault.ListOrphans(projectID)
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		return nil, &core.CodedError{
			Code:   core.CodeOrphansRemaining,
			Detail: fmt.Sprintf("%d blobs remain after delete", len(remaining)),
			Count:  len(remaining),
		}
	}

	if err := s.store.DeleteProjectRows(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.vault.RemoveProjectDir(projectID); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, projectID, actor, "project_deleted", map[string]string{
		"blobs_deleted": strconv.Itoa(res.BlobsDeleted),
		"rows_deleted":  strconv.Itoa(rows.Total()),
		"documents":     strconv.Itoa(rows.Documents),
		"notes":         strconv.Itoa(rows.ProjectNotes + rows.JournalistNotes),
		"sources":       strconv.Itoa(rows.Sources),
		"reports":       strconv.Itoa(rows.Reports),
	})
	s.log.Info("project deleted",
		zap.String("project_id", projectID),
		zap.Int("blobs_deleted", res.BlobsDeleted),
		zap.Int("rows_deleted", rows.Total()))
	return res, nil
}

func (s *Service) appendEvent(ctx context.Context, projectID, actor, eventType string, metadata map[string]string) {
	rec, err := s.guard.NewRecord(projectID, actor, eventType, metadata)
	if err != nil {
		s.log.Error("audit event rejected by guard", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := s.store.AppendEvent(ctx, rec); err != nil {
		s.log.Error("audit event append failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
