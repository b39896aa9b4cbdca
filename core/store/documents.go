package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/google/uuid"
)

const documentCols = `id, project_id, filename, file_type, original_blob_ref, masked_text,
	sanitize_level, classification, ai_allowed, export_allowed, sha256,
	excluded_from_compile, datetime_masked, original_missing, created_at, updated_at`

// InsertDocument persists a freshly sanitized document. The caller supplies
// a fully populated value except ID and timestamps.
func (s *Store) InsertDocument(ctx context.Context, d *Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	ts := now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (`+documentCols+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.ProjectID, d.Filename, string(d.FileType), d.OriginalBlobRef, d.MaskedText,
			string(d.SanitizeLevel), string(d.Classification), boolInt(d.Usage.AIAllowed), boolInt(d.Usage.ExportAllowed), d.SHA256,
			boolInt(d.ExcludedFromCompile), boolInt(d.DatetimeMasked), boolInt(d.OriginalMissing), ts, ts)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: inserting document: %w", err)
	}
	d.CreatedAt = parseTime(ts)
	d.UpdatedAt = d.CreatedAt
	return nil
}

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var fileType, level, class, created, updated string
	var ai, export, excluded, dtMasked, origMissing int
	err := row.Scan(&d.ID, &d.ProjectID, &d.Filename, &fileType, &d.OriginalBlobRef, &d.MaskedText,
		&level, &class, &ai, &export, &d.SHA256,
		&excluded, &dtMasked, &origMissing, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.FileType = FileType(fileType)
	d.SanitizeLevel = mask.Level(level)
	d.Classification = Classification(class)
	d.Usage = mask.Usage{AIAllowed: ai != 0, ExportAllowed: export != 0}
	d.ExcludedFromCompile = excluded != 0
	d.DatetimeMasked = dtMasked != 0
	d.OriginalMissing = origMissing != 0
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

// GetDocument loads a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocumentsByProject returns a project's documents in deterministic
// order: created_at ascending, then id.
func (s *Store) ListDocumentsByProject(ctx context.Context, projectID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentCols+` FROM documents WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocumentMasked replaces the masked payload after a re-run of the
// sanitization pipeline. The row lock held by the transaction serializes
// concurrent edits so the level can never regress.
func (s *Store) UpdateDocumentMasked(ctx context.Context, id, maskedText string, level mask.Level, usage mask.Usage, sha256Hex string, datetimeMasked bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT sanitize_level FROM documents WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !level.AtLeast(mask.Level(current)) {
			return fmt.Errorf("store: sanitize level would regress from %s to %s", current, level)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET masked_text = ?, sanitize_level = ?, ai_allowed = ?, export_allowed = ?,
				sha256 = ?, datetime_masked = ?, updated_at = ? WHERE id = ?`,
			maskedText, string(level), boolInt(usage.AIAllowed), boolInt(usage.ExportAllowed),
			sha256Hex, boolInt(datetimeMasked), now(), id)
		return err
	})
}

// SetDocumentExcluded toggles the compile exclusion flag.
func (s *Store) SetDocumentExcluded(ctx context.Context, id string, excluded bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET excluded_from_compile = ?, updated_at = ? WHERE id = ?`,
			boolInt(excluded), now(), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// MarkDocumentOriginalMissing flags a document whose blob ref no longer
// resolves on disk.
func (s *Store) MarkDocumentOriginalMissing(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET original_missing = 1, updated_at = ? WHERE id = ?`, now(), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// DeleteDocument removes the row and returns the deleted document so the
// caller can clean up its blob.
func (s *Store) DeleteDocument(ctx context.Context, id string) (*Document, error) {
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
