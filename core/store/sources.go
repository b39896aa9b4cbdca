package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// InsertSource persists a source record. Sources carry metadata only.
func (s *Store) InsertSource(ctx context.Context, src *Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.Type == "" {
		src.Type = SourceOther
	}
	if !src.Type.Valid() {
		return fmt.Errorf("store: invalid source type %q", src.Type)
	}
	ts := now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sources (id, project_id, title, type, url, comment, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			src.ID, src.ProjectID, src.Title, string(src.Type), src.URL, src.Comment, ts)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: inserting source: %w", err)
	}
	src.CreatedAt = parseTime(ts)
	return nil
}

// GetSource loads a source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, type, url, comment, created_at FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func scanSource(row interface{ Scan(...any) error }) (*Source, error) {
	var src Source
	var typ, created string
	if err := row.Scan(&src.ID, &src.ProjectID, &src.Title, &typ, &src.URL, &src.Comment, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	src.Type = SourceType(typ)
	src.CreatedAt = parseTime(created)
	return &src, nil
}

// ListSourcesByProject returns a project's sources in deterministic order:
// type ascending, then id.
func (s *Store) ListSourcesByProject(ctx context.Context, projectID string) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, title, type, url, comment, created_at
		 FROM sources WHERE project_id = ? ORDER BY type, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
