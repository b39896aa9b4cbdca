package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/google/uuid"
)

const projectNoteCols = `id, project_id, title, masked_body, sanitize_level,
	excluded_from_compile, sha256, created_at, updated_at`

// InsertProjectNote persists a masked project note.
func (s *Store) InsertProjectNote(ctx context.Context, n *ProjectNote) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	ts := now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO project_notes (`+projectNoteCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.ProjectID, n.Title, n.MaskedBody, string(n.SanitizeLevel),
			boolInt(n.ExcludedFromCompile), n.SHA256, ts, ts)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: inserting note: %w", err)
	}
	n.CreatedAt = parseTime(ts)
	n.UpdatedAt = n.CreatedAt
	return nil
}

func scanProjectNote(row interface{ Scan(...any) error }) (*ProjectNote, error) {
	var n ProjectNote
	var level, created, updated string
	var excluded int
	err := row.Scan(&n.ID, &n.ProjectID, &n.Title, &n.MaskedBody, &level,
		&excluded, &n.SHA256, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	n.SanitizeLevel = mask.Level(level)
	n.ExcludedFromCompile = excluded != 0
	n.CreatedAt = parseTime(created)
	n.UpdatedAt = parseTime(updated)
	return &n, nil
}

// GetProjectNote loads a note by ID.
func (s *Store) GetProjectNote(ctx context.Context, id string) (*ProjectNote, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectNoteCols+` FROM project_notes WHERE id = ?`, id)
	return scanProjectNote(row)
}

// ListProjectNotesByProject returns a project's notes in deterministic
// order: created_at ascending, then id.
func (s *Store) ListProjectNotesByProject(ctx context.Context, projectID string) ([]*ProjectNote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectNoteCols+` FROM project_notes WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing notes: %w", err)
	}
	defer rows.Close()

	var out []*ProjectNote
	for rows.Next() {
		n, err := scanProjectNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateProjectNoteMasked replaces a note's masked body after re-running the
// pipeline, enforcing level monotonicity under the row lock.
func (s *Store) UpdateProjectNoteMasked(ctx context.Context, id, maskedBody string, level mask.Level, sha256Hex string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT sanitize_level FROM project_notes WHERE id = ?`, id).Scan(&current)
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
			`UPDATE project_notes SET masked_body = ?, sanitize_level = ?, sha256 = ?, updated_at = ? WHERE id = ?`,
			maskedBody, string(level), sha256Hex, now(), id)
		return err
	})
}

// InsertJournalistNote persists a private journalist note. The body is raw
// by design: it is user-owned text that never reaches the masker, the
// compiler, or any log line.
func (s *Store) InsertJournalistNote(ctx context.Context, n *JournalistNote) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Category == "" {
		n.Category = CategoryRaw
	}
	if !n.Category.Valid() {
		return fmt.Errorf("store: invalid note category %q", n.Category)
	}
	if n.ImageRefs == nil {
		n.ImageRefs = []string{}
	}
	refsJSON, err := json.Marshal(n.ImageRefs)
	if err != nil {
		return fmt.Errorf("store: encoding image refs: %w", err)
	}
	ts := now()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO journalist_notes (id, project_id, body, category, image_refs, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.ProjectID, n.Body, string(n.Category), string(refsJSON), ts, ts)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: inserting journalist note: %w", err)
	}
	n.CreatedAt = parseTime(ts)
	n.UpdatedAt = n.CreatedAt
	return nil
}

// ListJournalistNotesByProject returns a project's private notes.
func (s *Store) ListJournalistNotesByProject(ctx context.Context, projectID string) ([]*JournalistNote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, body, category, image_refs, created_at, updated_at
		 FROM journalist_notes WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing journalist notes: %w", err)
	}
	defer rows.Close()

	var out []*JournalistNote
	for rows.Next() {
		var n JournalistNote
		var category, refsJSON, created, updated string
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.Body, &category, &refsJSON, &created, &updated); err != nil {
			return nil, err
		}
		n.Category = NoteCategory(category)
		if err := json.Unmarshal([]byte(refsJSON), &n.ImageRefs); err != nil {
			n.ImageRefs = []string{}
		}
		n.CreatedAt = parseTime(created)
		n.UpdatedAt = parseTime(updated)
		out = append(out, &n)
	}
	return out, rows.Err()
}
