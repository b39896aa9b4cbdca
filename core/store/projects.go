package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// ErrClassificationDowngrade is returned when an update would silently
// lower a project's classification.
var ErrClassificationDowngrade = errors.New("store: classification cannot be downgraded")

// CreateProject inserts a new project. Empty classification and status fall
// back to their defaults; the tag list is capped.
func (s *Store) CreateProject(ctx context.Context, name string, classification Classification, tags []string, dueDate string) (*Project, error) {
	if classification == "" {
		classification = ClassPublic
	}
	if !classification.Valid() {
		return nil, fmt.Errorf("store: invalid classification %q", classification)
	}
	if len(tags) > MaxProjectTags {
		return nil, fmt.Errorf("store: too many tags (%d > %d)", len(tags), MaxProjectTags)
	}
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("store: encoding tags: %w", err)
	}

	p := &Project{
		ID:             uuid.NewString(),
		Name:           name,
		Classification: classification,
		Status:         StatusResearch,
		DueDate:        dueDate,
		Tags:           tags,
	}
	ts := now()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, name, classification, status, due_date, tags, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, string(p.Classification), string(p.Status), p.DueDate, string(tagsJSON), ts, ts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: creating project: %w", err)
	}
	p.CreatedAt = parseTime(ts)
	p.UpdatedAt = p.CreatedAt
	return p, nil
}

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var class, status, created, updated, tagsJSON string
	var due sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &class, &status, &due, &tagsJSON, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Classification = Classification(class)
	p.Status = ProjectStatus(status)
	p.DueDate = due.String
	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
		p.Tags = []string{}
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

const projectCols = `id, name, classification, status, due_date, tags, created_at, updated_at`

// GetProject loads a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectCols+` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("store: listing projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProjectStatus moves a project to a new workflow status.
func (s *Store) UpdateProjectStatus(ctx context.Context, id string, status ProjectStatus) error {
	if !status.Valid() {
		return fmt.Errorf("store: invalid status %q", status)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now(), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// UpdateProjectClassification raises a project's classification. Downgrades
// are rejected: declassification is an explicit editorial decision outside
// this core.
func (s *Store) UpdateProjectClassification(ctx context.Context, id string, classification Classification) error {
	if !classification.Valid() {
		return fmt.Errorf("store: invalid classification %q", classification)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT classification FROM projects WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !classification.AtLeast(Classification(current)) {
			return ErrClassificationDowngrade
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE projects SET classification = ?, updated_at = ? WHERE id = ?`,
			string(classification), now(), id)
		return err
	})
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
