package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RowCounts summarizes how many rows a project subgraph holds, reported by
// the secure delete as count-only metadata.
type RowCounts struct {
	Documents       int `json:"documents"`
	ProjectNotes    int `json:"project_notes"`
	JournalistNotes int `json:"journalist_notes"`
	Sources         int `json:"sources"`
	Events          int `json:"events"`
	Reports         int `json:"reports"`
}

// Total returns the sum across all tables.
func (c RowCounts) Total() int {
	return c.Documents + c.ProjectNotes + c.JournalistNotes + c.Sources + c.Events + c.Reports
}

// ProjectRowCounts counts the rows in the project subgraph. Used both for
// the pre-delete inventory and the post-delete orphan verification.
func (s *Store) ProjectRowCounts(ctx context.Context, projectID string) (RowCounts, error) {
	var c RowCounts
	count := func(query string, dst *int) error {
		return s.db.QueryRowContext(ctx, query, projectID).Scan(dst)
	}
	steps := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM documents WHERE project_id = ?`, &c.Documents},
		{`SELECT COUNT(*) FROM project_notes WHERE project_id = ?`, &c.ProjectNotes},
		{`SELECT COUNT(*) FROM journalist_notes WHERE project_id = ?`, &c.JournalistNotes},
		{`SELECT COUNT(*) FROM sources WHERE project_id = ?`, &c.Sources},
		{`SELECT COUNT(*) FROM events WHERE project_id = ?`, &c.Events},
		{`SELECT COUNT(*) FROM knox_reports WHERE project_id = ?`, &c.Reports},
	}
	for _, step := range steps {
		if err := count(step.query, step.dst); err != nil {
			return RowCounts{}, fmt.Errorf("store: counting project rows: %w", err)
		}
	}
	return c, nil
}

// DeleteProjectRows removes the entire project subgraph in one transaction.
// The project row cascades to documents, notes, sources, and reports;
// events have no foreign key and are removed explicitly so only the final
// project_deleted record (appended afterwards) survives.
func (s *Store) DeleteProjectRows(ctx context.Context, projectID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("store: deleting events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID); err != nil {
			return fmt.Errorf("store: deleting project: %w", err)
		}
		return nil
	})
}
