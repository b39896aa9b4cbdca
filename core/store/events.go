package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DanielWarg/fortknox/core/guard"
)

// AppendEvent writes an audit record. The signature accepts only a
// guard-produced Record, which is what enforces the metadata-only policy:
// there is no way to reach the events table with an unvetted map.
func (s *Store) AppendEvent(ctx context.Context, rec guard.Record) error {
	metaJSON, err := json.Marshal(rec.Metadata())
	if err != nil {
		return fmt.Errorf("store: encoding event metadata: %w", err)
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (project_id, actor, event_type, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			rec.ProjectID, rec.Actor, rec.EventType, string(metaJSON), at.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return fmt.Errorf("store: appending event: %w", err)
	}
	return nil
}

// ListEventsByProject returns the project's audit trail, oldest first.
func (s *Store) ListEventsByProject(ctx context.Context, projectID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, actor, event_type, metadata, created_at
		 FROM events WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var metaJSON, created string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Actor, &e.EventType, &metaJSON, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			e.Metadata = map[string]string{}
		}
		e.CreatedAt = parseTime(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}
