package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const reportCols = `id, project_id, policy_id, policy_version, ruleset_hash, template_id,
	engine_id, input_fingerprint, input_manifest, gate_results, rendered_markdown,
	latency_ms, created_at`

// SaveReportIfAbsent inserts the report unless a row already exists for
// (project_id, policy_id, template_id, input_fingerprint). On a conflict —
// including a concurrent-compile race — the winning row is read back and
// returned. The second return value reports whether this call inserted.
func (s *Store) SaveReportIfAbsent(ctx context.Context, r *Report) (*Report, bool, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	ts := now()
	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO knox_reports (`+reportCols+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(project_id, policy_id, template_id, input_fingerprint) DO NOTHING`,
			r.ID, r.ProjectID, r.PolicyID, r.PolicyVersion, r.RulesetHash, r.TemplateID,
			r.EngineID, r.InputFingerprint, r.InputManifest, r.GateResults, r.RenderedMarkdown,
			r.LatencyMS, ts)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: saving report: %w", err)
	}

	winner, err := s.FindReport(ctx, r.ProjectID, r.PolicyID, r.TemplateID, r.InputFingerprint)
	if err != nil {
		return nil, false, err
	}
	return winner, inserted, nil
}

// FindReport looks up a report by its idempotence key.
func (s *Store) FindReport(ctx context.Context, projectID, policyID, templateID, fingerprint string) (*Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportCols+` FROM knox_reports
		 WHERE project_id = ? AND policy_id = ? AND template_id = ? AND input_fingerprint = ?`,
		projectID, policyID, templateID, fingerprint)
	return scanReport(row)
}

// GetReport loads a report by ID.
func (s *Store) GetReport(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportCols+` FROM knox_reports WHERE id = ?`, id)
	return scanReport(row)
}

// ListReportsByProject returns a project's reports, newest first.
func (s *Store) ListReportsByProject(ctx context.Context, projectID string) ([]*Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportCols+` FROM knox_reports WHERE project_id = ? ORDER BY created_at DESC, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing reports: %w", err)
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReport(row interface{ Scan(...any) error }) (*Report, error) {
	var r Report
	var created string
	err := row.Scan(&r.ID, &r.ProjectID, &r.PolicyID, &r.PolicyVersion, &r.RulesetHash, &r.TemplateID,
		&r.EngineID, &r.InputFingerprint, &r.InputManifest, &r.GateResults, &r.RenderedMarkdown,
		&r.LatencyMS, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}
