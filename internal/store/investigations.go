package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Investigation is one persisted investigation row. The same shape backs
// both user-initiated and auto-triggered runs.
type Investigation struct {
	ID             string                 `json:"id"`
	Query          string                 `json:"query"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Status         string                 `json:"status"`
	Progress       float64                `json:"progress,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	InitiatedBy    string                 `json:"initiated_by,omitempty"`
	Results        json.RawMessage        `json:"results,omitempty"`
	AnomaliesFound int                    `json:"anomalies_found"`
}

// CreateInvestigation records the start of a user-initiated investigation.
func (s *Store) CreateInvestigation(ctx context.Context, id, query, contextJSON, initiatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO investigations (id, query, context, status, started_at, initiated_by)
		VALUES (?, ?, ?, 'running', ?, ?)
	`, id, query, nullable(contextJSON), time.Now(), nullable(initiatedBy))
	if err != nil {
		return fmt.Errorf("failed to create investigation: %w", err)
	}
	return nil
}

// CompleteInvestigation finalizes a user-initiated investigation.
func (s *Store) CompleteInvestigation(ctx context.Context, id, status, resultsJSON string, anomaliesFound int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE investigations
		SET status = ?, results = ?, anomalies_found = ?, completed_at = ?
		WHERE id = ?
	`, status, nullable(resultsJSON), anomaliesFound, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete investigation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetInvestigation fetches one investigation row by id.
func (s *Store) GetInvestigation(ctx context.Context, id string) (*Investigation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, query, context, status, started_at, completed_at, initiated_by, results, anomalies_found
		FROM investigations WHERE id = ?
	`, id)
	return scanInvestigation(row, false)
}

// ListInvestigations returns the most recent investigations, newest first.
func (s *Store) ListInvestigations(ctx context.Context, limit int) ([]*Investigation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, context, status, started_at, completed_at, initiated_by, results, anomalies_found
		FROM investigations ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// CreateAutoInvestigation records the start of an auto-triggered run.
func (s *Store) CreateAutoInvestigation(ctx context.Context, id, query, contextJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auto_investigations (id, query, context, status, started_at, initiated_by)
		VALUES (?, ?, ?, 'running', ?, 'auto_monitor')
	`, id, query, nullable(contextJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to create auto investigation: %w", err)
	}
	return nil
}

// UpdateAutoInvestigationProgress moves the progress marker of a running
// auto investigation.
func (s *Store) UpdateAutoInvestigationProgress(ctx context.Context, id string, progress float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auto_investigations SET progress = ? WHERE id = ?
	`, progress, id)
	return err
}

// CompleteAutoInvestigation finalizes an auto-triggered run with its
// results and progress 1.0.
func (s *Store) CompleteAutoInvestigation(ctx context.Context, id, status, resultsJSON string, anomaliesFound int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auto_investigations
		SET status = ?, progress = 1.0, results = ?, anomalies_found = ?, completed_at = ?
		WHERE id = ?
	`, status, nullable(resultsJSON), anomaliesFound, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete auto investigation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAutoInvestigation fetches one auto investigation row by id.
func (s *Store) GetAutoInvestigation(ctx context.Context, id string) (*Investigation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, query, context, status, progress, started_at, completed_at, initiated_by, results, anomalies_found
		FROM auto_investigations WHERE id = ?
	`, id)
	return scanInvestigation(row, true)
}

// ListAutoInvestigations returns the most recent auto runs, newest first.
func (s *Store) ListAutoInvestigations(ctx context.Context, limit int) ([]*Investigation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, context, status, progress, started_at, completed_at, initiated_by, results, anomalies_found
		FROM auto_investigations ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvestigation(row rowScanner, withProgress bool) (*Investigation, error) {
	var inv Investigation
	var contextJSON, initiatedBy, results sql.NullString
	var completedAt sql.NullTime

	dest := []interface{}{&inv.ID, &inv.Query, &contextJSON, &inv.Status}
	if withProgress {
		dest = append(dest, &inv.Progress)
	}
	dest = append(dest, &inv.StartedAt, &completedAt, &initiatedBy, &results, &inv.AnomaliesFound)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if contextJSON.Valid && contextJSON.String != "" {
		_ = json.Unmarshal([]byte(contextJSON.String), &inv.Context)
	}
	if initiatedBy.Valid {
		inv.InitiatedBy = initiatedBy.String
	}
	if results.Valid && results.String != "" {
		inv.Results = json.RawMessage(results.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		inv.CompletedAt = &t
	}
	return &inv, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
