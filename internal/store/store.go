// Package store persists investigations, anomalies and alerts in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Severity buckets for anomalies, derived from the score.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SeverityOf maps an anomaly score to its severity. Scores must already be
// in [0,1]; out-of-range input is an invariant violation at the caller.
func SeverityOf(score float64) string {
	switch {
	case score >= 0.85:
		return SeverityCritical
	case score >= 0.7:
		return SeverityHigh
	case score >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Store wraps the SQLite database holding all persisted core state.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and runs the schema.
// Path ":memory:" yields an ephemeral database for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// DB exposes the handle for sibling packages sharing the same file
// (the queue journal).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS investigations (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			context TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			initiated_by TEXT,
			results TEXT,
			anomalies_found INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS auto_investigations (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			context TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			progress REAL NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			initiated_by TEXT,
			results TEXT,
			anomalies_found INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS anomalies (
			id TEXT PRIMARY KEY,
			investigation_id TEXT REFERENCES investigations(id),
			auto_investigation_id TEXT REFERENCES auto_investigations(id),
			source TEXT NOT NULL,
			source_id TEXT,
			anomaly_type TEXT NOT NULL,
			anomaly_score REAL NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			indicators TEXT,
			recommendations TEXT,
			contract_data TEXT,
			status TEXT NOT NULL DEFAULT 'detected',
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			assigned_to TEXT,
			CHECK (
				(investigation_id IS NULL) != (auto_investigation_id IS NULL)
			)
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			anomaly_id TEXT NOT NULL REFERENCES anomalies(id),
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT,
			recipients TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_anomalies_severity ON anomalies(severity);
		CREATE INDEX IF NOT EXISTS idx_anomalies_status ON anomalies(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_anomaly ON alerts(anomaly_id);
	`)
	return err
}
