package queue

import (
	"database/sql"
	"encoding/json"
	"time"
)

// SQLStore is the durable form of the in-memory heap, backed by the
// shared sqlite database. It implements Journal.
type SQLStore struct {
	db        *sql.DB
	retention time.Duration
}

// NewSQLStore creates the journal over an open database handle.
func NewSQLStore(db *sql.DB, retention time.Duration) *SQLStore {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &SQLStore{db: db, retention: retention}
}

// Init creates the priority_tasks table.
func (s *SQLStore) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS priority_tasks (
			task_id TEXT PRIMARY KEY,
			priority INTEGER NOT NULL,
			enqueued_at TIMESTAMP NOT NULL,
			task_type TEXT NOT NULL,
			payload TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			timeout_seconds INTEGER NOT NULL DEFAULT 0,
			callback_url TEXT,
			metadata TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			updated_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

// SaveTask journals a task at the given status.
func (s *SQLStore) SaveTask(task *Task, status Status) error {
	payload, _ := json.Marshal(task.Payload)
	metadata, _ := json.Marshal(task.Metadata)

	_, err := s.db.Exec(`
		INSERT INTO priority_tasks (task_id, priority, enqueued_at, task_type, payload, retry_count, max_retries, timeout_seconds, callback_url, metadata, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			retry_count=excluded.retry_count,
			status=excluded.status,
			updated_at=excluded.updated_at
	`,
		task.ID, int(task.Priority), task.EnqueuedAt, task.Type,
		string(payload), task.RetryCount, task.MaxRetries, task.TimeoutSeconds,
		task.CallbackURL, string(metadata), string(status), time.Now(),
	)
	return err
}

// UpdateTaskStatus records a state change for a journaled task.
func (s *SQLStore) UpdateTaskStatus(taskID string, status Status, retryCount int) error {
	_, err := s.db.Exec(`
		UPDATE priority_tasks SET status = ?, retry_count = ?, updated_at = ? WHERE task_id = ?
	`, string(status), retryCount, time.Now(), taskID)
	return err
}

// PendingTasks returns journaled tasks that never reached a terminal
// state, for re-seeding the heap on restart.
func (s *SQLStore) PendingTasks() ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT task_id, priority, enqueued_at, task_type, payload, retry_count, max_retries, timeout_seconds, callback_url, metadata
		FROM priority_tasks
		WHERE status IN ('pending', 'retry', 'processing')
		ORDER BY priority, enqueued_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var task Task
		var priority int
		var payload, metadata, callback sql.NullString

		if err := rows.Scan(
			&task.ID, &priority, &task.EnqueuedAt, &task.Type,
			&payload, &task.RetryCount, &task.MaxRetries,
			&task.TimeoutSeconds, &callback, &metadata,
		); err != nil {
			return nil, err
		}
		task.Priority = Priority(priority)
		if callback.Valid {
			task.CallbackURL = callback.String
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &task.Payload); err != nil {
				task.Payload = nil
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &task.Metadata); err != nil {
				task.Metadata = nil
			}
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// CleanupTerminal removes terminal rows older than the retention window.
func (s *SQLStore) CleanupTerminal() (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM priority_tasks
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < ?
	`, time.Now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
