package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Alert is one dashboard notification row tied to an anomaly.
type Alert struct {
	ID         string                 `json:"id"`
	AnomalyID  string                 `json:"anomaly_id"`
	Type       string                 `json:"alert_type"`
	Severity   string                 `json:"severity"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message,omitempty"`
	Recipients []string               `json:"recipients,omitempty"`
	Status     string                 `json:"status"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// CreateAlert persists a dashboard alert for an anomaly.
func (s *Store) CreateAlert(ctx context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = "pending"
	}
	a.CreatedAt = time.Now()

	recipients, _ := json.Marshal(a.Recipients)
	metadata, _ := json.Marshal(a.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, anomaly_id, alert_type, severity, title, message, recipients, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.AnomalyID, a.Type, a.Severity, a.Title,
		nullable(a.Message), string(recipients), a.Status, string(metadata), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// UpdateAlertStatus records delivery outcome for an alert.
func (s *Store) UpdateAlertStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAlerts returns recent alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, anomaly_id, alert_type, severity, title, message, recipients, status, metadata, created_at
		FROM alerts ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		var a Alert
		var message, recipients, metadata sql.NullString
		if err := rows.Scan(
			&a.ID, &a.AnomalyID, &a.Type, &a.Severity, &a.Title,
			&message, &recipients, &a.Status, &metadata, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.Message = message.String
		if recipients.Valid && recipients.String != "" {
			_ = json.Unmarshal([]byte(recipients.String), &a.Recipients)
		}
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &a.Metadata)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
