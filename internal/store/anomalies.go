package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Anomaly statuses walk detected -> investigating -> resolved | dismissed.
const (
	AnomalyDetected      = "detected"
	AnomalyInvestigating = "investigating"
	AnomalyResolved      = "resolved"
	AnomalyDismissed     = "dismissed"
)

// Anomaly is one persisted detection, linked to exactly one parent
// investigation (user-initiated or auto).
type Anomaly struct {
	ID                  string                 `json:"id"`
	InvestigationID     string                 `json:"investigation_id,omitempty"`
	AutoInvestigationID string                 `json:"auto_investigation_id,omitempty"`
	Source              string                 `json:"source"`
	SourceID            string                 `json:"source_id,omitempty"`
	Type                string                 `json:"anomaly_type"`
	Score               float64                `json:"anomaly_score"`
	Severity            string                 `json:"severity"`
	Title               string                 `json:"title"`
	Description         string                 `json:"description,omitempty"`
	Indicators          []string               `json:"indicators,omitempty"`
	Recommendations     []string               `json:"recommendations,omitempty"`
	ContractData        map[string]interface{} `json:"contract_data,omitempty"`
	Status              string                 `json:"status"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	AssignedTo          string                 `json:"assigned_to,omitempty"`
}

// AnomalyFilter narrows ListAnomalies. Zero values mean no filter.
type AnomalyFilter struct {
	Severity        string
	Status          string
	Source          string
	InvestigationID string
	MinScore        float64
}

// CreateAnomaly persists a detection. Exactly one of InvestigationID or
// AutoInvestigationID must be set; the schema enforces it too.
func (s *Store) CreateAnomaly(ctx context.Context, a *Anomaly) error {
	if (a.InvestigationID == "") == (a.AutoInvestigationID == "") {
		return errors.New("anomaly must reference exactly one parent investigation")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Severity == "" {
		a.Severity = SeverityOf(a.Score)
	}
	if a.Status == "" {
		a.Status = AnomalyDetected
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	indicators, _ := json.Marshal(a.Indicators)
	recommendations, _ := json.Marshal(a.Recommendations)
	contractData, _ := json.Marshal(a.ContractData)
	metadata, _ := json.Marshal(a.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomalies (id, investigation_id, auto_investigation_id, source, source_id,
			anomaly_type, anomaly_score, severity, title, description, indicators,
			recommendations, contract_data, status, metadata, created_at, updated_at, assigned_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, nullable(a.InvestigationID), nullable(a.AutoInvestigationID),
		a.Source, nullable(a.SourceID), a.Type, a.Score, a.Severity,
		a.Title, nullable(a.Description), string(indicators), string(recommendations),
		string(contractData), a.Status, string(metadata), a.CreatedAt, a.UpdatedAt,
		nullable(a.AssignedTo),
	)
	if err != nil {
		return fmt.Errorf("failed to create anomaly: %w", err)
	}
	return nil
}

// GetAnomaly fetches one anomaly by id.
func (s *Store) GetAnomaly(ctx context.Context, id string) (*Anomaly, error) {
	rows, err := s.db.QueryContext(ctx, anomalySelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanAnomaly(rows)
}

// ListAnomalies returns anomalies matching the filter, newest first.
func (s *Store) ListAnomalies(ctx context.Context, filter AnomalyFilter, limit, offset int) ([]*Anomaly, error) {
	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []interface{}
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.InvestigationID != "" {
		conds = append(conds, "(investigation_id = ? OR auto_investigation_id = ?)")
		args = append(args, filter.InvestigationID, filter.InvestigationID)
	}
	if filter.MinScore > 0 {
		conds = append(conds, "anomaly_score >= ?")
		args = append(args, filter.MinScore)
	}

	query := anomalySelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAnomalyStatus moves an anomaly through its lifecycle and
// optionally assigns it.
func (s *Store) UpdateAnomalyStatus(ctx context.Context, id, status, assignedTo string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE anomalies SET status = ?, assigned_to = COALESCE(?, assigned_to), updated_at = ?
		WHERE id = ?
	`, status, nullable(assignedTo), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update anomaly: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAnomaliesBySeverity returns severity -> count for the dashboard.
func (s *Store) CountAnomaliesBySeverity(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM anomalies GROUP BY severity
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		out[severity] = count
	}
	return out, rows.Err()
}

const anomalySelect = `
	SELECT id, investigation_id, auto_investigation_id, source, source_id,
		anomaly_type, anomaly_score, severity, title, description, indicators,
		recommendations, contract_data, status, metadata, created_at, updated_at, assigned_to
	FROM anomalies`

func scanAnomaly(rows *sql.Rows) (*Anomaly, error) {
	var a Anomaly
	var invID, autoID, sourceID, description, indicators, recommendations sql.NullString
	var contractData, metadata, assignedTo sql.NullString

	if err := rows.Scan(
		&a.ID, &invID, &autoID, &a.Source, &sourceID,
		&a.Type, &a.Score, &a.Severity, &a.Title, &description,
		&indicators, &recommendations, &contractData, &a.Status,
		&metadata, &a.CreatedAt, &a.UpdatedAt, &assignedTo,
	); err != nil {
		return nil, err
	}
	a.InvestigationID = invID.String
	a.AutoInvestigationID = autoID.String
	a.SourceID = sourceID.String
	a.Description = description.String
	a.AssignedTo = assignedTo.String
	if indicators.Valid && indicators.String != "" {
		_ = json.Unmarshal([]byte(indicators.String), &a.Indicators)
	}
	if recommendations.Valid && recommendations.String != "" {
		_ = json.Unmarshal([]byte(recommendations.String), &a.Recommendations)
	}
	if contractData.Valid && contractData.String != "" {
		_ = json.Unmarshal([]byte(contractData.String), &a.ContractData)
	}
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &a.Metadata)
	}
	return &a, nil
}
