// Package events is the in-process fanout feeding the websocket hub and
// the NATS bridge with lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies an event.
type Type string

// Event types emitted by the core.
const (
	InvestigationStarted   Type = "investigation_started"
	InvestigationCompleted Type = "investigation_completed"
	AnomalyDetected        Type = "anomaly_detected"
	AlertDispatched        Type = "alert_dispatched"
	TaskCompleted          Type = "task_completed"
	MonitorRunFinished     Type = "monitor_run_finished"
)

// Event is one published notification. Payload is free-form JSON-able
// data specific to the type.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// New creates an event with a fresh id and timestamp.
func New(eventType Type, source string, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
