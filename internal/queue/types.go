// Package queue implements the priority task queue, its worker pool and
// the periodic scheduler. Tasks are dispatched to exactly one consumer:
// the in-process worker pool. The sqlite journal only re-seeds the heap
// after a restart.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks on the heap; lower value dequeues earlier.
type Priority int

// Priority levels, routed to logical queues by name.
const (
	PriorityCritical   Priority = 1
	PriorityHigh       Priority = 2
	PriorityNormal     Priority = 3
	PriorityLow        Priority = 4
	PriorityBackground Priority = 5
)

// QueueName returns the logical queue a priority routes to.
func (p Priority) QueueName() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "background"
	}
}

// ParsePriority maps a logical queue name to its priority, defaulting
// to normal for unknown names.
func ParsePriority(name string) Priority {
	switch name {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	case "background":
		return PriorityBackground
	default:
		return PriorityNormal
	}
}

// Status is the lifecycle state of a queued task.
type Status string

// Task lifecycle states.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRetry      Status = "retry"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is a unit of deferred work held on the heap.
type Task struct {
	ID             string                 `json:"task_id"`
	Type           string                 `json:"task_type"`
	Payload        map[string]interface{} `json:"payload"`
	Priority       Priority               `json:"priority"`
	EnqueuedAt     time.Time              `json:"enqueued_at"`
	RetryCount     int                    `json:"retry_count"`
	MaxRetries     int                    `json:"max_retries"`
	TimeoutSeconds int                    `json:"timeout_seconds"`
	CallbackURL    string                 `json:"callback_url,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`

	index int // heap bookkeeping
}

// NewTask creates a pending task with a fresh id.
func NewTask(taskType string, payload map[string]interface{}, priority Priority) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		MaxRetries: 3,
	}
}

// Result records the outcome of a task attempt.
type Result struct {
	TaskID          string      `json:"task_id"`
	Status          Status      `json:"status"`
	Result          interface{} `json:"result,omitempty"`
	Error           string      `json:"error,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     time.Time   `json:"completed_at"`
	DurationSeconds float64     `json:"duration_seconds"`
	RetryCount      int         `json:"retry_count"`
}

// Handler executes one task type. Handlers must observe ctx cancellation
// at their suspension points; the hard time limit cancels it.
type Handler func(ctx context.Context, payload, metadata map[string]interface{}) (interface{}, error)

// Stats summarises queue state.
type Stats struct {
	Pending        int     `json:"pending"`
	Processing     int     `json:"processing"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Cancelled      int     `json:"cancelled"`
	TotalProcessed int64   `json:"total_processed"`
	AvgDurationSec float64 `json:"avg_duration_seconds"`
}
