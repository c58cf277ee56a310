package agent

import (
	"context"
	"errors"
	"time"
)

// Status values carried by agent responses.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusWarning   = "warning"
)

// ErrUnavailable is returned by the registry when a plan names an agent
// that was never registered.
var ErrUnavailable = errors.New("agent unavailable")

// Message is the uniform envelope the orchestrator sends to an agent.
type Message struct {
	Sender     string                 `json:"sender"`
	Recipient  string                 `json:"recipient"`
	Action     string                 `json:"action"`
	Payload    map[string]interface{} `json:"payload"`
	ContextRef string                 `json:"context_ref"`
}

// Response is what an agent produces for a single message.
type Response struct {
	AgentName        string                 `json:"agent_name"`
	Status           string                 `json:"status"` // completed, error, warning
	Result           map[string]interface{} `json:"result,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
}

// Finding is a single observation emitted by an agent, optionally scored.
type Finding struct {
	Type            string                 `json:"type"`
	Description     string                 `json:"description"`
	AnomalyScore    float64                `json:"anomaly_score,omitempty"`
	Indicators      []string               `json:"indicators,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

// InvestigationContext identifies one end-to-end orchestrator run. It is
// created when an investigation begins and threaded through every agent call.
type InvestigationContext struct {
	InvestigationID string                 `json:"investigation_id"`
	UserID          string                 `json:"user_id,omitempty"`
	SessionID       string                 `json:"session_id,omitempty"`
	TraceID         string                 `json:"trace_id,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
}

// Agent is the capability contract every specialist satisfies. Polymorphism
// is by named capability: callers never assume a concrete type beyond this.
type Agent interface {
	Name() string
	Description() string
	Capabilities() []string

	Initialize(ctx context.Context) error
	Process(ctx context.Context, msg Message, ic *InvestigationContext) (*Response, error)
	Shutdown(ctx context.Context) error
}

// Reflection is a completeness/quality assessment of a produced result.
type Reflection struct {
	QualityScore float64  `json:"quality_score"`
	Issues       []string `json:"issues,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
}

// Reflector is the optional reflection capability, discovered at
// registration time. The orchestrator must not require it.
type Reflector interface {
	Reflect(ctx context.Context, result map[string]interface{}, ic *InvestigationContext) (*Reflection, error)
}

// Factory constructs a fresh agent instance. Used when pooling is disabled
// and to grow the pool on demand.
type Factory func() Agent

// CompletedResponse builds a successful response with timing filled in.
func CompletedResponse(name string, result map[string]interface{}, started time.Time) *Response {
	return &Response{
		AgentName:        name,
		Status:           StatusCompleted,
		Result:           result,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}
}

// ErrorResponse builds a failure response with timing filled in.
func ErrorResponse(name string, err error, started time.Time) *Response {
	return &Response{
		AgentName:        name,
		Status:           StatusError,
		Error:            err.Error(),
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}
}
