package models

import (
	"time"
)

// Integration event types recorded by the health monitor.
const (
	IntegrationEventReceived  = "received"
	IntegrationEventProcessed = "processed"
	IntegrationEventFailed    = "failed"
	IntegrationEventRetry     = "retry"
)

// Integration event statuses.
const (
	IntegrationStatusSuccess = "success"
	IntegrationStatusFailure = "failure"
	IntegrationStatusTimeout = "timeout"
	IntegrationStatusRetry   = "retry"
)

// Derived health states for an external service.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// IntegrationEvent is one append-only row of the integration log. Immutable
// once written.
type IntegrationEvent struct {
	ID             string    `json:"id"`
	ServiceName    string    `json:"service_name"`
	EventType      string    `json:"event_type"`
	Status         string    `json:"status"`
	Payload        []byte    `json:"payload,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
}

// IntegrationStatus aggregates the rolling health of one external service.
// One row per service name, upserted on every recorded event, never deleted.
type IntegrationStatus struct {
	ServiceName           string     `json:"service_name"`
	TotalCalls            int64      `json:"total_calls"`
	SuccessfulCalls       int64      `json:"successful_calls"`
	FailedCalls           int64      `json:"failed_calls"`
	ConsecutiveFailures   int        `json:"consecutive_failures"`
	LastSuccessfulCall    *time.Time `json:"last_successful_call,omitempty"`
	LastFailedCall        *time.Time `json:"last_failed_call,omitempty"`
	AverageResponseTimeMs float64    `json:"average_response_time_ms"`
	Status                string     `json:"status"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Alert types raised by the health monitor.
const (
	AlertServiceDown         = "service_down"
	AlertHighErrorRate       = "high_error_rate"
	AlertSlowResponse        = "slow_response"
	AlertConsecutiveFailures = "consecutive_failures"
)

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// IntegrationAlert is a threshold breach for one service. At most one active
// alert exists per (service, alert type); re-breaching an active alert does
// not duplicate it, and only explicit resolution clears it.
type IntegrationAlert struct {
	ID           string     `json:"id"`
	ServiceName  string     `json:"service_name"`
	AlertType    string     `json:"alert_type"`
	Severity     string     `json:"severity"`
	Message      string     `json:"message"`
	Threshold    float64    `json:"threshold"`
	CurrentValue float64    `json:"current_value"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
}

// Reprocessing request statuses.
const (
	ReprocessingPending    = "pending"
	ReprocessingProcessing = "processing"
	ReprocessingCompleted  = "completed"
	ReprocessingFailed     = "failed"
)

// ReprocessingRequest is an explicit operator request to replay a stored
// integration event through the pipeline.
type ReprocessingRequest struct {
	ID              string     `json:"id"`
	OriginalEventID string     `json:"original_event_id"`
	ServiceName     string     `json:"service_name"`
	Payload         []byte     `json:"payload"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	RequestedBy     string     `json:"requested_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// IntegrationStats is the aggregate view across all monitored services.
type IntegrationStats struct {
	TotalServices     int   `json:"total_services"`
	HealthyServices   int   `json:"healthy_services"`
	DegradedServices  int   `json:"degraded_services"`
	UnhealthyServices int   `json:"unhealthy_services"`
	TotalCalls        int64 `json:"total_calls"`
	SuccessfulCalls   int64 `json:"successful_calls"`
	FailedCalls       int64 `json:"failed_calls"`
	ActiveAlerts      int   `json:"active_alerts"`
}
