package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInvalidSignature  = "INVALID_SIGNATURE"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeUnknownEventType  = "UNKNOWN_EVENT_TYPE"
	ErrCodeSlotNotFound      = "SLOT_NOT_FOUND"
	ErrCodeCargoDiscrepancy  = "CARGO_DISCREPANCY"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeAlertNotFound     = "ALERT_NOT_FOUND"
	ErrCodeEventNotFound     = "EVENT_NOT_FOUND"
	ErrCodeReprocessNotFound = "REPROCESSING_NOT_FOUND"
)
