package domain

import "errors"

// Client input errors; the HTTP layer maps them to 400.
var (
	ErrInvalidPhone    = errors.New("phone is required")
	ErrMissingFields   = errors.New("sessionId and code are required")
	ErrSessionNotFound = errors.New("session not found or expired")
	ErrCodeExpired     = errors.New("code expired")
	ErrInvalidCode     = errors.New("invalid code")
	ErrReportTooLarge  = errors.New("report exceeds the size limit")
	ErrInvalidReport   = errors.New("report must be a JSON document")
)

// ErrAuditUnavailable is returned by reads when no durable audit store is configured.
var ErrAuditUnavailable = errors.New("audit store is not configured")

// DeliveryError is a rejection from an SMS or verification gateway. Message is the gateway's own text.
type DeliveryError struct {
	Provider Provider
	Message  string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsClientError reports whether err should be surfaced to the caller as a rejected request.
func IsClientError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return true
	}
	switch {
	case errors.Is(err, ErrInvalidPhone),
		errors.Is(err, ErrMissingFields),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrCodeExpired),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrReportTooLarge),
		errors.Is(err, ErrInvalidReport):
		return true
	}
	return false
}
