// Package domain defines the durable audit record of an OTP session and the lifecycle events that update it.
package domain

import (
	"encoding/json"
	"time"
)

// EventType is a session lifecycle transition.
type EventType string

const (
	EventCreated  EventType = "created"
	EventVerified EventType = "verified"
	EventExpired  EventType = "expired"
)

// SessionRecord is the persisted shape of one session.
type SessionRecord struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
	Status   string `json:"status"`
	// Secret is the code hash for self-managed providers. Never serialized to event streams.
	Secret     *string         `json:"-"`
	QRPayload  *string         `json:"qrPayload,omitempty"`
	QRImage    *string         `json:"-"`
	CreatedAt  time.Time       `json:"createdAt"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	VerifiedAt *time.Time      `json:"verifiedAt,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Event is one transition, carrying the record as it stands after the transition.
type Event struct {
	Type       EventType     `json:"eventType"`
	Record     SessionRecord `json:"session"`
	OccurredAt time.Time     `json:"occurredAt"`
}
