// Package domain defines the OTP session entity and the errors shared across the OTP packages.
package domain

import (
	"encoding/json"
	"time"
)

// Provider identifies the delivery strategy that created a session.
type Provider string

const (
	// ProviderTwilio is the remote verification gateway; it owns code generation and checking.
	ProviderTwilio Provider = "twilio"
	// ProviderSMSRU is the country-specific raw SMS gateway; codes are generated and checked locally.
	ProviderSMSRU Provider = "smsru"
	// ProviderMock generates codes locally and only logs them.
	ProviderMock Provider = "mock"
)

// SelfManaged reports whether codes for this provider are generated and verified in-process.
func (p Provider) SelfManaged() bool {
	return p == ProviderSMSRU || p == ProviderMock
}

// Status is the lifecycle state of a session. Both verified and expired are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
)

// QRArtifact is the rendered credential: the JSON payload and a PNG data URL.
type QRArtifact struct {
	Payload string `json:"payload"`
	Image   string `json:"image"`
}

// Session is a pending phone verification.
type Session struct {
	ID       string
	Phone    string
	Provider Provider
	// SecretHash is the SHA-256 hex of the code; set iff Provider.SelfManaged().
	SecretHash string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Status     Status
	VerifiedAt *time.Time
	QR         *QRArtifact
	// Metadata is the caller-supplied auxiliary report, passed through verbatim.
	Metadata json.RawMessage
}

// Expired reports whether now is at or after ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.VerifiedAt != nil {
		t := *s.VerifiedAt
		c.VerifiedAt = &t
	}
	if s.QR != nil {
		qr := *s.QR
		c.QR = &qr
	}
	if s.Metadata != nil {
		c.Metadata = append(json.RawMessage(nil), s.Metadata...)
	}
	return &c
}
