package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestProvider_SelfManaged(t *testing.T) {
	cases := map[Provider]bool{
		ProviderTwilio: false,
		ProviderSMSRU:  true,
		ProviderMock:   true,
	}
	for p, want := range cases {
		if got := p.SelfManaged(); got != want {
			t.Errorf("%s.SelfManaged() = %v, want %v", p, got, want)
		}
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: now}
	if !s.Expired(now) {
		t.Error("session must be expired exactly at ExpiresAt")
	}
	if s.Expired(now.Add(-time.Nanosecond)) {
		t.Error("session must be valid strictly before ExpiresAt")
	}
	if !s.Expired(now.Add(time.Second)) {
		t.Error("session must be expired after ExpiresAt")
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	at := time.Now().UTC()
	s := &Session{
		ID:         "s1",
		VerifiedAt: &at,
		QR:         &QRArtifact{Payload: "{}", Image: "data:"},
		Metadata:   json.RawMessage(`{"a":1}`),
	}
	c := s.Clone()
	c.QR.Payload = "changed"
	c.Metadata[2] = 'b'
	*c.VerifiedAt = at.Add(time.Hour)

	if s.QR.Payload != "{}" {
		t.Error("Clone shares QR")
	}
	if string(s.Metadata) != `{"a":1}` {
		t.Error("Clone shares Metadata")
	}
	if !s.VerifiedAt.Equal(at) {
		t.Error("Clone shares VerifiedAt")
	}
	var nilSession *Session
	if nilSession.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestIsClientError(t *testing.T) {
	client := []error{
		ErrInvalidPhone,
		ErrMissingFields,
		ErrSessionNotFound,
		ErrCodeExpired,
		ErrInvalidCode,
		ErrReportTooLarge,
		ErrInvalidReport,
		fmt.Errorf("wrapped: %w", ErrInvalidCode),
		&DeliveryError{Provider: ProviderTwilio, Message: "Invalid parameter `To`"},
		fmt.Errorf("issue: %w", &DeliveryError{Message: "x"}),
	}
	for _, err := range client {
		if !IsClientError(err) {
			t.Errorf("IsClientError(%v) = false, want true", err)
		}
	}
	server := []error{ErrAuditUnavailable, errors.New("boom")}
	for _, err := range server {
		if IsClientError(err) {
			t.Errorf("IsClientError(%v) = true, want false", err)
		}
	}
}
