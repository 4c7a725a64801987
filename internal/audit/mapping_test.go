package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
	otpdomain "github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

func TestRecordFromSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &otpdomain.Session{
		ID:         "s-1",
		Phone:      "+79991234567",
		Provider:   otpdomain.ProviderSMSRU,
		SecretHash: "deadbeef",
		CreatedAt:  now,
		ExpiresAt:  now.Add(5 * time.Minute),
		Status:     otpdomain.StatusPending,
		QR:         &otpdomain.QRArtifact{Payload: `{"sessionId":"s-1"}`, Image: "data:image/png;base64,AA"},
		Metadata:   json.RawMessage(`{"k":"v"}`),
	}
	rec := RecordFromSession(s)
	if rec.ID != "s-1" || rec.Provider != "smsru" || rec.Status != "pending" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Secret == nil || *rec.Secret != "deadbeef" {
		t.Errorf("Secret = %v, want deadbeef", rec.Secret)
	}
	if rec.QRPayload == nil || *rec.QRPayload != `{"sessionId":"s-1"}` {
		t.Errorf("QRPayload = %v", rec.QRPayload)
	}
	if rec.QRImage == nil {
		t.Error("QRImage should be set")
	}
}

func TestRecordFromSession_GatewaySession(t *testing.T) {
	s := &otpdomain.Session{ID: "VE123", Provider: otpdomain.ProviderTwilio, Status: otpdomain.StatusPending}
	rec := RecordFromSession(s)
	if rec.Secret != nil {
		t.Errorf("Secret = %q, want nil for gateway sessions", *rec.Secret)
	}
	if rec.QRPayload != nil || rec.QRImage != nil {
		t.Error("QR fields should be nil without a QR artifact")
	}
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	s := &otpdomain.Session{ID: "s-1", Status: otpdomain.StatusPending}

	v := NewEvent(domain.EventVerified, s, at)
	if v.Record.Status != "verified" {
		t.Errorf("verified status = %q", v.Record.Status)
	}
	if v.Record.VerifiedAt == nil || !v.Record.VerifiedAt.Equal(at) {
		t.Errorf("VerifiedAt = %v, want %v", v.Record.VerifiedAt, at)
	}

	e := NewEvent(domain.EventExpired, s, at)
	if e.Record.Status != "expired" || e.Record.VerifiedAt != nil {
		t.Errorf("expired record = %+v", e.Record)
	}

	c := NewEvent(domain.EventCreated, s, at)
	if c.Record.Status != "pending" || !c.OccurredAt.Equal(at) {
		t.Errorf("created event = %+v", c)
	}
}
