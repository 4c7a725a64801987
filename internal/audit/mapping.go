package audit

import (
	"time"

	"github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
	otpdomain "github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

// RecordFromSession converts a live session into its durable record.
func RecordFromSession(s *otpdomain.Session) domain.SessionRecord {
	rec := domain.SessionRecord{
		ID:         s.ID,
		Phone:      s.Phone,
		Provider:   string(s.Provider),
		Status:     string(s.Status),
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		VerifiedAt: s.VerifiedAt,
		Metadata:   s.Metadata,
	}
	if s.SecretHash != "" {
		h := s.SecretHash
		rec.Secret = &h
	}
	if s.QR != nil {
		payload, image := s.QR.Payload, s.QR.Image
		rec.QRPayload = &payload
		rec.QRImage = &image
	}
	return rec
}

// NewEvent builds an event of type t for s at the given time.
// Verified and expired events carry the matching terminal status.
func NewEvent(t domain.EventType, s *otpdomain.Session, at time.Time) domain.Event {
	rec := RecordFromSession(s)
	switch t {
	case domain.EventVerified:
		rec.Status = string(otpdomain.StatusVerified)
		if rec.VerifiedAt == nil {
			v := at
			rec.VerifiedAt = &v
		}
	case domain.EventExpired:
		rec.Status = string(otpdomain.StatusExpired)
	}
	return domain.Event{Type: t, Record: rec, OccurredAt: at}
}
