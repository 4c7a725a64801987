// Package qr builds the scannable credential attached to a new OTP session.
package qr

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

const dataURLPrefix = "data:image/png;base64,"

// Payload is the JSON document encoded into the QR image.
type Payload struct {
	SessionID   string          `json:"sessionId"`
	Phone       string          `json:"phone"`
	Provider    domain.Provider `json:"provider"`
	Brand       string          `json:"brand"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Report      json.RawMessage `json:"report,omitempty"`
}

// Builder renders payloads to PNG data URLs.
type Builder struct {
	brand string
	size  int
	level qrcode.RecoveryLevel
}

// NewBuilder returns a Builder producing size x size images.
func NewBuilder(brand string, size int) *Builder {
	if size <= 0 {
		size = 256
	}
	return &Builder{brand: brand, size: size, level: qrcode.Medium}
}

// Build assembles the payload for a session and renders it.
func (b *Builder) Build(s *domain.Session, now time.Time) (*domain.QRArtifact, error) {
	if s == nil {
		return nil, errors.New("qr: nil session")
	}
	return b.Render(Payload{
		SessionID:   s.ID,
		Phone:       s.Phone,
		Provider:    s.Provider,
		Brand:       b.brand,
		GeneratedAt: now.UTC(),
		Report:      s.Metadata,
	})
}

// Render marshals p and encodes it as a base64 PNG data URL.
func (b *Builder) Render(p Payload) (*domain.QRArtifact, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("qr: marshal payload: %w", err)
	}
	png, err := qrcode.Encode(string(raw), b.level, b.size)
	if err != nil {
		return nil, fmt.Errorf("qr: encode: %w", err)
	}
	return &domain.QRArtifact{
		Payload: string(raw),
		Image:   dataURLPrefix + base64.StdEncoding.EncodeToString(png),
	}, nil
}
