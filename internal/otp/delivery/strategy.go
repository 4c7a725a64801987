// Package delivery implements the two ways a verification code reaches a phone:
// a remote gateway that owns the code, or a locally generated code sent as a raw SMS.
package delivery

import (
	"context"

	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

// Dispatch is the result of issuing a code.
type Dispatch struct {
	// SessionID becomes the session's primary key.
	SessionID string
	// SecretHash is set only by self-managed strategies.
	SecretHash string
	// Code is the plain code for self-managed strategies; callers expose it only in mock mode.
	Code string
}

// Strategy issues and checks codes for one provider. Exactly one is active per process.
type Strategy interface {
	Provider() domain.Provider
	// Issue sends a new code to phone. Gateway rejections are returned as *domain.DeliveryError.
	Issue(ctx context.Context, phone string) (*Dispatch, error)
	// Check returns nil when code is correct for s.
	Check(ctx context.Context, s *domain.Session, code string) error
}
