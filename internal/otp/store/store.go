// Package store holds live OTP sessions between issuance and their terminal transition.
package store

import (
	"context"
	"time"

	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

// Store is the live session map. Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts or overwrites the session under s.ID.
	Put(ctx context.Context, s *domain.Session) error
	// Get returns the session for id, or (nil, nil) if absent. Expiry is not checked here.
	Get(ctx context.Context, id string) (*domain.Session, error)
	// Delete removes id. It is idempotent and returns true only for the call that removed the entry.
	Delete(ctx context.Context, id string) (bool, error)
}

// Sweeper removes sessions whose ExpiresAt is at or before now and returns what it removed.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]*domain.Session, error)
}
