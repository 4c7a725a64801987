// Package repository persists OTP session audit records.
package repository

import (
	"context"
	"time"

	"github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
)

const (
	// DefaultListLimit is used when ListRecent is called with a non-positive limit.
	DefaultListLimit = 50
	// MaxListLimit caps ListRecent.
	MaxListLimit = 200
)

// Repository is the durable store of session records.
type Repository interface {
	// Upsert inserts rec or replaces the row with the same id.
	Upsert(ctx context.Context, rec *domain.SessionRecord) error
	// UpdateStatus sets status and verified_at for the row with the given id. A missing row is not an error.
	UpdateStatus(ctx context.Context, id, status string, verifiedAt *time.Time) error
	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.SessionRecord, error)
}

// ClampLimit applies the default and maximum to a requested list size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*SupabaseRepository)(nil)
)
