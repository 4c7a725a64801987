package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShiroSan123/otp-valhalla/internal/identity/domain"
)

// Directory is the identity store consulted by the provisioner.
type Directory interface {
	// FindByPhone returns the user whose phone matches exactly or by digits, or (nil, nil).
	FindByPhone(ctx context.Context, phone string) (*domain.User, error)
	// CreateWithPhone creates a user with the phone pre-confirmed.
	// Returns domain.ErrPhoneExists when the phone is already taken.
	CreateWithPhone(ctx context.Context, phone string) (*domain.User, error)
}

// Result is the outcome of Ensure.
type Result struct {
	UserID  string
	Created bool
}

// Provisioner makes sure a verified phone has exactly one identity account.
type Provisioner struct {
	dir    Directory
	logger *zap.Logger
}

// NewProvisioner returns a Provisioner over dir.
func NewProvisioner(dir Directory, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{dir: dir, logger: logger.Named("identity")}
}

// Ensure returns the account for phone, creating it if absent.
// A create that loses a race to a concurrent Ensure re-reads and returns the winner with Created=false.
func (p *Provisioner) Ensure(ctx context.Context, phone string) (*Result, error) {
	u, err := p.dir.FindByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("identity: find by phone: %w", err)
	}
	if u != nil {
		return &Result{UserID: u.ID}, nil
	}

	u, err = p.dir.CreateWithPhone(ctx, phone)
	if err == nil {
		p.logger.Info("identity created", zap.String("user_id", u.ID))
		return &Result{UserID: u.ID, Created: true}, nil
	}
	if !errors.Is(err, domain.ErrPhoneExists) {
		return nil, fmt.Errorf("identity: create: %w", err)
	}

	existing, findErr := p.dir.FindByPhone(ctx, phone)
	if findErr != nil {
		return nil, fmt.Errorf("identity: find after conflict: %w", findErr)
	}
	if existing == nil {
		return nil, fmt.Errorf("identity: create: %w", err)
	}
	p.logger.Debug("identity create lost race, reusing existing", zap.String("user_id", existing.ID))
	return &Result{UserID: existing.ID}, nil
}
