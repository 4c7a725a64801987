package delivery

import (
	"context"
	"errors"

	"github.com/ShiroSan123/otp-valhalla/internal/otp/delivery/twilio"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

// Verifier is the remote verification API used by GatewayStrategy. *twilio.Client implements it.
type Verifier interface {
	StartVerification(ctx context.Context, to string) (*twilio.Verification, error)
	CheckVerification(ctx context.Context, sid, code string) (*twilio.Verification, error)
}

// GatewayStrategy delegates both code generation and checking to a Verifier.
// The verification id it returns is used as the session id; no secret is kept locally.
type GatewayStrategy struct {
	verifier Verifier
}

// NewGatewayStrategy returns a Strategy backed by verifier.
func NewGatewayStrategy(verifier Verifier) *GatewayStrategy {
	return &GatewayStrategy{verifier: verifier}
}

// Provider returns domain.ProviderTwilio.
func (g *GatewayStrategy) Provider() domain.Provider {
	return domain.ProviderTwilio
}

// Issue starts a verification for phone.
func (g *GatewayStrategy) Issue(ctx context.Context, phone string) (*Dispatch, error) {
	v, err := g.verifier.StartVerification(ctx, phone)
	if err != nil {
		return nil, g.deliveryError(err)
	}
	if v == nil || v.SID == "" {
		return nil, &domain.DeliveryError{Provider: domain.ProviderTwilio, Message: "verification gateway returned no session id"}
	}
	return &Dispatch{SessionID: v.SID}, nil
}

// Check asks the gateway to approve code for the session's verification id.
// A processed but unapproved check is ErrInvalidCode; any gateway rejection is passed through.
func (g *GatewayStrategy) Check(ctx context.Context, s *domain.Session, code string) error {
	v, err := g.verifier.CheckVerification(ctx, s.ID, code)
	if err != nil {
		return g.deliveryError(err)
	}
	if !v.Approved() {
		return domain.ErrInvalidCode
	}
	return nil
}

func (g *GatewayStrategy) deliveryError(err error) error {
	var apiErr *twilio.APIError
	if errors.As(err, &apiErr) {
		return &domain.DeliveryError{Provider: domain.ProviderTwilio, Message: apiErr.Message}
	}
	return &domain.DeliveryError{Provider: domain.ProviderTwilio, Message: err.Error()}
}
