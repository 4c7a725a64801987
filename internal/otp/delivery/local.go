package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShiroSan123/otp-valhalla/internal/otp"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/delivery/smsru"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

// Transport sends a text message to a phone. *smsru.Client implements it.
type Transport interface {
	Send(ctx context.Context, phone, text string) (string, error)
}

// LogTransport is the mock transport: it writes the message to the log instead of sending it.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport returns a Transport that only logs.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger.Named("mock-sms")}
}

// Send logs the message at info level.
func (t *LogTransport) Send(ctx context.Context, phone, text string) (string, error) {
	t.logger.Info("mock sms", zap.String("phone", phone), zap.String("text", text))
	return "", nil
}

// LocalStrategy generates codes in-process and hands them to a Transport.
type LocalStrategy struct {
	provider  domain.Provider
	transport Transport
	brand     string
	newID     func() string
}

// NewLocalStrategy returns a self-managed Strategy. provider must be self-managed.
func NewLocalStrategy(provider domain.Provider, transport Transport, brand string) *LocalStrategy {
	return &LocalStrategy{
		provider:  provider,
		transport: transport,
		brand:     brand,
		newID:     func() string { return uuid.New().String() },
	}
}

// Provider returns the provider this strategy was built for.
func (l *LocalStrategy) Provider() domain.Provider {
	return l.provider
}

// Issue generates a session id and a 6-digit code and sends the code to phone.
func (l *LocalStrategy) Issue(ctx context.Context, phone string) (*Dispatch, error) {
	code, err := otp.GenerateCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	if _, err := l.transport.Send(ctx, phone, l.message(code)); err != nil {
		var smsErr *smsru.Error
		if errors.As(err, &smsErr) {
			return nil, &domain.DeliveryError{Provider: l.provider, Message: smsErr.Text}
		}
		return nil, &domain.DeliveryError{Provider: l.provider, Message: err.Error()}
	}
	return &Dispatch{
		SessionID:  l.newID(),
		SecretHash: otp.HashCode(code),
		Code:       code,
	}, nil
}

// Check compares code against the stored hash. A missing hash never matches.
func (l *LocalStrategy) Check(ctx context.Context, s *domain.Session, code string) error {
	if !otp.CodeEqual(code, s.SecretHash) {
		return domain.ErrInvalidCode
	}
	return nil
}

func (l *LocalStrategy) message(code string) string {
	if l.brand == "" {
		return "Your verification code: " + code
	}
	return fmt.Sprintf("%s verification code: %s", l.brand, code)
}
