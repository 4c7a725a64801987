package delivery

import (
	"go.uber.org/zap"

	"github.com/ShiroSan123/otp-valhalla/internal/otp/delivery/smsru"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/delivery/twilio"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

// SMSRUSettings configures the country-specific gateway.
type SMSRUSettings struct {
	APIID   string
	BaseURL string
	Sender  string
}

// TwilioSettings configures the remote verification gateway.
type TwilioSettings struct {
	AccountSID string
	AuthToken  string
	ServiceSID string
	BaseURL    string
}

// Settings is the immutable provider configuration, built once at startup.
type Settings struct {
	SMSRU  SMSRUSettings
	Twilio TwilioSettings
	Brand  string
}

// Provider returns which provider Select would choose for these settings.
func (s Settings) Provider() domain.Provider {
	switch {
	case s.SMSRU.APIID != "":
		return domain.ProviderSMSRU
	case s.Twilio.AccountSID != "" && s.Twilio.AuthToken != "" && s.Twilio.ServiceSID != "":
		return domain.ProviderTwilio
	default:
		return domain.ProviderMock
	}
}

// Select builds the single active Strategy: SMS.ru when configured, else Twilio Verify, else mock.
func Select(s Settings, logger *zap.Logger) Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := s.Provider()
	logger.Info("otp delivery provider selected", zap.String("provider", string(p)))
	switch p {
	case domain.ProviderSMSRU:
		return NewLocalStrategy(p, smsru.NewClient(s.SMSRU.APIID, s.SMSRU.BaseURL, s.SMSRU.Sender), s.Brand)
	case domain.ProviderTwilio:
		return NewGatewayStrategy(twilio.NewClient(s.Twilio.AccountSID, s.Twilio.AuthToken, s.Twilio.ServiceSID, s.Twilio.BaseURL))
	default:
		return NewLocalStrategy(p, NewLogTransport(logger), s.Brand)
	}
}
