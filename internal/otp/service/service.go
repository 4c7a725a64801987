// Package service implements the OTP verification engine: issuing codes, verifying them
// exactly once, mirroring lifecycle transitions to the audit trail, and provisioning identities.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ShiroSan123/otp-valhalla/internal/audit"
	auditdomain "github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
	auditrepo "github.com/ShiroSan123/otp-valhalla/internal/audit/repository"
	identityservice "github.com/ShiroSan123/otp-valhalla/internal/identity/service"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/delivery"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/store"
	"github.com/ShiroSan123/otp-valhalla/internal/phone"
)

const instrumentationName = "github.com/ShiroSan123/otp-valhalla/internal/otp/service"

// DefaultTTL is used when Options.TTL is not positive.
const DefaultTTL = 5 * time.Minute

// EventRecorder accepts lifecycle events without blocking. *audit.Recorder implements it.
type EventRecorder interface {
	Record(e auditdomain.Event)
}

// AuditReader lists persisted session records. audit/repository implementations satisfy it.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]*auditdomain.SessionRecord, error)
}

// Provisioner ensures an identity exists for a verified phone. *identityservice.Provisioner implements it.
type Provisioner interface {
	Ensure(ctx context.Context, phone string) (*identityservice.Result, error)
}

// QRBuilder renders the QR artifact for a new session. *qr.Builder implements it.
type QRBuilder interface {
	Build(s *domain.Session, now time.Time) (*domain.QRArtifact, error)
}

// Deps are the collaborators of Service. Store and Strategy are required; the rest may be nil.
type Deps struct {
	Store       store.Store
	Strategy    delivery.Strategy
	QR          QRBuilder
	Audit       EventRecorder
	AuditReader AuditReader
	Provisioner Provisioner
	Logger      *zap.Logger
}

// Options are the tunables read from configuration.
type Options struct {
	TTL            time.Duration
	ExposeMockCode bool
	ReportMaxBytes int
	Normalizer     phone.Normalizer
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowF = now }
}

// RequestInput is the RequestOTP argument.
type RequestInput struct {
	Phone  string
	Report json.RawMessage
}

// RequestResult is returned by RequestOTP. MockCode is set only for the mock provider with code exposure enabled.
type RequestResult struct {
	SessionID        string
	ExpiresInSeconds int
	Mock             bool
	MockCode         string
	QR               *domain.QRArtifact
}

// VerifyResult is returned by a successful VerifyOTP. Identity fields are nil when provisioning is off or failed.
type VerifyResult struct {
	Success             bool
	Phone               string
	IdentityUserID      *string
	IdentityUserCreated *bool
}

// Service is the verification engine.
type Service struct {
	store       store.Store
	strategy    delivery.Strategy
	qr          QRBuilder
	audit       EventRecorder
	auditReader AuditReader
	provisioner Provisioner
	logger      *zap.Logger

	ttl            time.Duration
	exposeMockCode bool
	reportMaxBytes int
	normalizer     phone.Normalizer

	locks *keyedMutex
	nowF  func() time.Time

	tracer        trace.Tracer
	requests      metric.Int64Counter
	verifications metric.Int64Counter
}

// NewService returns a Service. Spans and counters go to the global OTel providers.
func NewService(deps Deps, opts Options, options ...Option) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	normalizer := opts.Normalizer
	if normalizer.CountryCode == "" {
		normalizer = phone.DefaultNormalizer
	}
	s := &Service{
		store:          deps.Store,
		strategy:       deps.Strategy,
		qr:             deps.QR,
		audit:          deps.Audit,
		auditReader:    deps.AuditReader,
		provisioner:    deps.Provisioner,
		logger:         logger.Named("otp"),
		ttl:            ttl,
		exposeMockCode: opts.ExposeMockCode,
		reportMaxBytes: opts.ReportMaxBytes,
		normalizer:     normalizer,
		locks:          newKeyedMutex(),
		nowF:           func() time.Time { return time.Now().UTC() },
		tracer:         otel.Tracer(instrumentationName),
	}
	for _, o := range options {
		o(s)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if s.requests, err = meter.Int64Counter("otp.requests", metric.WithDescription("OTP issuance attempts")); err != nil {
		s.requests, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("otp.requests")
	}
	if s.verifications, err = meter.Int64Counter("otp.verifications", metric.WithDescription("OTP verification attempts by result")); err != nil {
		s.verifications, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("otp.verifications")
	}
	return s
}

// Provider returns the active delivery provider.
func (s *Service) Provider() domain.Provider {
	return s.strategy.Provider()
}

// RequestOTP issues a code to in.Phone and stores a pending session.
func (s *Service) RequestOTP(ctx context.Context, in RequestInput) (*RequestResult, error) {
	provider := s.strategy.Provider()
	ctx, span := s.tracer.Start(ctx, "otp.RequestOTP", trace.WithAttributes(attribute.String("otp.provider", string(provider))))
	defer span.End()

	res, err := s.requestOTP(ctx, provider, in)
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("result", result),
	))
	return res, err
}

func (s *Service) requestOTP(ctx context.Context, provider domain.Provider, in RequestInput) (*RequestResult, error) {
	p := s.normalizer.Normalize(in.Phone)
	if p == "" {
		return nil, domain.ErrInvalidPhone
	}
	report, err := s.checkReport(in.Report)
	if err != nil {
		return nil, err
	}

	d, err := s.strategy.Issue(ctx, p)
	if err != nil {
		s.logger.Warn("otp issue failed", zap.String("provider", string(provider)), zap.Error(err))
		return nil, err
	}

	now := s.nowF()
	sess := &domain.Session{
		ID:         d.SessionID,
		Phone:      p,
		Provider:   provider,
		SecretHash: d.SecretHash,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		Status:     domain.StatusPending,
		Metadata:   report,
	}
	if s.qr != nil {
		art, err := s.qr.Build(sess, now)
		if err != nil {
			s.logger.Warn("qr generation failed", zap.String("session_id", sess.ID), zap.Error(err))
		} else {
			sess.QR = art
		}
	}

	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	s.record(auditdomain.EventCreated, sess, now)
	s.logger.Info("otp issued", zap.String("session_id", sess.ID), zap.String("provider", string(provider)))

	out := &RequestResult{
		SessionID:        sess.ID,
		ExpiresInSeconds: int(s.ttl / time.Second),
		Mock:             provider == domain.ProviderMock,
		QR:               sess.QR,
	}
	if out.Mock && s.exposeMockCode {
		out.MockCode = d.Code
	}
	return out, nil
}

// checkReport returns the report to store, or nil when absent.
func (s *Service) checkReport(report json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(report)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if s.reportMaxBytes > 0 && len(trimmed) > s.reportMaxBytes {
		return nil, domain.ErrReportTooLarge
	}
	if !json.Valid(trimmed) {
		return nil, domain.ErrInvalidReport
	}
	return append(json.RawMessage(nil), trimmed...), nil
}

// VerifyOTP checks code against the session. The expiry check, code check and removal run under
// a per-session lock, and success additionally requires this call to be the one that removed the
// session from the store, so at most one caller ever sees success.
func (s *Service) VerifyOTP(ctx context.Context, sessionID, code string) (*VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "otp.VerifyOTP")
	defer span.End()

	res, err := s.verifyOTP(ctx, strings.TrimSpace(sessionID), strings.TrimSpace(code))
	s.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", verifyResultLabel(err))))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Service) verifyOTP(ctx context.Context, sessionID, code string) (*VerifyResult, error) {
	if sessionID == "" || code == "" {
		return nil, domain.ErrMissingFields
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("otp.provider", string(sess.Provider)))

	now := s.nowF()
	if sess.Expired(now) {
		removed, err := s.store.Delete(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("delete session: %w", err)
		}
		if !removed {
			return nil, domain.ErrSessionNotFound
		}
		s.record(auditdomain.EventExpired, sess, now)
		return nil, domain.ErrCodeExpired
	}

	if err := s.strategy.Check(ctx, sess, code); err != nil {
		return nil, err
	}

	removed, err := s.store.Delete(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	if !removed {
		return nil, domain.ErrSessionNotFound
	}
	verifiedAt := s.nowF()
	sess.Status = domain.StatusVerified
	sess.VerifiedAt = &verifiedAt
	s.record(auditdomain.EventVerified, sess, verifiedAt)
	s.logger.Info("otp verified", zap.String("session_id", sess.ID), zap.String("provider", string(sess.Provider)))

	out := &VerifyResult{Success: true, Phone: sess.Phone}
	if s.provisioner == nil {
		return out, nil
	}
	ident, err := s.provisioner.Ensure(ctx, sess.Phone)
	if err != nil {
		s.logger.Error("identity provisioning failed", zap.String("session_id", sess.ID), zap.Error(err))
		return out, nil
	}
	out.IdentityUserID = &ident.UserID
	out.IdentityUserCreated = &ident.Created
	return out, nil
}

// ListRecentSessions returns persisted sessions newest first. limit is clamped to 1..200, default 50.
func (s *Service) ListRecentSessions(ctx context.Context, limit int) ([]*auditdomain.SessionRecord, error) {
	if s.auditReader == nil {
		return nil, domain.ErrAuditUnavailable
	}
	ctx, span := s.tracer.Start(ctx, "otp.ListRecentSessions")
	defer span.End()

	limit = auditrepo.ClampLimit(limit)
	span.SetAttributes(attribute.Int("otp.limit", limit))
	recs, err := s.auditReader.ListRecent(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return recs, nil
}

// ReportExpired records a session removed by the store reaper.
func (s *Service) ReportExpired(sess *domain.Session) {
	s.record(auditdomain.EventExpired, sess, s.nowF())
}

func (s *Service) record(t auditdomain.EventType, sess *domain.Session, at time.Time) {
	if s.audit == nil {
		return
	}
	s.audit.Record(audit.NewEvent(t, sess, at))
}

func verifyResultLabel(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, domain.ErrCodeExpired):
		return "expired"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "not_found"
	case domain.IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}
