package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	auditdomain "github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
	identityservice "github.com/ShiroSan123/otp-valhalla/internal/identity/service"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/delivery"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/store"
	"github.com/ShiroSan123/otp-valhalla/internal/qr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []auditdomain.Event
}

func (r *fakeRecorder) Record(e auditdomain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *fakeRecorder) types() []auditdomain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auditdomain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// gatewayStrategy stands in for the remote verification API.
type gatewayStrategy struct {
	issueErr error
	checkErr error
	checks   atomic.Int32
}

func (g *gatewayStrategy) Provider() domain.Provider { return domain.ProviderTwilio }

func (g *gatewayStrategy) Issue(ctx context.Context, phone string) (*delivery.Dispatch, error) {
	if g.issueErr != nil {
		return nil, g.issueErr
	}
	return &delivery.Dispatch{SessionID: "VE" + strings.TrimPrefix(phone, "+")}, nil
}

func (g *gatewayStrategy) Check(ctx context.Context, s *domain.Session, code string) error {
	g.checks.Add(1)
	return g.checkErr
}

type fakeProvisioner struct {
	err   error
	calls atomic.Int32
}

func (p *fakeProvisioner) Ensure(ctx context.Context, phone string) (*identityservice.Result, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &identityservice.Result{UserID: "user-" + phone, Created: true}, nil
}

type failingQR struct{}

func (failingQR) Build(*domain.Session, time.Time) (*domain.QRArtifact, error) {
	return nil, errors.New("payload too large for qr")
}

type fakeReader struct {
	gotLimit int
	recs     []*auditdomain.SessionRecord
	err      error
}

func (f *fakeReader) ListRecent(ctx context.Context, limit int) ([]*auditdomain.SessionRecord, error) {
	f.gotLimit = limit
	return f.recs, f.err
}

type fixture struct {
	svc      *Service
	store    *store.MemoryStore
	clock    *fakeClock
	recorder *fakeRecorder
}

func newFixture(t *testing.T, deps Deps, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		recorder: &fakeRecorder{},
	}
	if deps.Store == nil {
		deps.Store = f.store
	}
	if deps.Strategy == nil {
		deps.Strategy = delivery.Select(delivery.Settings{Brand: "Valhalla"}, zap.NewNop())
	}
	if deps.Audit == nil {
		deps.Audit = f.recorder
	}
	if opts.TTL == 0 {
		opts.TTL = 5 * time.Minute
	}
	f.svc = NewService(deps, opts, WithClock(f.clock.Now))
	return f
}

func mockOptions() Options {
	return Options{ExposeMockCode: true, ReportMaxBytes: 1024}
}

func TestMockFlow_EndToEnd(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	ctx := context.Background()

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "8 999 123 45 67"})
	require.NoError(t, err)
	assert.True(t, req.Mock)
	assert.Len(t, req.MockCode, 6)
	assert.Equal(t, 300, req.ExpiresInSeconds)

	res, err := f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "+79991234567", res.Phone)
	assert.Nil(t, res.IdentityUserID)

	_, err = f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	assert.Equal(t, []auditdomain.EventType{auditdomain.EventCreated, auditdomain.EventVerified}, f.recorder.types())
	assert.Equal(t, 0, f.store.Len())
}

func TestRequestOTP_StoresHashNotCode(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	req, err := f.svc.RequestOTP(context.Background(), RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)

	sess, err := f.store.Get(context.Background(), req.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.SecretHash)
	assert.NotEqual(t, req.MockCode, sess.SecretHash)
	assert.Equal(t, domain.StatusPending, sess.Status)
	assert.True(t, sess.ExpiresAt.Equal(f.clock.Now().Add(5*time.Minute)))
}

func TestRequestOTP_FormattedInternationalPhone(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	req, err := f.svc.RequestOTP(context.Background(), RequestInput{Phone: "+7 (999) 123-45-67"})
	require.NoError(t, err)

	sess, err := f.store.Get(context.Background(), req.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "+79991234567", sess.Phone)
}

func TestRequestOTP_MockCodeHidden(t *testing.T) {
	f := newFixture(t, Deps{}, Options{ExposeMockCode: false})
	req, err := f.svc.RequestOTP(context.Background(), RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)
	assert.True(t, req.Mock)
	assert.Empty(t, req.MockCode)
}

func TestRequestOTP_InvalidPhone(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	for _, p := range []string{"", "   ", "no digits", "+", "+abc"} {
		_, err := f.svc.RequestOTP(context.Background(), RequestInput{Phone: p})
		assert.ErrorIs(t, err, domain.ErrInvalidPhone, "phone %q", p)
	}
	assert.Empty(t, f.recorder.types())
}

func TestRequestOTP_Report(t *testing.T) {
	f := newFixture(t, Deps{QR: qr.NewBuilder("Valhalla", 128)}, Options{ReportMaxBytes: 64})
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567", Report: json.RawMessage(`{"note":"` + strings.Repeat("x", 80) + `"}`)})
	assert.ErrorIs(t, err, domain.ErrReportTooLarge)

	_, err = f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567", Report: json.RawMessage(`{broken`)})
	assert.ErrorIs(t, err, domain.ErrInvalidReport)

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567", Report: json.RawMessage(` {"tier":"gold"} `)})
	require.NoError(t, err)
	require.NotNil(t, req.QR)
	assert.Contains(t, req.QR.Payload, `"report":{"tier":"gold"}`)
	assert.True(t, strings.HasPrefix(req.QR.Image, "data:image/png;base64,"))

	sess, err := f.store.Get(ctx, req.SessionID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":"gold"}`, string(sess.Metadata))

	req, err = f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567", Report: json.RawMessage(`null`)})
	require.NoError(t, err)
	sess, err = f.store.Get(ctx, req.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess.Metadata)
}

func TestRequestOTP_QRFailureIsNonFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, Deps{QR: failingQR{}, Logger: zap.New(core)}, mockOptions())

	req, err := f.svc.RequestOTP(context.Background(), RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)
	assert.Nil(t, req.QR)
	assert.Equal(t, 1, logs.FilterMessage("qr generation failed").Len())
}

func TestRequestOTP_DeliveryErrorPassesThrough(t *testing.T) {
	gw := &gatewayStrategy{issueErr: &domain.DeliveryError{Provider: domain.ProviderTwilio, Message: "Invalid parameter `To`"}}
	f := newFixture(t, Deps{Strategy: gw}, Options{})

	_, err := f.svc.RequestOTP(context.Background(), RequestInput{Phone: "+79991234567"})
	var de *domain.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Invalid parameter `To`", de.Message)
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.recorder.types())
}

func TestRequestOTP_GatewaySession(t *testing.T) {
	gw := &gatewayStrategy{}
	f := newFixture(t, Deps{Strategy: gw}, mockOptions())

	req, err := f.svc.RequestOTP(context.Background(), RequestInput{Phone: "9991234567"})
	require.NoError(t, err)
	assert.Equal(t, "VE79991234567", req.SessionID)
	assert.False(t, req.Mock)
	assert.Empty(t, req.MockCode)

	sess, err := f.store.Get(context.Background(), req.SessionID)
	require.NoError(t, err)
	assert.Empty(t, sess.SecretHash)
	assert.Equal(t, domain.ProviderTwilio, sess.Provider)
}

func TestVerifyOTP_MissingFields(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	for _, tc := range [][2]string{{"", "123456"}, {"abc", ""}, {"  ", "  "}} {
		_, err := f.svc.VerifyOTP(context.Background(), tc[0], tc[1])
		assert.ErrorIs(t, err, domain.ErrMissingFields)
	}
}

func TestVerifyOTP_UnknownSession(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	_, err := f.svc.VerifyOTP(context.Background(), "nope", "123456")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestVerifyOTP_ExpiryBoundary(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	ctx := context.Background()

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
	assert.ErrorIs(t, err, domain.ErrCodeExpired)
	assert.Equal(t, 0, f.store.Len())

	_, err = f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	types := f.recorder.types()
	require.Len(t, types, 2)
	assert.Equal(t, auditdomain.EventExpired, types[1])
	assert.Equal(t, "expired", f.recorder.events[1].Record.Status)
}

func TestVerifyOTP_JustBeforeExpiry(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	ctx := context.Background()

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute - time.Nanosecond)
	res, err := f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestVerifyOTP_WrongCodeAllowsRetry(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	ctx := context.Background()

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)

	wrong := "000000"
	if req.MockCode == wrong {
		wrong = "111111"
	}
	_, err = f.svc.VerifyOTP(ctx, req.SessionID, wrong)
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
	assert.Equal(t, 1, f.store.Len())

	res, err := f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestVerifyOTP_ConcurrentSingleSuccess(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	ctx := context.Background()

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)

	const n = 32
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		notFound  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrCodeExpired):
				notFound.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(n-1), notFound.Load())

	verified := 0
	for _, tp := range f.recorder.types() {
		if tp == auditdomain.EventVerified {
			verified++
		}
	}
	assert.Equal(t, 1, verified)
	assert.Equal(t, 0, f.svc.locks.size())
}

// racingStore simulates another replica removing the session between Get and Delete.
type racingStore struct {
	*store.MemoryStore
}

func (r racingStore) Delete(ctx context.Context, id string) (bool, error) {
	_, _ = r.MemoryStore.Delete(ctx, id)
	return false, nil
}

func TestVerifyOTP_LostDeleteIsNotSuccess(t *testing.T) {
	mem := store.NewMemoryStore()
	f := newFixture(t, Deps{Store: racingStore{mem}}, mockOptions())
	ctx := context.Background()

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, []auditdomain.EventType{auditdomain.EventCreated}, f.recorder.types())
}

func TestVerifyOTP_GatewayRejectionKeepsSession(t *testing.T) {
	gw := &gatewayStrategy{checkErr: &domain.DeliveryError{Provider: domain.ProviderTwilio, Message: "Max check attempts reached"}}
	f := newFixture(t, Deps{Strategy: gw}, Options{})
	ctx := context.Background()

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, req.SessionID, "123456")
	var de *domain.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Max check attempts reached", de.Message)
	assert.Equal(t, 1, f.store.Len())

	gw.checkErr = nil
	res, err := f.svc.VerifyOTP(ctx, req.SessionID, "123456")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(2), gw.checks.Load())
}

func TestVerifyOTP_Provisioning(t *testing.T) {
	prov := &fakeProvisioner{}
	f := newFixture(t, Deps{Provisioner: prov}, mockOptions())
	ctx := context.Background()

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)
	res, err := f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
	require.NoError(t, err)
	require.NotNil(t, res.IdentityUserID)
	assert.Equal(t, "user-+79991234567", *res.IdentityUserID)
	require.NotNil(t, res.IdentityUserCreated)
	assert.True(t, *res.IdentityUserCreated)
}

func TestVerifyOTP_ProvisioningFailureStillSucceeds(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	prov := &fakeProvisioner{err: errors.New("supabase: list users: 503")}
	f := newFixture(t, Deps{Provisioner: prov, Logger: zap.New(core)}, mockOptions())
	ctx := context.Background()

	req, err := f.svc.RequestOTP(ctx, RequestInput{Phone: "+79991234567"})
	require.NoError(t, err)
	res, err := f.svc.VerifyOTP(ctx, req.SessionID, req.MockCode)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.IdentityUserID)
	assert.Nil(t, res.IdentityUserCreated)
	assert.Equal(t, 1, logs.FilterMessage("identity provisioning failed").Len())
}

func TestListRecentSessions(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	_, err := f.svc.ListRecentSessions(context.Background(), 10)
	assert.ErrorIs(t, err, domain.ErrAuditUnavailable)

	reader := &fakeReader{recs: []*auditdomain.SessionRecord{{ID: "s-1"}}}
	f = newFixture(t, Deps{AuditReader: reader}, mockOptions())

	recs, err := f.svc.ListRecentSessions(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, 50, reader.gotLimit)

	_, err = f.svc.ListRecentSessions(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 200, reader.gotLimit)

	reader.err = errors.New("connection refused")
	_, err = f.svc.ListRecentSessions(context.Background(), 10)
	require.Error(t, err)
	assert.False(t, domain.IsClientError(err))
}

func TestReportExpired(t *testing.T) {
	f := newFixture(t, Deps{}, mockOptions())
	f.svc.ReportExpired(&domain.Session{ID: "s-1", Provider: domain.ProviderMock, Status: domain.StatusPending})
	require.Len(t, f.recorder.events, 1)
	assert.Equal(t, auditdomain.EventExpired, f.recorder.events[0].Type)
	assert.Equal(t, "expired", f.recorder.events[0].Record.Status)
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(Deps{Store: store.NewMemoryStore(), Strategy: &gatewayStrategy{}}, Options{})
	assert.Equal(t, DefaultTTL, svc.ttl)
	assert.Equal(t, "7", svc.normalizer.CountryCode)
	assert.Equal(t, domain.ProviderTwilio, svc.Provider())
}
