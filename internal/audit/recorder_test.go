package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
)

type collectSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
	block  chan struct{}
}

func (s *collectSink) Record(ctx context.Context, e domain.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *collectSink) snapshot() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

func event(t domain.EventType, id string) domain.Event {
	return domain.Event{Type: t, Record: domain.SessionRecord{ID: id}, OccurredAt: time.Now()}
}

func TestRecorder_DeliversInOrderToAllSinks(t *testing.T) {
	a, b := &collectSink{}, &collectSink{}
	r := NewRecorder(zap.NewNop(), 16)
	r.Register("a", a)
	r.Register("b", b)
	r.Start()

	r.Record(event(domain.EventCreated, "s-1"))
	r.Record(event(domain.EventVerified, "s-1"))
	r.Record(event(domain.EventCreated, "s-2"))
	require.NoError(t, r.Close(context.Background()))

	for _, s := range []*collectSink{a, b} {
		got := s.snapshot()
		require.Len(t, got, 3)
		assert.Equal(t, domain.EventCreated, got[0].Type)
		assert.Equal(t, domain.EventVerified, got[1].Type)
		assert.Equal(t, "s-2", got[2].Record.ID)
	}
}

func TestRecorder_SinkFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	failing := &collectSink{err: errors.New("db down")}
	ok := &collectSink{}

	r := NewRecorder(zap.New(core), 4)
	r.Register("postgres", failing)
	r.Register("kafka", ok)
	r.Start()
	r.Record(event(domain.EventExpired, "s-9"))
	require.NoError(t, r.Close(context.Background()))

	assert.Len(t, ok.snapshot(), 1)
	entries := logs.FilterMessage("audit sink write failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "postgres", entries[0].ContextMap()["sink"])
	assert.Equal(t, "s-9", entries[0].ContextMap()["session_id"])
}

func TestRecorder_FullQueueDrops(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	// Not started, so nothing drains the queue.
	r := NewRecorder(zap.New(core), 1)
	r.Record(event(domain.EventCreated, "s-1"))
	r.Record(event(domain.EventCreated, "s-2"))

	assert.Equal(t, 1, logs.FilterMessage("audit queue full, event dropped").Len())
	require.NoError(t, r.Close(context.Background()))
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRecorder(zap.New(core), 1)
	r.Start()
	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))

	r.Record(event(domain.EventCreated, "s-1"))
	assert.Equal(t, 1, logs.FilterMessage("audit event after close dropped").Len())
}

func TestRecorder_CloseHonorsContext(t *testing.T) {
	s := &collectSink{block: make(chan struct{})}
	r := NewRecorder(zap.NewNop(), 4)
	r.Register("slow", s)
	r.Start()
	r.Record(event(domain.EventCreated, "s-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	close(s.block)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.Record(event(domain.EventCreated, "s-1"))
}

type fakeRepo struct {
	upserts []domain.SessionRecord
	updates []string
	err     error
}

func (f *fakeRepo) Upsert(_ context.Context, rec *domain.SessionRecord) error {
	f.upserts = append(f.upserts, *rec)
	return f.err
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id, status string, _ *time.Time) error {
	f.updates = append(f.updates, id+":"+status)
	return f.err
}

func (f *fakeRepo) ListRecent(context.Context, int) ([]*domain.SessionRecord, error) {
	return nil, nil
}

func TestRepositorySink(t *testing.T) {
	repo := &fakeRepo{}
	sink := NewRepositorySink(repo)
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, domain.Event{Type: domain.EventCreated, Record: domain.SessionRecord{ID: "s-1", Status: "pending"}}))
	require.NoError(t, sink.Record(ctx, domain.Event{Type: domain.EventVerified, Record: domain.SessionRecord{ID: "s-1", Status: "verified"}}))
	require.NoError(t, sink.Record(ctx, domain.Event{Type: domain.EventExpired, Record: domain.SessionRecord{ID: "s-2", Status: "expired"}}))
	assert.Error(t, sink.Record(ctx, domain.Event{Type: "bogus"}))

	require.Len(t, repo.upserts, 1)
	assert.Equal(t, "s-1", repo.upserts[0].ID)
	assert.Equal(t, []string{"s-1:verified", "s-2:expired"}, repo.updates)
}

func TestSinkFunc(t *testing.T) {
	var got domain.EventType
	var s Sink = SinkFunc(func(_ context.Context, e domain.Event) error {
		got = e.Type
		return nil
	})
	require.NoError(t, s.Record(context.Background(), event(domain.EventExpired, "x")))
	assert.Equal(t, domain.EventExpired, got)
}
