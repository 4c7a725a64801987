// Package audit mirrors OTP session lifecycle events into durable and streaming sinks.
// Recording is fire-and-forget: sink failures are logged and never reach the caller.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
	auditrepo "github.com/ShiroSan123/otp-valhalla/internal/audit/repository"
)

// sinkTimeout is the max time allowed for a single sink write.
const sinkTimeout = 5 * time.Second

// DefaultBufferSize is the queue capacity used when NewRecorder is given a non-positive size.
const DefaultBufferSize = 1024

// Sink receives lifecycle events.
type Sink interface {
	Record(ctx context.Context, e domain.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e domain.Event) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, e domain.Event) error {
	return f(ctx, e)
}

// RepositorySink writes events to an audit repository: created upserts the full record,
// terminal events update status and verification time.
type RepositorySink struct {
	repo auditrepo.Repository
}

// NewRepositorySink returns a Sink over repo.
func NewRepositorySink(repo auditrepo.Repository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Record persists e.
func (s *RepositorySink) Record(ctx context.Context, e domain.Event) error {
	switch e.Type {
	case domain.EventCreated:
		rec := e.Record
		return s.repo.Upsert(ctx, &rec)
	case domain.EventVerified, domain.EventExpired:
		return s.repo.UpdateStatus(ctx, e.Record.ID, e.Record.Status, e.Record.VerifiedAt)
	default:
		return errors.New("audit: unknown event type " + string(e.Type))
	}
}

type namedSink struct {
	name string
	sink Sink
}

// Recorder queues events and delivers them to every registered sink from a single goroutine,
// so a session's created event always reaches a sink before its terminal event.
type Recorder struct {
	logger *zap.Logger
	queue  chan domain.Event
	sinks  []namedSink
	done   chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewRecorder returns a Recorder with the given queue capacity. Register sinks, then call Start.
func NewRecorder(logger *zap.Logger, bufferSize int) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Recorder{
		logger: logger.Named("audit"),
		queue:  make(chan domain.Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Register adds a sink. It has no effect after Start.
func (r *Recorder) Register(name string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || s == nil {
		return
	}
	r.sinks = append(r.sinks, namedSink{name: name, sink: s})
}

// Start launches the delivery goroutine. Calling it twice is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.run()
}

// Record enqueues e without blocking. When the queue is full or the recorder is closed the event is dropped and logged.
func (r *Recorder) Record(e domain.Event) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("audit event after close dropped", zap.String("session_id", e.Record.ID), zap.String("event_type", string(e.Type)))
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("audit queue full, event dropped", zap.String("session_id", e.Record.ID), zap.String("event_type", string(e.Type)))
	}
}

// Close stops accepting events and waits until queued events are delivered or ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.deliver(e)
	}
}

func (r *Recorder) deliver(e domain.Event) {
	for _, ns := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := ns.sink.Record(ctx, e)
		cancel()
		if err != nil {
			r.logger.Error("audit sink write failed",
				zap.String("sink", ns.name),
				zap.String("session_id", e.Record.ID),
				zap.String("event_type", string(e.Type)),
				zap.Error(err),
			)
		}
	}
}
