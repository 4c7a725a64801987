package store

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

// sweepTimeout bounds a single sweep run.
const sweepTimeout = 30 * time.Second

// Reaper periodically sweeps expired sessions out of a Sweeper and reports each one.
// Lazy expiry at verification time stays authoritative; the reaper only reclaims sessions nobody touched.
type Reaper struct {
	sweeper   Sweeper
	onExpired func(*domain.Session)
	logger    *zap.Logger
	cron      *cron.Cron
	nowF      func() time.Time
}

// NewReaper schedules a sweep every interval. onExpired may be nil.
func NewReaper(sweeper Sweeper, interval time.Duration, onExpired func(*domain.Session), logger *zap.Logger) (*Reaper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("reaper: interval must be positive, got %v", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reaper{
		sweeper:   sweeper,
		onExpired: onExpired,
		logger:    logger.Named("reaper"),
		cron:      cron.New(),
		nowF:      time.Now,
	}
	if _, err := r.cron.AddFunc("@every "+interval.String(), r.run); err != nil {
		return nil, fmt.Errorf("reaper: schedule: %w", err)
	}
	return r, nil
}

// Start begins the schedule in its own goroutine.
func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (r *Reaper) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (r *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	r.SweepOnce(ctx)
}

// SweepOnce runs one sweep and returns how many sessions were reaped.
func (r *Reaper) SweepOnce(ctx context.Context) int {
	reaped, err := r.sweeper.Sweep(ctx, r.nowF())
	if err != nil {
		r.logger.Warn("sweep failed", zap.Error(err), zap.Int("reaped", len(reaped)))
	}
	for _, s := range reaped {
		if r.onExpired != nil {
			r.onExpired(s)
		}
	}
	if len(reaped) > 0 {
		r.logger.Debug("reaped expired sessions", zap.Int("count", len(reaped)))
	}
	return len(reaped)
}
