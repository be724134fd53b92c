package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default retention schedule.
const (
	DefaultHorizon       = 365 * 24 * time.Hour
	DefaultSweepInterval = 24 * time.Hour
	DefaultRetryInterval = time.Hour
)

// Purger deletes audit records older than a cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper enforces the retention horizon: it purges once at start and then
// every interval. A failed sweep is retried after retryInterval.
type Sweeper struct {
	purger        Purger
	horizon       time.Duration
	interval      time.Duration
	retryInterval time.Duration
	now           func() time.Time
	wg            sync.WaitGroup
	quit          chan struct{}
	stopOnce      sync.Once
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithClock overrides the time source used to compute the cutoff.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a sweeper. Non-positive durations fall back to the defaults.
func NewSweeper(purger Purger, horizon, interval, retryInterval time.Duration, opts ...SweeperOption) *Sweeper {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	s := &Sweeper{
		purger:        purger,
		horizon:       horizon,
		interval:      interval,
		retryInterval: retryInterval,
		now:           time.Now,
		quit:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the sweep loop in a separate goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		slog.InfoContext(ctx, "Retention sweeper started", "horizon", s.horizon, "interval", s.interval)

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				next := s.interval
				if _, err := s.Sweep(ctx); err != nil {
					slog.ErrorContext(ctx, "Retention sweep failed", "error", err, "retryIn", s.retryInterval)
					next = s.retryInterval
				}
				timer.Reset(next)
			case <-s.quit:
				slog.InfoContext(ctx, "Retention sweeper shutting down")
				return
			case <-ctx.Done():
				slog.InfoContext(ctx, "Context cancelled, retention sweeper shutting down")
				return
			}
		}
	}()
}

// Sweep purges everything older than now minus the horizon.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.horizon)
	deleted, err := s.purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "Retention sweep completed",
		"deleted", deleted, "cutoff", cutoff.Format(time.RFC3339), "horizon", s.horizon)
	return deleted, nil
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
}
