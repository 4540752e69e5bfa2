// Package sweeper periodically removes expired credentials and sessions
// once they fall outside the retention window.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/telemetry"
)

// ErrBusy is returned by RunOnce when a sweep is already in progress.
var ErrBusy = errors.New("sweep already running")

// Config controls the sweep schedule.
type Config struct {
	Interval  time.Duration
	Retention time.Duration
	// Timeout bounds a single sweep; zero means Interval.
	Timeout time.Duration
}

// Sweeper runs store.SweepExpired on a fixed interval. Only one sweep runs at
// a time; a tick that fires while a sweep is still running is skipped.
type Sweeper struct {
	store   store.Store
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	clock   clock.Clock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Sweeper. A nil clk means the wall clock.
func New(st store.Store, cfg Config, clk clock.Clock, logger *slog.Logger, metrics *telemetry.Metrics) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	return &Sweeper{store: st, cfg: cfg, logger: logger, metrics: metrics, clock: clk}
}

// Start begins the background loop. It is a no-op when Interval is zero.
func (s *Sweeper) Start() {
	if s.cfg.Interval <= 0 {
		s.logger.Info("periodic sweep disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	ticker := s.clock.Ticker(s.cfg.Interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("periodic sweep started", "interval", s.cfg.Interval, "retention", s.cfg.Retention)
}

// tick starts a sweep in its own goroutine so a slow sweep never blocks the
// ticker; overlapping ticks are dropped.
func (s *Sweeper) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.SweepSkipped()
		s.logger.Warn("previous sweep still running, skipping cycle")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		sctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		if _, err := s.sweep(sctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("sweep failed", "error", err)
		}
	}()
}

// RunOnce performs a sweep immediately. It returns ErrBusy if one is
// already running.
func (s *Sweeper) RunOnce(ctx context.Context) (store.SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return store.SweepResult{}, ErrBusy
	}
	defer s.running.Store(false)
	return s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) (store.SweepResult, error) {
	start := s.clock.Now()
	cutoff := start.Add(-s.cfg.Retention)

	res, err := s.store.SweepExpired(ctx, cutoff)
	if err != nil {
		return res, err
	}
	s.metrics.SweepRemoved(res.Credentials, res.Sessions)
	s.logger.Info("sweep complete",
		"credentials", res.Credentials,
		"sessions", res.Sessions,
		"cutoff", cutoff,
		"duration_ms", s.clock.Since(start).Milliseconds(),
	)
	return res, nil
}

// Shutdown stops the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
