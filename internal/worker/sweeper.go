package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweepFunc removes scratch files older than maxAge.
type SweepFunc func(maxAge time.Duration) (int, error)

// Sweeper periodically removes stale scratch files.
type Sweeper struct {
	sweep    SweepFunc
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSweeper creates a new sweeper.
func NewSweeper(sweep SweepFunc, interval, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Sweeper{
		sweep:    sweep,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs one sweep immediately and then one per interval.
func (s *Sweeper) Start() {
	s.logger.Info("starting sweeper", "interval", s.interval.String(), "max_age", s.maxAge.String())

	s.wg.Add(1)
	go s.loop()
}

// Stop stops the sweeper.
func (s *Sweeper) Stop(timeout time.Duration) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweeper stopped")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	s.runOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Sweeper) runOnce() {
	if _, err := s.sweep(s.maxAge); err != nil {
		s.logger.Warn("sweep failed", "error", err)
	}
}
