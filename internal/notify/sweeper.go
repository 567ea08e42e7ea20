package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const redeliveryBatchSize = 100

// Sweeper periodically retries deliveries whose backoff window has elapsed.
type Sweeper struct {
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewSweeper creates a redelivery sweeper. Interval defaults to 60s when zero.
func NewSweeper(dispatcher *Dispatcher, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the redelivery loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in redelivery sweeper", "panic", fmt.Sprint(r))
		}
	}()

	counters, err := s.dispatcher.RedeliverDue(ctx, redeliveryBatchSize)
	if err != nil {
		s.logger.Warn("redelivery sweep failed", "error", err)
		return
	}
	if counters.Attempted > 0 {
		s.logger.Info("redelivery sweep",
			"attempted", counters.Attempted,
			"delivered", counters.Delivered,
			"failed", counters.Failed,
		)
	}
}
