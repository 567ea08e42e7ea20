package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const sweepBatchSize = 100

// Sweeper periodically finds expired pending requests and applies their
// timeout policy.
type Sweeper struct {
	engine   *Engine
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a timeout sweeper. Interval defaults to 30s when zero.
func NewSweeper(engine *Engine, store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		engine:   engine,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
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
			s.logger.Error("panic in approval sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.SweepOnce(ctx)
}

// SweepOnce processes one batch of expired requests, oldest expiry first.
// A failure on one request is logged and does not block the rest of the batch.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	expired, err := s.store.ListExpired(ctx, time.Now().UTC(), sweepBatchSize)
	if err != nil {
		s.logger.Warn("failed to list expired approval requests", "error", err)
		return
	}

	for _, req := range expired {
		outcome, err := s.engine.ApplyTimeoutPolicy(ctx, req.ID)
		if err != nil {
			s.logger.Warn("failed to apply timeout policy",
				"requestId", req.ID, "policy", string(req.TimeoutPolicy), "error", err)
			continue
		}
		if outcome.Action == ActionSkippedNonPending {
			continue
		}
		s.logger.Info("applied approval timeout policy",
			"requestId", req.ID,
			"agentId", req.AgentID,
			"action", outcome.Action,
		)
	}
}
