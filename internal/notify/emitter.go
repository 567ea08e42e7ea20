package notify

import (
	"context"
	"log/slog"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/jobs"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/run"
)

// Emitter pushes run notifications off the request path. All methods are
// fire-and-forget: errors are logged but never returned to the caller.
type Emitter struct {
	dispatcher *Dispatcher
	jobs       *jobs.Runner
	logger     *slog.Logger
}

// NewEmitter creates a new notification emitter.
func NewEmitter(dispatcher *Dispatcher, runner *jobs.Runner, logger *slog.Logger) *Emitter {
	return &Emitter{dispatcher: dispatcher, jobs: runner, logger: logger}
}

// EmitRunFinished enqueues webhook dispatch for a run that just reached a
// terminal status. Non-terminal runs are ignored.
func (e *Emitter) EmitRunFinished(r *run.Run) {
	if e == nil || e.dispatcher == nil {
		return
	}
	if _, ok := EventForRunStatus(r.Status); !ok {
		return
	}
	runCopy := *r
	e.jobs.Enqueue("notify.run_finished", func(ctx context.Context) error {
		counters, _, err := e.dispatcher.DispatchForRun(ctx, &runCopy)
		if err != nil {
			e.logger.Warn("run notification dispatch failed",
				"runId", runCopy.ID, "status", string(runCopy.Status), "error", err)
			return err
		}
		e.logger.Info("run notifications dispatched",
			"runId", runCopy.ID,
			"attempted", counters.Attempted,
			"delivered", counters.Delivered,
			"failed", counters.Failed,
			"skipped", counters.Skipped,
		)
		return nil
	})
}
