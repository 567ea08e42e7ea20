// Package jobs provides fire-and-forget background execution.
//
// Producers enqueue a named unit of work; a small worker pool executes it
// with panic recovery. Enqueue never blocks and never fails the caller: if
// the queue is full or the runner is stopped, the job is dropped and logged.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentic",
		Subsystem: "jobs",
		Name:      "enqueued_total",
		Help:      "Total background jobs enqueued by name.",
	}, []string{"name"})

	jobsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentic",
		Subsystem: "jobs",
		Name:      "dropped_total",
		Help:      "Total background jobs dropped because the queue was full or stopped.",
	}, []string{"name"})

	jobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentic",
		Subsystem: "jobs",
		Name:      "failed_total",
		Help:      "Total background jobs that returned an error or panicked.",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(jobsEnqueued, jobsDropped, jobsFailed)
}

// Job is a unit of background work. The context carries the runner's
// lifetime; jobs should respect cancellation at their own checkpoints.
type Job func(ctx context.Context) error

type queued struct {
	name string
	fn   Job
}

// Runner executes enqueued jobs on a fixed worker pool.
type Runner struct {
	logger  *slog.Logger
	queue   chan queued
	timeout time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a Runner with the given worker count and queue depth.
func NewRunner(workers, depth int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 256
	}
	r := &Runner{
		logger:  logger,
		queue:   make(chan queued, depth),
		timeout: 30 * time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	return r
}

// Enqueue submits a job. It never blocks and never panics: when the queue is
// saturated or the runner has stopped, the job is dropped with a warning.
func (r *Runner) Enqueue(name string, fn Job) {
	// The send happens under the mutex so Stop cannot close the queue
	// between the stopped check and the send. The send itself is
	// non-blocking, so holding the lock here is cheap.
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		jobsDropped.WithLabelValues(name).Inc()
		r.logger.Warn("job dropped, runner stopped", "job", name)
		return
	}
	select {
	case r.queue <- queued{name: name, fn: fn}:
		r.mu.Unlock()
		jobsEnqueued.WithLabelValues(name).Inc()
	default:
		r.mu.Unlock()
		jobsDropped.WithLabelValues(name).Inc()
		r.logger.Warn("job dropped, queue full", "job", name)
	}
}

// Stop prevents new jobs from being accepted, cancels the worker context,
// and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for job := range r.queue {
		r.run(ctx, job)
	}
}

func (r *Runner) run(ctx context.Context, job queued) {
	defer func() {
		if rec := recover(); rec != nil {
			jobsFailed.WithLabelValues(job.name).Inc()
			r.logger.Error("panic in background job", "job", job.name, "panic", fmt.Sprint(rec))
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := job.fn(jobCtx); err != nil {
		jobsFailed.WithLabelValues(job.name).Inc()
		r.logger.Warn("background job failed", "job", job.name, "error", err)
	}
}
