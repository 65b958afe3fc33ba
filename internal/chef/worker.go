package chef

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/telemetry"
)

// JobSource is the worker side of the queue: claim leases a batch of queued
// jobs for this worker, Finish records a terminal status exactly once.
type JobSource interface {
	Claim(ctx context.Context, queue string, limit int) ([]*model.Job, error)
	Finish(ctx context.Context, job *model.Job) error
	Depth(ctx context.Context, queue string) (int64, error)
}

// Worker polls one named queue and executes claimed jobs through a Chef.
type Worker struct {
	chef         *Chef
	source       JobSource
	queue        string
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	concurrency  int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context for the final poll
}

// NewWorker creates a worker bound to a named queue.
func NewWorker(c *Chef, source JobSource, queue string, logger *slog.Logger, pollInterval time.Duration, batchSize, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		chef:         c,
		source:       source,
		queue:        queue,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		concurrency:  concurrency,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. Safe to call only once; subsequent
// calls are no-ops and log a warning.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("worker: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, runs a final claim pass, and blocks
// until done or the context expires.
func (w *Worker) Drain(ctx context.Context) {
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("worker: drain timed out", "queue", w.queue)
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx == nil {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			} else {
				w.processBatch(drainCtx)
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	jobs, err := w.source.Claim(ctx, w.queue, w.batchSize)
	if err != nil {
		w.logger.Error("worker: claim jobs", "queue", w.queue, "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			w.runJob(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

// runJob executes one job under its declared timeout and records the
// terminal status. Execution errors land on the recipe, not the queue: a
// failed job is finished, never redelivered.
func (w *Worker) runJob(ctx context.Context, job *model.Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now().UTC()
	job.Status = model.JobRunning
	job.StartedAt = &started

	execErr := w.chef.Execute(jobCtx, job)

	finished := time.Now().UTC()
	job.FinishedAt = &finished
	if execErr != nil {
		job.Status = model.JobError
		job.Error = execErr.Error()
	} else {
		job.Status = model.JobSuccess
	}

	if err := w.source.Finish(ctx, job); err != nil {
		w.logger.Error("worker: finish job", "job_id", job.ID, "error", err)
	}
	w.logger.Info("job finished",
		"job_id", job.ID, "queue", w.queue, "status", string(job.Status),
		"duration", finished.Sub(started))
}

// registerMetrics exposes the queue depth as an observable gauge.
func (w *Worker) registerMetrics() {
	meter := telemetry.Meter("galley/worker")

	_, _ = meter.Int64ObservableGauge("galley.queue.depth",
		metric.WithDescription("Number of queued jobs on this worker's queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			depth, err := w.source.Depth(ctx, w.queue)
			if err != nil {
				return nil // Non-fatal: skip this observation.
			}
			o.Observe(depth)
			return nil
		}),
	)
}
