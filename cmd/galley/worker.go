package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/galleyhq/galley/internal/chef"
	"github.com/galleyhq/galley/internal/model"
)

var workerQueue string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a job worker draining a queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context())
	},
}

func init() {
	workerCmd.Flags().StringVarP(&workerQueue, "queue", "q", "", "Queue to drain (defaults to GALLEY_WORKER_QUEUE)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	queue := workerQueue
	if queue == "" {
		queue = a.cfg.WorkerQueue
	}
	if !model.ValidQueue(queue) {
		return fmt.Errorf("unknown queue %q (valid: %v)", queue, model.QueueNames)
	}

	a.logger.Info("worker starting", "version", version, "queue", queue,
		"concurrency", a.cfg.WorkerConcurrency)

	worker := chef.NewWorker(a.chef, a.db, queue, a.logger,
		a.cfg.WorkerPoll, a.cfg.WorkerBatchSize, a.cfg.WorkerConcurrency)
	worker.Start(ctx)

	// Finished jobs are retained for inspection, then reaped.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := a.db.CleanupJobs(ctx, a.cfg.JobCleanupTTL); err != nil {
					a.logger.Warn("job cleanup failed", "error", err)
				} else if n > 0 {
					a.logger.Info("job cleanup", "removed", n)
				}
			}
		}
	}()

	<-ctx.Done()
	a.logger.Info("worker shutting down", "drain_timeout", a.cfg.DrainTimeout)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), a.cfg.DrainTimeout)
	defer drainCancel()
	worker.Drain(drainCtx)

	a.logger.Info("worker stopped")
	return nil
}
