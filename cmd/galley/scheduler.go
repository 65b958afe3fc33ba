package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/galleyhq/galley/internal/scheduler"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the recipe scheduler loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScheduler(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("scheduler starting", "version", version,
		"interval", a.cfg.SchedulerInterval, "queue", a.cfg.SchedulerQueue)

	sched := scheduler.New(a.db, a.chef, a.logger, a.cfg.SchedulerInterval, a.cfg.SchedulerQueue)
	sched.Run(ctx)

	a.logger.Info("scheduler stopped")
	return nil
}
