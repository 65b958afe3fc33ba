// Package scheduler decides when scheduled recipes are due and dispatches
// them through the chef.
//
// The loop is deliberately stateless: due-ness is computed from each
// recipe's directive and its persisted last_run, so a restarted scheduler
// picks up exactly where the previous one left off. Dispatch failures are
// logged and skipped; the recipe stays eligible for the next tick. There is
// no backoff here: a recipe in error status remains dispatchable and any
// quarantine policy belongs to an operator, not this loop.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/option"
)

// Dispatcher is the dispatch surface the scheduler consumes.
type Dispatcher interface {
	Cook(ctx context.Context, recipeID uuid.UUID, kwargs map[string]any, queue string) (uuid.UUID, error)
}

// RecipeLister returns recipes eligible for scheduling.
type RecipeLister interface {
	ListScheduledRecipes(ctx context.Context) ([]*model.Recipe, error)
}

// Scheduler periodically scans scheduled recipes and dispatches due ones.
type Scheduler struct {
	recipes  RecipeLister
	chef     Dispatcher
	logger   *slog.Logger
	interval time.Duration
	queue    string
}

// New creates a scheduler that dispatches onto the given queue.
func New(recipes RecipeLister, chef Dispatcher, logger *slog.Logger, interval time.Duration, queue string) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		recipes:  recipes,
		chef:     chef,
		logger:   logger,
		interval: interval,
		queue:    queue,
	}
}

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().UTC())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	recipes, err := s.recipes.ListScheduledRecipes(ctx)
	if err != nil {
		s.logger.Error("scheduler: list recipes", "error", err)
		return
	}

	dispatched := 0
	for _, r := range recipes {
		if !Due(r, now) {
			continue
		}
		if _, err := s.chef.Cook(ctx, r.ID, nil, s.queue); err != nil {
			s.logger.Warn("scheduler: dispatch failed", "recipe", r.Slug, "error", err)
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		s.logger.Info("scheduler: tick", "dispatched", dispatched, "eligible", len(recipes))
	}
}

// Due reports whether a recipe's directive has fired since its last run.
// A recipe that has never run is due immediately.
func Due(r *model.Recipe, now time.Time) bool {
	switch {
	case r.Interval > 0:
		if r.LastRun == nil {
			return true
		}
		return now.Sub(*r.LastRun) >= time.Duration(r.Interval)*time.Second

	case r.TimeOfDay != "":
		clock, err := time.Parse("15:04", r.TimeOfDay)
		if err != nil {
			return false
		}
		fire := time.Date(now.Year(), now.Month(), now.Day(),
			clock.Hour(), clock.Minute(), 0, 0, time.UTC)
		if now.Before(fire) {
			return false
		}
		return r.LastRun == nil || r.LastRun.Before(fire)

	case r.Crontab != "":
		parsed, err := option.Validate("crontab", option.TypeCrontab, r.Crontab)
		if err != nil {
			return false
		}
		sched, ok := parsed.(cron.Schedule)
		if !ok {
			return false
		}
		// A recipe that has never run inherits a 24h lookback window so a
		// freshly scheduled crontab recipe fires on the first matching tick.
		last := now.Add(-24 * time.Hour)
		if r.LastRun != nil {
			last = *r.LastRun
		}
		return !sched.Next(last).After(now)
	}
	return false
}
