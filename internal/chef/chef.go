// Package chef dispatches validated recipes as asynchronous jobs and runs
// them on the worker side.
//
// Dispatch (Cook) and execution (Execute) are deliberately split: Cook runs
// in whatever process received the request and returns as soon as the job
// reference is on the queue; Execute runs in a worker pulling from that
// queue. Recipe status is the authoritative failure record, so Execute
// recovers every workflow error into persisted state and returns a typed
// error value instead of raising.
package chef

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/recipe"
	"github.com/galleyhq/galley/internal/stash"
	"github.com/galleyhq/galley/internal/workflow"
)

// ErrorKind classifies a dispatch or execution failure per the error
// taxonomy: schema and resolution errors surface synchronously before any
// queue interaction; execution and internal errors are recovered into
// persisted recipe state.
type ErrorKind string

const (
	KindSchema     ErrorKind = "schema"
	KindResolution ErrorKind = "resolution"
	KindExecution  ErrorKind = "execution"
	KindInternal   ErrorKind = "internal"
)

// Error is the typed error value returned by Cook and Execute.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s error: %v", e.Kind, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func kindErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// RecipeStore is the narrow persistence surface the dispatcher needs.
// Implementations are assumed transactional at single-entity granularity.
type RecipeStore interface {
	Recipe(ctx context.Context, id uuid.UUID) (*model.Recipe, error)
	SaveRecipe(ctx context.Context, r *model.Recipe) error
}

// SousChefStore loads descriptors by slug.
type SousChefStore interface {
	SousChef(ctx context.Context, slug string) (*model.SousChef, error)
}

// Queue accepts job references for worker consumption.
type Queue interface {
	Enqueue(ctx context.Context, job *model.Job) error
}

// Chef wires the dispatch and execution paths to their collaborators.
type Chef struct {
	recipes   RecipeStore
	sousChefs SousChefStore
	queue     Queue
	stash     stash.Stash
	registry  *workflow.Registry
	logger    *slog.Logger

	// kwargsTTL bounds how long stashed kwargs survive an unconsumed job.
	kwargsTTL time.Duration
}

// New creates a Chef. kwargsTTL should comfortably exceed the longest queue
// wait expected in production.
func New(recipes RecipeStore, sousChefs SousChefStore, queue Queue, st stash.Stash, reg *workflow.Registry, logger *slog.Logger, kwargsTTL time.Duration) *Chef {
	if kwargsTTL <= 0 {
		kwargsTTL = time.Hour
	}
	return &Chef{
		recipes:   recipes,
		sousChefs: sousChefs,
		queue:     queue,
		stash:     st,
		registry:  reg,
		logger:    logger,
		kwargsTTL: kwargsTTL,
	}
}

func kwargsKey(jobID uuid.UUID) string {
	return "galley:job:" + jobID.String() + ":kwargs"
}

// Cook dispatches one recipe execution and returns the job id immediately,
// without waiting for the run.
//
// The workflow is resolved first so bad configuration fails synchronously
// and never produces an orphaned queue entry. The running status and
// last_run stamp are persisted before the enqueue: a crash between the two
// leaves the recipe visibly running rather than silently stuck queued.
func (c *Chef) Cook(ctx context.Context, recipeID uuid.UUID, kwargs map[string]any, queueName string) (uuid.UUID, error) {
	if !model.ValidQueue(queueName) {
		return uuid.Nil, kindErr(KindSchema, "chef: unknown queue %q", queueName)
	}

	r, err := c.recipes.Recipe(ctx, recipeID)
	if err != nil {
		return uuid.Nil, kindErr(KindInternal, "chef: load recipe %s: %w", recipeID, err)
	}
	sc, err := c.sousChefs.SousChef(ctx, r.SousChef)
	if err != nil {
		return uuid.Nil, kindErr(KindInternal, "chef: load sous chef %q: %w", r.SousChef, err)
	}

	if _, err := c.registry.Resolve(sc.Runs); err != nil {
		return uuid.Nil, kindErr(KindResolution, "chef: sous chef %q: %w", sc.Slug, err)
	}
	if !model.CanTransition(r.Status, model.RecipeRunning) {
		return uuid.Nil, kindErr(KindSchema, "chef: recipe %s cannot run from status %s", r.Slug, r.Status)
	}

	now := time.Now().UTC()
	r.Status = model.RecipeRunning
	r.LastRun = &now
	if err := c.recipes.SaveRecipe(ctx, r); err != nil {
		return uuid.Nil, kindErr(KindInternal, "chef: persist running status for %s: %w", r.Slug, err)
	}

	job := &model.Job{
		ID:         uuid.New(),
		RecipeID:   r.ID,
		Queue:      queueName,
		Timeout:    c.registry.Timeout(sc.Runs),
		Status:     model.JobQueued,
		EnqueuedAt: now,
	}
	job.KwargsKey = kwargsKey(job.ID)

	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if err := c.stash.Put(ctx, job.KwargsKey, kwargs, c.kwargsTTL); err != nil {
		return uuid.Nil, kindErr(KindInternal, "chef: stash kwargs for %s: %w", r.Slug, err)
	}
	if err := c.queue.Enqueue(ctx, job); err != nil {
		return uuid.Nil, kindErr(KindInternal, "chef: enqueue %s: %w", r.Slug, err)
	}

	c.logger.Info("recipe dispatched",
		"recipe", r.Slug, "sous_chef", sc.Slug, "job_id", job.ID, "queue", queueName)
	return job.ID, nil
}

// Execute runs one claimed job through the workflow's three-phase lifecycle.
// It returns nil on success and a typed *Error otherwise; it never lets a
// workflow exception propagate, because the recipe's error status plus
// traceback is the authoritative failure record.
func (c *Chef) Execute(ctx context.Context, job *model.Job) *Error {
	r, err := c.recipes.Recipe(ctx, job.RecipeID)
	if err != nil {
		return kindErr(KindInternal, "chef: load recipe %s: %w", job.RecipeID, err)
	}

	kwargs, err := c.stash.Get(ctx, job.KwargsKey)
	if err != nil {
		// Missing kwargs is unrecoverable, not retryable: job ids are unique
		// per dispatch and the entry is consumed exactly once.
		kind := KindInternal
		execErr := kindErr(kind, "chef: fetch kwargs %s: %w", job.KwargsKey, err)
		c.failRecipe(ctx, r, execErr)
		return execErr
	}
	if err := c.stash.Delete(ctx, job.KwargsKey); err != nil {
		c.logger.Warn("kwargs delete failed", "key", job.KwargsKey, "error", err)
	}

	sc, err := c.sousChefs.SousChef(ctx, r.SousChef)
	if err != nil {
		execErr := kindErr(KindInternal, "chef: load sous chef %q: %w", r.SousChef, err)
		c.failRecipe(ctx, r, execErr)
		return execErr
	}

	checkpoint, execErr := c.runWorkflow(ctx, sc, r, kwargs)
	if execErr != nil {
		c.failRecipe(ctx, r, execErr)
		return execErr
	}

	// Single post-execution commit: stable status, cleared traceback, and
	// the new checkpoint land together so a crash mid-run never leaves a
	// partially updated last_job.
	r.Status = model.RecipeStable
	r.Traceback = ""
	if len(checkpoint) > 0 {
		r.LastJob = checkpoint
	}
	if err := c.recipes.SaveRecipe(ctx, r); err != nil {
		return kindErr(KindInternal, "chef: persist success for %s: %w", r.Slug, err)
	}

	c.logger.Info("recipe completed", "recipe", r.Slug, "job_id", job.ID)
	return nil
}

// runWorkflow drives setup, the concurrent run/load pair, and teardown.
// A panic in any phase is recovered into an execution error.
func (c *Chef) runWorkflow(ctx context.Context, sc *model.SousChef, r *model.Recipe, kwargs map[string]any) (checkpoint map[string]any, execErr *Error) {
	defer func() {
		if p := recover(); p != nil {
			execErr = kindErr(KindExecution, "chef: workflow panic: %v\n%s", p, debug.Stack())
		}
	}()

	parsed, err := recipe.ParsedOptions(sc, r)
	if err != nil {
		return nil, kindErr(KindSchema, "chef: parse options: %w", err)
	}

	// The previous run's checkpoint is merged under the runtime kwargs so
	// explicit kwargs win over carried-forward state.
	merged := map[string]any{}
	for k, v := range r.LastJob {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, kwargs, mergo.WithOverride); err != nil {
		return nil, kindErr(KindInternal, "chef: merge kwargs: %w", err)
	}

	ctor, err := c.registry.Resolve(sc.Runs)
	if err != nil {
		return nil, kindErr(KindResolution, "chef: sous chef %q: %w", sc.Slug, err)
	}
	wf, err := ctor(workflow.Config{
		Recipe:  r,
		Options: parsed,
		Kwargs:  merged,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, kindErr(KindResolution, "chef: construct workflow %q: %w", sc.Runs, err)
	}

	if err := wf.Setup(ctx); err != nil {
		return nil, kindErr(KindExecution, "chef: setup: %w", err)
	}

	// Run streams records while Load drains them; the channel closes when
	// production finishes so Load always sees end-of-stream.
	records := make(chan workflow.Record, 64)
	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		return capturePanic(func() error { return wf.Run(runCtx, records) })
	})
	g.Go(func() error {
		return capturePanic(func() error { return wf.Load(runCtx, records) })
	})
	if err := g.Wait(); err != nil {
		return nil, kindErr(KindExecution, "chef: run: %w", err)
	}

	cp, err := wf.Teardown(ctx)
	if err != nil {
		return nil, kindErr(KindExecution, "chef: teardown: %w", err)
	}
	return cp, nil
}

// capturePanic runs fn and converts a panic into a returned error. Run and
// Load execute on errgroup goroutines, where the deferred recover in
// runWorkflow cannot reach a panic.
func capturePanic(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn()
}

// failRecipe persists the error status and traceback. Failures here are
// logged and folded into the returned error; there is no silent path.
func (c *Chef) failRecipe(ctx context.Context, r *model.Recipe, execErr *Error) {
	r.Status = model.RecipeError
	r.Traceback = execErr.Err.Error()
	if err := c.recipes.SaveRecipe(ctx, r); err != nil {
		c.logger.Error("failed to persist error status", "recipe", r.Slug, "error", err)
	}
	c.logger.Warn("recipe failed", "recipe", r.Slug, "kind", string(execErr.Kind))
}

// IsNotFound reports whether err wraps the stash missing-entry sentinel.
func IsNotFound(err error) bool { return errors.Is(err, stash.ErrNotFound) }
