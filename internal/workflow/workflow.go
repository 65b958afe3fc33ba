// Package workflow defines the sous chef execution contract and the registry
// that binds descriptor `runs` names to constructors.
//
// A workflow runs a three-phase lifecycle under the dispatcher:
// Setup primes connections and state, Run streams records while Load
// consumes them, and Teardown flushes the checkpoint the next execution
// will receive as kwargs. External executables participate through the
// Command adapter, which implements the same interface.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/galleyhq/galley/internal/model"
)

// Record is one output item produced by a workflow run.
type Record map[string]any

// Workflow is the capability contract every sous chef implements.
// Implementations are single-use: the dispatcher constructs a fresh instance
// per execution and drives the phases in order.
type Workflow interface {
	// Setup primes connections and state. Must be idempotent.
	Setup(ctx context.Context) error

	// Run streams records into out. It must close nothing and return only
	// after production completes; the dispatcher drains out concurrently
	// via Load and closes the channel when Run returns.
	Run(ctx context.Context, out chan<- Record) error

	// Load consumes the record stream, persisting or forwarding each item.
	// It must drain in fully even when an individual record is rejected.
	Load(ctx context.Context, in <-chan Record) error

	// Teardown flushes state and returns the checkpoint for the next run.
	// An empty map means "no checkpoint"; the recipe's last_job is then
	// left unchanged.
	Teardown(ctx context.Context) (map[string]any, error)
}

// Config carries everything a constructor needs to build a workflow.
type Config struct {
	Recipe  *model.Recipe
	Options map[string]any // parsed (native) option values
	Kwargs  map[string]any // runtime kwargs merged with the previous checkpoint
	Logger  *slog.Logger
}

// Constructor builds a workflow instance for one execution.
type Constructor func(Config) (Workflow, error)

// DefaultTimeout bounds executions whose sous chef declares no timeout.
const DefaultTimeout = 10 * time.Minute

// Registry maps workflow names to constructors. It is populated at process
// startup; descriptor validation resolves `runs` against it instead of
// importing code at runtime.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	timeouts     map[string]time.Duration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		timeouts:     make(map[string]time.Duration),
	}
}

// Register binds name to a constructor. Registering a duplicate name is a
// programming error and panics, matching the fail-fast expectations of
// process startup.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.constructors[name]; dup {
		panic(fmt.Sprintf("workflow: duplicate registration for %q", name))
	}
	r.constructors[name] = c
}

// RegisterWithTimeout binds name to a constructor with an explicit execution
// timeout, overriding DefaultTimeout.
func (r *Registry) RegisterWithTimeout(name string, c Constructor, timeout time.Duration) {
	r.Register(name, c)
	r.mu.Lock()
	r.timeouts[name] = timeout
	r.mu.Unlock()
}

// Resolve returns the constructor for a descriptor's runs value. Command
// paths resolve to the subprocess adapter; registry names must have been
// registered at startup.
func (r *Registry) Resolve(runs string) (Constructor, error) {
	if model.IsCommandPath(runs) {
		if err := checkExecutable(runs); err != nil {
			return nil, err
		}
		return commandConstructor(runs), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.constructors[runs]
	if !ok {
		return nil, fmt.Errorf("workflow: %q is not a registered workflow", runs)
	}
	return c, nil
}

// Timeout returns the execution timeout for runs.
func (r *Registry) Timeout(runs string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.timeouts[runs]; ok {
		return t
	}
	return DefaultTimeout
}

// Names returns registered workflow names, sorted, for CLI listings.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for n := range r.constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
