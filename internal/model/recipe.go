package model

import (
	"time"

	"github.com/google/uuid"
)

// RecipeStatus is the lifecycle state of a recipe's execution.
type RecipeStatus string

const (
	// RecipeUninitialized marks a seed/template recipe that has not been
	// completed by a user. Exempt from required-option enforcement and never
	// eligible for scheduling.
	RecipeUninitialized RecipeStatus = "uninitialized"
	RecipeQueued        RecipeStatus = "queued"
	RecipeRunning       RecipeStatus = "running"
	RecipeStable        RecipeStatus = "stable"
	RecipeError         RecipeStatus = "error"
)

// recipeTransitions is the explicit transition table for the cyclic status
// machine. stable and error both re-enter via queued or running on a fresh
// dispatch. Dispatch may stamp running directly (compressing queued+running)
// because the enqueue follows in the same call. running also re-enters:
// there is no per-recipe mutual exclusion, and a worker that dies mid-run
// must not wedge its recipe. Concurrent dispatch is last-writer-wins.
var recipeTransitions = map[RecipeStatus][]RecipeStatus{
	RecipeUninitialized: {RecipeQueued, RecipeRunning},
	RecipeQueued:        {RecipeRunning},
	RecipeRunning:       {RecipeQueued, RecipeRunning, RecipeStable, RecipeError},
	RecipeStable:        {RecipeQueued, RecipeRunning},
	RecipeError:         {RecipeQueued, RecipeRunning},
}

// CanTransition reports whether the status machine permits from -> to.
func CanTransition(from, to RecipeStatus) bool {
	for _, next := range recipeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidRecipeStatus reports whether s is a known status.
func ValidRecipeStatus(s RecipeStatus) bool {
	switch s {
	case RecipeUninitialized, RecipeQueued, RecipeRunning, RecipeStable, RecipeError:
		return true
	}
	return false
}

// Recipe is a configured, schedulable instance of a sous chef, owned by an
// organization and a user.
//
// Options holds validated values in their serialization-safe form (the
// pre-parse strings for datetimes, crontabs, regexes, and search strings).
// LastJob is the opaque checkpoint the previous execution passed forward.
type Recipe struct {
	ID          uuid.UUID      `json:"id"`
	SousChef    string         `json:"sous_chef"` // descriptor slug
	OrgID       uuid.UUID      `json:"org_id"`
	UserID      uuid.UUID      `json:"user_id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description"`
	Options     map[string]any `json:"options"`

	// Scheduling directives. At most one of TimeOfDay, Interval, Crontab is
	// set; Scheduled is derived, never supplied.
	Scheduled bool   `json:"scheduled"`
	TimeOfDay string `json:"time_of_day,omitempty"` // 24h clock, "15:04"
	Interval  int64  `json:"interval,omitempty"`    // seconds between runs
	Crontab   string `json:"crontab,omitempty"`

	Status    RecipeStatus   `json:"status"`
	LastRun   *time.Time     `json:"last_run,omitempty"`
	LastJob   map[string]any `json:"last_job,omitempty"`
	Traceback string         `json:"traceback,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// ReservedRecipeFields are top-level fields stripped before validation and
// reattached afterward. Option names may not collide with these.
var ReservedRecipeFields = []string{
	"id", "sous_chef_id", "user_id", "org_id", "created", "updated",
	"scheduled", "sous_chef",
}

// InternalRecipeFields pass through validation untouched.
var InternalRecipeFields = []string{"status", "last_run", "last_job", "traceback"}
