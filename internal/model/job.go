package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of one queued recipe execution.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobError   JobStatus = "error"
)

// Queue names. Every job is bound to exactly one named queue; bulk exists
// for higher-volume ingestion so it cannot starve interactive dispatches.
const (
	QueueDefault = "default"
	QueueBulk    = "bulk"
)

// QueueNames is the fixed set of valid queue names.
var QueueNames = []string{QueueDefault, QueueBulk}

// ValidQueue reports whether name is a known queue.
func ValidQueue(name string) bool {
	for _, q := range QueueNames {
		if q == name {
			return true
		}
	}
	return false
}

// Job binds one recipe execution to a queue entry. Jobs reach a terminal
// status exactly once and are never retried automatically; a failed job
// leaves the parent recipe in error status for external re-dispatch.
type Job struct {
	ID       uuid.UUID `json:"id"`
	RecipeID uuid.UUID `json:"recipe_id"`
	Queue    string    `json:"queue"`

	// KwargsKey references the out-of-band stash entry holding the runtime
	// keyword arguments. The stash entry expires independently of job
	// completion to bound storage.
	KwargsKey string `json:"kwargs_key"`

	Timeout  time.Duration `json:"timeout"`
	Status   JobStatus     `json:"status"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`

	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
