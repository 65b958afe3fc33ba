package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/galleyhq/galley/internal/model"
)

// Enqueue inserts a queued job reference. The kwargs payload itself lives
// in the stash; only the key travels through the queue.
func (db *DB) Enqueue(ctx context.Context, job *model.Job) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO jobs (id, recipe_id, queue, kwargs_key, timeout_secs, status, attempts, enqueued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7)`,
		job.ID, job.RecipeID, job.Queue, job.KwargsKey,
		int64(job.Timeout.Seconds()), string(model.JobQueued), job.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Claim leases up to limit jobs from a named queue for this worker. The
// lease (locked_until) covers the job's own timeout plus slack; a running
// job whose lease has expired belongs to a dead worker and becomes
// claimable again. SKIP LOCKED keeps concurrent workers from blocking each
// other; the claim is retried on serialization failures and deadlocks.
func (db *DB) Claim(ctx context.Context, queue string, limit int) ([]*model.Job, error) {
	var jobs []*model.Job
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		var err error
		jobs, err = db.claimTx(ctx, queue, limit)
		return err
	})
	return jobs, err
}

func (db *DB) claimTx(ctx context.Context, queue string, limit int) ([]*model.Job, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: claim begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, recipe_id, queue, kwargs_key, timeout_secs, attempts, enqueued_at
		 FROM jobs
		 WHERE queue = $1
		   AND (status = 'queued'
		        OR (status = 'running' AND locked_until < now()))
		 ORDER BY enqueued_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		queue, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: claim select: %w", err)
	}

	var jobs []*model.Job
	var timeoutSecs []int64
	for rows.Next() {
		var j model.Job
		var secs int64
		if err := rows.Scan(&j.ID, &j.RecipeID, &j.Queue, &j.KwargsKey, &secs, &j.Attempts, &j.EnqueuedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: claim scan: %w", err)
		}
		j.Timeout = time.Duration(secs) * time.Second
		jobs = append(jobs, &j)
		timeoutSecs = append(timeoutSecs, secs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: claim rows: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	for i, j := range jobs {
		if _, err := tx.Exec(ctx,
			`UPDATE jobs
			 SET status = 'running', attempts = attempts + 1, started_at = now(),
			     locked_until = now() + ($2 + 60) * interval '1 second'
			 WHERE id = $1`,
			j.ID, timeoutSecs[i],
		); err != nil {
			return nil, fmt.Errorf("storage: claim lease %s: %w", j.ID, err)
		}
		j.Status = model.JobRunning
		j.Attempts++
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: claim commit: %w", err)
	}
	return jobs, nil
}

// Finish records a job's terminal status. Terminal states are written at
// most once; a stale duplicate (e.g. a worker finishing after its lease
// expired) is ignored.
func (db *DB) Finish(ctx context.Context, job *model.Job) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = $2, error = $3, finished_at = now(), locked_until = NULL
		 WHERE id = $1 AND status = 'running'`,
		job.ID, string(job.Status), job.Error,
	)
	if err != nil {
		return fmt.Errorf("storage: finish job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		db.logger.Warn("storage: finish on non-running job ignored", "job_id", job.ID)
	}
	return nil
}

// Depth counts queued jobs on a named queue.
func (db *DB) Depth(ctx context.Context, queue string) (int64, error) {
	var depth int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE queue = $1 AND status = 'queued'`, queue,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("storage: queue depth: %w", err)
	}
	return depth, nil
}

// CleanupJobs removes terminal job rows older than ttl. Jobs are ephemeral
// bookkeeping; recipe status is the durable record.
func (db *DB) CleanupJobs(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM jobs
		 WHERE status IN ('success', 'error')
		   AND finished_at < now() - ($1 * interval '1 microsecond')`,
		ttl.Microseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
