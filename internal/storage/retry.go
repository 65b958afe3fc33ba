package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// transient reports whether err is a Postgres serialization failure or a
// deadlock, both of which are safe to retry.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// WithRetry runs fn, retrying transient conflicts up to retries times with
// jittered exponential backoff starting at delay.
func WithRetry(ctx context.Context, retries int, delay time.Duration, fn func() error) error {
	for {
		err := fn()
		if err == nil || !transient(err) || retries <= 0 {
			return err
		}
		retries--

		wait := delay + time.Duration(rand.Int64N(int64(delay)))
		delay *= 2
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
