package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Transaction retry policy for the multi-row registry/queue transactions.
const (
	txMaxRetries = 3
	txBaseDelay  = 50 * time.Millisecond
)

// isRetriable reports whether err is a transient Postgres conflict worth
// retrying: serialization_failure or deadlock_detected.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// withTxRetry runs fn, retrying transient conflicts with jittered doubling
// delays. Used by the transactions that touch several registry or queue
// rows at once (season-pack propagation, batch enqueue), where concurrent
// sweeps can deadlock.
func withTxRetry(ctx context.Context, fn func() error) error {
	delay := txBaseDelay
	var err error
	for attempt := range txMaxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == txMaxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
