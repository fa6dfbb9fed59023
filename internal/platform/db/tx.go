package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// DefaultMaxAttempts bounds retries of a transaction aborted by a serialization failure.
const DefaultMaxAttempts = 3

// SQLSTATE codes reported by PostgreSQL for lost-update races.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// Runner executes callbacks inside RepeatableRead transactions and retries them
// from scratch when PostgreSQL reports a serialization failure or deadlock.
type Runner struct {
	pool        *pgxpool.Pool
	maxAttempts int
	onRetry     func(attempt int, err error)
}

// NewRunner constructs a Runner. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewRunner(pool *pgxpool.Pool, maxAttempts int) *Runner {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Runner{pool: pool, maxAttempts: maxAttempts}
}

// OnRetry registers a hook invoked before each retry.
func (r *Runner) OnRetry(fn func(attempt int, err error)) {
	r.onRetry = fn
}

// WithTx runs fn in a transaction. Conflicts that survive every attempt surface as
// shared.ErrConcurrencyConflict.
func (r *Runner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("platform/db: runner not initialised")
	}
	return r.Retry(ctx, func() error { return WithTx(ctx, r.pool, fn) })
}

// Retry calls run until it succeeds, fails with a non-conflict error or exhausts the
// configured attempts. run must start a fresh transaction on every call.
func (r *Runner) Retry(ctx context.Context, run func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := run()
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}
		lastErr = err
		if attempt < r.maxAttempts && r.onRetry != nil {
			r.onRetry(attempt, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", shared.ErrConcurrencyConflict, lastErr)
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// IsConflict reports whether err is a serialization failure or deadlock.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
