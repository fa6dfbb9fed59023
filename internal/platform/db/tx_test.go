package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

func TestIsConflict(t *testing.T) {
	require.True(t, IsConflict(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsConflict(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})))
	require.False(t, IsConflict(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsConflict(errors.New("boom")))
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "40001"}))
}

func TestNewRunnerDefaultsAttempts(t *testing.T) {
	r := NewRunner(nil, 0)
	require.Equal(t, DefaultMaxAttempts, r.maxAttempts)
}

func TestRetryRecoversFromConflict(t *testing.T) {
	r := NewRunner(nil, 3)
	var retried []int
	r.OnRetry(func(attempt int, _ error) { retried = append(retried, attempt) })

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retried)
}

func TestRetryExhaustionIsConcurrencyConflict(t *testing.T) {
	r := NewRunner(nil, 2)
	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.Equal(t, "concurrency_conflict", shared.Kind(err))
	require.Equal(t, 2, calls)
}

func TestRetryStopsOnOtherErrors(t *testing.T) {
	r := NewRunner(nil, 5)
	boom := errors.New("boom")
	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestRunnerWithoutPool(t *testing.T) {
	var r *Runner
	require.Error(t, r.WithTx(context.Background(), nil))
}
