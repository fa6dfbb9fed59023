package shared

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
	tag  string
}

func (e *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.NewCommandTag(e.tag), nil
}

func TestIdempotencyCleanupSparesKeptModules(t *testing.T) {
	execer := &recordingExecer{tag: "DELETE 4"}
	store := NewIdempotencyStore(execer).Keep("inventory.purchase")

	before := time.Now()
	removed, err := store.Cleanup(context.Background(), 48*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 4, removed)

	require.Contains(t, execer.sql, "created_at < $1")
	require.Contains(t, execer.sql, "NOT (module = ANY($2))")
	require.Len(t, execer.args, 2)
	cutoff := execer.args[0].(time.Time)
	require.WithinDuration(t, before.Add(-48*time.Hour), cutoff, time.Minute)
	require.Equal(t, []string{"inventory.purchase"}, execer.args[1])
}

func TestIdempotencyCleanupWithoutKeptModules(t *testing.T) {
	execer := &recordingExecer{tag: "DELETE 0"}
	_, err := NewIdempotencyStore(execer).Cleanup(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, []string{}, execer.args[1])
}

func TestIdempotencyClaimValidatesInput(t *testing.T) {
	store := NewIdempotencyStore(&recordingExecer{tag: "INSERT 0 1"})
	require.Error(t, store.CheckAndInsert(context.Background(), "", "inventory.purchase"))
	require.Error(t, store.CheckAndInsert(context.Background(), "purchase:3:INV-1", ""))
	require.NoError(t, store.CheckAndInsert(context.Background(), "purchase:3:INV-1", "inventory.purchase"))
}
