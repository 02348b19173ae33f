package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironwire/storage/storagetest"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("IRONWIRE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("IRONWIRE_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := t.Context()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, EnsureSchema(ctx, pool))

	// t.Context is already canceled when cleanups run.
	clean := func() {
		bg := context.Background()
		pool.Exec(bg, "DELETE FROM records")           //nolint:errcheck
		pool.Exec(bg, "DELETE FROM session_revisions") //nolint:errcheck
	}
	clean()
	t.Cleanup(func() {
		clean()
		pool.Close()
	})
	return pool
}

func TestRepository(t *testing.T) {
	storagetest.RunRepository(t, NewRepository(newTestPool(t)))
}

func TestRevisionCache(t *testing.T) {
	pool := newTestPool(t)
	c, err := NewRevisionCache(t.Context(), pool)
	require.NoError(t, err)
	storagetest.RunRevisionCache(t, c)
}

func TestRevisionCacheReload(t *testing.T) {
	pool := newTestPool(t)
	ctx := t.Context()
	c, err := NewRevisionCache(ctx, pool)
	require.NoError(t, err)
	require.NoError(t, c.ObserveRevision(ctx, "alice", 9))

	reloaded, err := NewRevisionCache(ctx, pool)
	require.NoError(t, err)
	rev, err := reloaded.MaxRevision(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(9), rev)
}
