// Package storagetest holds the behavioural suite every storage backend must
// pass.
package storagetest

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironwire/storage"
)

func envelope(version uint64, body string) *storage.Envelope {
	return &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      make([]byte, 12),
		Ciphertext: []byte(body),
		Version:    version,
	}
}

// RunRepository exercises the Repository contract against repo, which must
// start empty.
func RunRepository(t *testing.T, repo storage.Repository) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) {
		ctx := t.Context()
		env := envelope(1, "cipher")
		require.NoError(t, repo.Put(ctx, "sessions", "alice", env))

		got, err := repo.Get(ctx, "sessions", "alice")
		require.NoError(t, err)
		assert.Equal(t, env.Ver, got.Ver)
		assert.Equal(t, env.Scheme, got.Scheme)
		assert.Equal(t, env.Nonce, got.Nonce)
		assert.Equal(t, env.Ciphertext, got.Ciphertext)
		assert.Equal(t, uint64(1), got.Version)

		got.Ciphertext[0] = 'X'
		again, err := repo.Get(ctx, "sessions", "alice")
		require.NoError(t, err)
		assert.Equal(t, byte('c'), again.Ciphertext[0], "returned envelopes must not alias storage")
	})

	t.Run("GetNotFound", func(t *testing.T) {
		ctx := t.Context()
		_, err := repo.Get(ctx, "sessions", "nobody")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = repo.Get(ctx, "empty-namespace", "alice")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListIsNamespaced", func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, repo.Put(ctx, "list", "a", envelope(1, "a")))
		require.NoError(t, repo.Put(ctx, "list", "b", envelope(1, "b")))
		require.NoError(t, repo.Put(ctx, "list-other", "c", envelope(1, "c")))

		ids, err := repo.List(ctx, "list")
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"a", "b"}, ids)

		ids, err = repo.List(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, repo.Put(ctx, "del", "x", envelope(1, "x")))
		require.NoError(t, repo.Delete(ctx, "del", "x"))
		_, err := repo.Get(ctx, "del", "x")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, "del", "x"), storage.ErrNotFound)
	})

	t.Run("PutCAS", func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, repo.PutCAS(ctx, "cas", "s1", 0, envelope(1, "v1")))
		assert.ErrorIs(t, repo.PutCAS(ctx, "cas", "s1", 0, envelope(1, "dup")), storage.ErrCASFailed,
			"create-only must fail when the record exists")
		assert.ErrorIs(t, repo.PutCAS(ctx, "cas", "missing", 1, envelope(2, "x")), storage.ErrCASFailed,
			"update must fail when the record is absent")

		require.NoError(t, repo.PutCAS(ctx, "cas", "s1", 1, envelope(2, "v2")))
		assert.ErrorIs(t, repo.PutCAS(ctx, "cas", "s1", 1, envelope(2, "stale")), storage.ErrCASFailed)

		got, err := repo.Get(ctx, "cas", "s1")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)
		assert.Equal(t, []byte("v2"), got.Ciphertext)
	})

	t.Run("PutCASConcurrentWriters", func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, repo.PutCAS(ctx, "race", "s", 0, envelope(1, "base")))

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- repo.PutCAS(ctx, "race", "s", 1, envelope(2, fmt.Sprintf("w%d", i)))
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, storage.ErrCASFailed)
		}
		assert.Equal(t, 1, wins, "exactly one writer may win a revision")
	})
}

// RunRevisionCache exercises the RevisionCache contract against c, which
// must start empty.
func RunRevisionCache(t *testing.T, c storage.RevisionCache) {
	t.Helper()
	ctx := t.Context()

	rev, err := c.MaxRevision(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, rev)

	require.NoError(t, c.ObserveRevision(ctx, "alice", 3))
	require.NoError(t, c.ObserveRevision(ctx, "alice", 3), "re-observing the same revision is allowed")
	require.NoError(t, c.ObserveRevision(ctx, "alice", 5))
	assert.ErrorIs(t, c.ObserveRevision(ctx, "alice", 4), storage.ErrRollbackDetected)

	rev, err = c.MaxRevision(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rev)

	rev, err = c.MaxRevision(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, rev, "revisions are tracked per session")

	require.NoError(t, c.Forget(ctx, "alice"))
	require.NoError(t, c.ObserveRevision(ctx, "alice", 1))
}
