package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironwire/storage"
	"github.com/jmcleod/ironwire/storage/storagetest"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(t.Context(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRepository(t *testing.T) {
	storagetest.RunRepository(t, openTestStore(t, filepath.Join(t.TempDir(), "sessions.sqlite")))
}

func TestRevisionCache(t *testing.T) {
	storagetest.RunRevisionCache(t, openTestStore(t, filepath.Join(t.TempDir(), "sessions.sqlite")))
}

func TestOpenCreatesDirectoryAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "sessions.sqlite")
	ctx := t.Context()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.PutCAS(ctx, "sessions", "alice", 0, &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: []byte("n"), Ciphertext: []byte("ct"), Version: 1}))
	require.NoError(t, s.ObserveRevision(ctx, "alice", 1))
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	got, err := s.Get(ctx, "sessions", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)

	rev, err := s.MaxRevision(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)
}
