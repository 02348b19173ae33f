// Package persist saves and restores session state through a
// storage.Repository.
//
// Each session snapshot is sealed with AES-256-GCM under a per-session key
// derived from the store's master key, and bound by AAD to its session id
// and revision. Writes are compare-and-swap on the revision, so a process
// holding an older snapshot cannot overwrite a newer one. Loading never
// contacts the server.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/ironwire/internal/crypto"
	"github.com/jmcleod/ironwire/internal/util"
	"github.com/jmcleod/ironwire/state"
	"github.com/jmcleod/ironwire/storage"
	"github.com/jmcleod/ironwire/storage/memory"
)

const (
	// DefaultNamespace is the repository namespace session snapshots live in.
	DefaultNamespace = "sessions"

	snapshotVer   = 1
	maxSessionIDs = 128
)

// Store persists sealed session snapshots.
type Store struct {
	repo      storage.Repository
	revisions storage.RevisionCache
	namespace string
	kdfParams util.Argon2idParams
	stateOpts []state.Option
	logger    *slog.Logger

	master *memguard.Enclave

	mu   sync.Mutex
	base map[string]uint64
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace stores snapshots under namespace instead of DefaultNamespace.
func WithNamespace(namespace string) Option {
	return func(s *Store) { s.namespace = namespace }
}

// WithRevisionCache sets the cache used to detect rolled-back snapshots.
// The default only remembers revisions for the life of the process.
func WithRevisionCache(c storage.RevisionCache) Option {
	return func(s *Store) { s.revisions = c }
}

// WithKDFParams overrides the Argon2id cost used when a passphrase store is
// first initialized.
func WithKDFParams(p util.Argon2idParams) Option {
	return func(s *Store) { s.kdfParams = p }
}

// WithStateOptions passes opts to every state restored by Load.
func WithStateOptions(opts ...state.Option) Option {
	return func(s *Store) { s.stateOpts = append(s.stateOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func newStore(repo storage.Repository, opts []Option) *Store {
	s := &Store{
		repo:      repo,
		namespace: DefaultNamespace,
		kdfParams: util.DefaultArgon2idParams(),
		base:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.revisions == nil {
		s.revisions = memory.NewRevisionCache()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "persist", "namespace", s.namespace)
	return s
}

// New returns a Store sealing snapshots under masterKey, which must be 32
// bytes. The caller's slice is not modified.
func New(repo storage.Repository, masterKey []byte, opts ...Option) (*Store, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}
	s := newStore(repo, opts)
	s.master = memguard.NewEnclave(util.CopyBytes(masterKey))
	return s, nil
}

// NewFromPassphrase returns a Store whose master key is derived from
// passphrase. The first call for a namespace records a salt and a verifier;
// later calls with a different passphrase fail with ErrWrongPassphrase.
func NewFromPassphrase(ctx context.Context, repo storage.Repository, passphrase string, opts ...Option) (*Store, error) {
	s := newStore(repo, opts)
	master, err := deriveMaster(ctx, repo, s.namespace, passphrase, s.kdfParams)
	if err != nil {
		return nil, err
	}
	// NewEnclave wipes master.
	s.master = memguard.NewEnclave(master)
	return s, nil
}

func (s *Store) snapshotKey(id string) ([]byte, error) {
	buf, err := s.master.Open()
	if err != nil {
		return nil, fmt.Errorf("opening master key: %w", err)
	}
	defer buf.Destroy()
	return icrypto.DeriveSnapshotKey(buf.Bytes(), id)
}

func validateID(id string) error {
	if id == "" || len(id) > maxSessionIDs {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// Save seals st and writes it as the next revision of session id. It
// returns the revision written.
func (s *Store) Save(ctx context.Context, id string, st *state.State) (uint64, error) {
	if err := validateID(id); err != nil {
		return 0, err
	}
	data, err := st.Serialize()
	if err != nil {
		return 0, fmt.Errorf("serializing session: %w", err)
	}
	defer util.WipeBytes(data)

	expected, err := s.expectedRevision(ctx, id)
	if err != nil {
		return 0, err
	}
	next := expected + 1

	key, err := s.snapshotKey(id)
	if err != nil {
		return 0, err
	}
	defer util.WipeBytes(key)

	env, err := storage.SealRecord(key, data, icrypto.AADSnapshot(id, next, snapshotVer), next)
	if err != nil {
		return 0, fmt.Errorf("sealing session: %w", err)
	}
	if err := s.repo.PutCAS(ctx, s.namespace, id, expected, env); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return 0, fmt.Errorf("saving session %s at revision %d: %w: %w", id, next, ErrConflict, err)
		}
		return 0, fmt.Errorf("saving session %s: %w", id, err)
	}
	if err := s.revisions.ObserveRevision(ctx, id, next); err != nil {
		return 0, fmt.Errorf("recording revision: %w", err)
	}
	s.setBase(id, next)
	s.logger.Debug("session saved", "session", id, "revision", next)
	return next, nil
}

// expectedRevision is the revision this Store last loaded or saved, or the
// stored revision if it has not touched id yet.
func (s *Store) expectedRevision(ctx context.Context, id string) (uint64, error) {
	s.mu.Lock()
	rev, ok := s.base[id]
	s.mu.Unlock()
	if ok {
		return rev, nil
	}
	env, err := s.repo.Get(ctx, s.namespace, id)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading session %s: %w", id, err)
	}
	return env.Version, nil
}

func (s *Store) setBase(id string, rev uint64) {
	s.mu.Lock()
	s.base[id] = rev
	s.mu.Unlock()
}

// Load restores session id. It fails with storage.ErrRollbackDetected when
// the stored revision is older than one this store has seen before.
func (s *Store) Load(ctx context.Context, id string) (*state.State, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	env, err := s.repo.Get(ctx, s.namespace, id)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	if err := s.revisions.ObserveRevision(ctx, id, env.Version); err != nil {
		return nil, fmt.Errorf("loading session %s at revision %d: %w", id, env.Version, err)
	}

	key, err := s.snapshotKey(id)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	data, err := storage.OpenRecord(key, env, icrypto.AADSnapshot(id, env.Version, snapshotVer))
	if err != nil {
		return nil, fmt.Errorf("opening session %s: %w", id, err)
	}
	defer util.WipeBytes(data)

	st, err := state.FromSnapshot(data, s.stateOpts...)
	if err != nil {
		return nil, err
	}
	s.setBase(id, env.Version)
	s.logger.Debug("session loaded", "session", id, "revision", env.Version)
	return st, nil
}

// Delete removes session id and forgets its revision history.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, s.namespace, id); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	s.mu.Lock()
	delete(s.base, id)
	s.mu.Unlock()
	return s.revisions.Forget(ctx, id)
}

// List returns the stored session ids in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.repo.List(ctx, s.namespace)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}
