// Package bbolt provides BBolt-backed implementations of storage.Repository
// and storage.RevisionCache.
//
// Records live in one nested bucket per namespace under a top-level records
// bucket; envelopes are stored as JSON. Revisions live in their own bucket
// so the two can share one database file.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironwire/storage"
)

var (
	recordsBucket   = []byte("records")
	revisionsBucket = []byte("revisions")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// DB returns the underlying database, for sharing with a RevisionCache.
func (s *Store) DB() *bbolt.DB {
	return s.db
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func namespaceBucket(tx *bbolt.Tx, namespace string, create bool) (*bbolt.Bucket, error) {
	if !create {
		root := tx.Bucket(recordsBucket)
		if root == nil {
			return nil, nil
		}
		return root.Bucket([]byte(namespace)), nil
	}
	root, err := tx.CreateBucketIfNotExists(recordsBucket)
	if err != nil {
		return nil, err
	}
	return root.CreateBucketIfNotExists([]byte(namespace))
}

func (s *Store) Put(ctx context.Context, namespace, id string, envelope *storage.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := namespaceBucket(tx, namespace, true)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *Store) Get(ctx context.Context, namespace, id string) (*storage.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var envelope storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, _ := namespaceBucket(tx, namespace, false)
		if b == nil {
			return fmt.Errorf("%s/%s: %w", namespace, id, storage.ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", namespace, id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &envelope)
	})
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (s *Store) Delete(ctx context.Context, namespace, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, _ := namespaceBucket(tx, namespace, false)
		if b == nil || b.Get([]byte(id)) == nil {
			return fmt.Errorf("%s/%s: %w", namespace, id, storage.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, _ := namespaceBucket(tx, namespace, false)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *Store) PutCAS(ctx context.Context, namespace, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := namespaceBucket(tx, namespace, true)
		if err != nil {
			return err
		}
		existingData := b.Get([]byte(id))
		if expectedVersion == 0 {
			if existingData != nil {
				return storage.ErrCASFailed
			}
		} else {
			if existingData == nil {
				return storage.ErrCASFailed
			}
			var existing storage.Envelope
			if err := json.Unmarshal(existingData, &existing); err != nil {
				return err
			}
			if existing.Version != expectedVersion {
				return storage.ErrCASFailed
			}
		}
		return b.Put([]byte(id), data)
	})
}

// RevisionCache persists the highest revision seen per session in a
// dedicated BBolt bucket. Reads come from an in-memory map; writes persist
// to BBolt and then update the map.
type RevisionCache struct {
	db    *bbolt.DB
	mu    sync.RWMutex
	cache map[string]uint64
}

var _ storage.RevisionCache = (*RevisionCache)(nil)

// NewRevisionCache loads all recorded revisions from db.
func NewRevisionCache(db *bbolt.DB) (*RevisionCache, error) {
	c := &RevisionCache{
		db:    db,
		cache: make(map[string]uint64),
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(revisionsBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			if len(v) == 8 {
				c.cache[string(k)] = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading revisions: %w", err)
	}
	return c, nil
}

func (c *RevisionCache) MaxRevision(_ context.Context, id string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache[id], nil
}

func (c *RevisionCache) ObserveRevision(ctx context.Context, id string, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if revision < c.cache[id] {
		return storage.ErrRollbackDetected
	}
	if revision == c.cache[id] {
		return nil
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(revisionsBucket)
		if err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], revision)
		return b.Put([]byte(id), buf[:])
	})
	if err != nil {
		return err
	}
	c.cache[id] = revision
	return nil
}

func (c *RevisionCache) Forget(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(revisionsBucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	delete(c.cache, id)
	return nil
}
