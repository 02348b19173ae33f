// Package memory provides thread-safe in-memory implementations of
// storage.Repository and storage.RevisionCache.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmcleod/ironwire/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func (r *Repository) Put(_ context.Context, namespace, id string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(namespace, id, envelope)
	return nil
}

func (r *Repository) putLocked(namespace, id string, envelope *storage.Envelope) {
	if _, ok := r.data[namespace]; !ok {
		r.data[namespace] = make(map[string]*storage.Envelope)
	}
	r.data[namespace][id] = storage.CloneEnvelope(envelope)
}

func (r *Repository) Get(_ context.Context, namespace, id string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.data[namespace][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", namespace, id, storage.ErrNotFound)
	}
	return storage.CloneEnvelope(env), nil
}

func (r *Repository) List(_ context.Context, namespace string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.data[namespace]))
	for id := range r.data[namespace] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, namespace, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, ok := r.data[namespace]
	if !ok {
		return fmt.Errorf("%s/%s: %w", namespace, id, storage.ErrNotFound)
	}
	if _, ok := records[id]; !ok {
		return fmt.Errorf("%s/%s: %w", namespace, id, storage.ErrNotFound)
	}
	delete(records, id)
	if len(records) == 0 {
		delete(r.data, namespace)
	}
	return nil
}

func (r *Repository) PutCAS(_ context.Context, namespace, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[namespace][id]
	switch {
	case !ok && expectedVersion != 0:
		return storage.ErrCASFailed
	case ok && existing.Version != expectedVersion:
		return storage.ErrCASFailed
	case ok && expectedVersion == 0:
		return storage.ErrCASFailed
	}
	r.putLocked(namespace, id, envelope)
	return nil
}

// RevisionCache is an in-memory storage.RevisionCache. It only guards
// against rollback within a single process lifetime.
type RevisionCache struct {
	mu        sync.RWMutex
	revisions map[string]uint64
}

var _ storage.RevisionCache = (*RevisionCache)(nil)

// NewRevisionCache returns an empty in-memory revision cache.
func NewRevisionCache() *RevisionCache {
	return &RevisionCache{revisions: make(map[string]uint64)}
}

func (c *RevisionCache) MaxRevision(_ context.Context, id string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revisions[id], nil
}

func (c *RevisionCache) ObserveRevision(_ context.Context, id string, revision uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if revision < c.revisions[id] {
		return storage.ErrRollbackDetected
	}
	c.revisions[id] = revision
	return nil
}

func (c *RevisionCache) Forget(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.revisions, id)
	return nil
}
