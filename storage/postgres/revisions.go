package postgres

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ironwire/storage"
)

// RevisionCache implements storage.RevisionCache backed by PostgreSQL.
//
// Reads come from an in-memory map loaded at start; writes persist to
// PostgreSQL and then update the map. The upsert never lowers a stored
// revision, so two processes sharing the table cannot roll it back.
type RevisionCache struct {
	pool  *pgxpool.Pool
	mu    sync.RWMutex
	cache map[string]uint64
}

var _ storage.RevisionCache = (*RevisionCache)(nil)

// NewRevisionCache returns a persistent revision cache and loads all
// existing entries into memory.
func NewRevisionCache(ctx context.Context, pool *pgxpool.Pool) (*RevisionCache, error) {
	c := &RevisionCache{
		pool:  pool,
		cache: make(map[string]uint64),
	}

	rows, err := pool.Query(ctx, `SELECT session_id, max_revision FROM session_revisions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var rev int64
		if err := rows.Scan(&id, &rev); err != nil {
			return nil, err
		}
		c.cache[id] = uint64(rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RevisionCache) MaxRevision(_ context.Context, id string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache[id], nil
}

func (c *RevisionCache) ObserveRevision(ctx context.Context, id string, revision uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if revision < c.cache[id] {
		return storage.ErrRollbackDetected
	}

	var stored int64
	err := c.pool.QueryRow(ctx,
		`INSERT INTO session_revisions (session_id, max_revision) VALUES ($1, $2)
		 ON CONFLICT (session_id) DO UPDATE
		 SET max_revision = GREATEST(session_revisions.max_revision, EXCLUDED.max_revision)
		 RETURNING max_revision`,
		id, int64(revision)).Scan(&stored)
	if err != nil {
		return err
	}
	c.cache[id] = uint64(stored)
	if revision < uint64(stored) {
		return storage.ErrRollbackDetected
	}
	return nil
}

func (c *RevisionCache) Forget(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.pool.Exec(ctx, `DELETE FROM session_revisions WHERE session_id = $1`, id); err != nil {
		return err
	}
	delete(c.cache, id)
	return nil
}
