package transport

import (
	"context"
	"net/http"
	"sync"
)

// ResponseCache stores successful GET responses keyed by path and canonical
// query. Entries never expire; Purge is the only way to drop them.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Set(ctx context.Context, key string, resp *Response) error
	Purge(ctx context.Context) error
}

// MemoryCache is an unbounded in-process ResponseCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Response
}

var _ ResponseCache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Response)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneResponse(resp), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, resp *Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cloneResponse(resp)
	return nil
}

func (c *MemoryCache) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	return nil
}

// Len returns the number of cached responses.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cloneResponse(r *Response) *Response {
	var h http.Header
	if r.Header != nil {
		h = r.Header.Clone()
	}
	return &Response{
		Status: r.Status,
		Header: h,
		Body:   append([]byte(nil), r.Body...),
	}
}
