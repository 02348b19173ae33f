package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a ResponseCache shared through Redis. Entries carry no TTL;
// an index set per prefix lets Purge find them.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

var _ ResponseCache = (*RedisCache)(nil)

type redisEntry struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body"`
}

// NewRedisCache returns a cache storing entries under prefix. Use a distinct
// prefix per session so users never see each other's responses.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "ironwire:http"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Response, bool, error) {
	raw, err := c.client.Get(ctx, c.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached response: %w", err)
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decoding cached response: %w", err)
	}
	return &Response{Status: e.Status, Header: e.Header, Body: e.Body}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, resp *Response) error {
	raw, err := json.Marshal(redisEntry{Status: resp.Status, Header: resp.Header, Body: resp.Body})
	if err != nil {
		return fmt.Errorf("encoding cached response: %w", err)
	}
	dataKey := c.dataKey(key)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, dataKey, raw, 0)
	pipe.SAdd(ctx, c.indexKey(), dataKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing cached response: %w", err)
	}
	return nil
}

func (c *RedisCache) Purge(ctx context.Context) error {
	keys, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("listing cached responses: %w", err)
	}
	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, c.indexKey())
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCache) dataKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:data:%s", c.prefix, hex.EncodeToString(sum[:]))
}

func (c *RedisCache) indexKey() string {
	return c.prefix + ":index"
}
