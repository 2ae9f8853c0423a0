package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	pkgredis "github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/redis"
)

const keyPrefix = "match:"

// Backend is the key-value store behind a ResultCache. *redis.Client
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Result is the cached outcome of one query against one reference.
type Result struct {
	ReferenceID string `json:"reference_id"`
	Query       string `json:"query"`
	Matched     bool   `json:"matched"`
	Positions   []int  `json:"positions,omitempty"`
}

// Ref names the reference a result belongs to. Fingerprint identifies its
// content and is part of every key, so results computed for earlier content
// bound to the same id are never served, even if Invalidate failed.
type Ref struct {
	ID          string
	Fingerprint string
}

// ResultCache stores match results keyed by reference, content fingerprint and
// query. Backend errors are logged and treated as misses.
type ResultCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration) *ResultCache {
	return &ResultCache{
		backend: backend,
		ttl:     ttl,
		logger:  slog.Default().With("component", "match-cache"),
	}
}

func (c *ResultCache) Get(ctx context.Context, ref Ref, query string) (*Result, bool) {
	key := buildKey(ref, query)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	if result.ReferenceID != ref.ID || result.Query != query {
		c.logger.Warn("cache key collision", "key", key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "reference_id", ref.ID, "key", key)
	return &result, true
}

func (c *ResultCache) Set(ctx context.Context, fingerprint string, result *Result) {
	key := buildKey(Ref{ID: result.ReferenceID, Fingerprint: fingerprint}, result.Query)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result or runs computeFn once per key even
// under concurrent callers. The bool reports a cache hit.
func (c *ResultCache) GetOrCompute(
	ctx context.Context,
	ref Ref,
	query string,
	computeFn func() (*Result, error),
) (*Result, bool, error) {
	if result, ok := c.Get(ctx, ref, query); ok {
		return result, true, nil
	}
	key := buildKey(ref, query)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, ref.Fingerprint, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Result), false, nil
}

// Invalidate removes every cached result for referenceID, whatever content it
// was computed against.
func (c *ResultCache) Invalidate(ctx context.Context, referenceID string) error {
	pattern := keyPrefix + referenceID + ":*"
	deleted, err := c.backend.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache for %s: %w", referenceID, err)
	}
	c.logger.Info("cache invalidate", "reference_id", referenceID, "keys_deleted", deleted)
	return nil
}

func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func buildKey(ref Ref, query string) string {
	hash := sha256.Sum256([]byte(query))
	return fmt.Sprintf("%s%s:%s:%x", keyPrefix, ref.ID, ref.Fingerprint, hash[:16])
}
