// Package cache is a Redis-backed query result cache for the search API.
// Identical queries are collapsed with singleflight so a cold key is
// computed once, and every index mutation invalidates the whole keyspace.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/wfertman/quarry/internal/engine"
	"github.com/wfertman/quarry/pkg/config"
	pkgredis "github.com/wfertman/quarry/pkg/redis"
)

const keyPrefix = "quarry:search:"

// QueryCache caches PagedResults keyed by a normalised query hash.
type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a QueryCache on top of an established Redis client.
func New(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached result for a query, if present.
func (c *QueryCache) Get(ctx context.Context, q engine.Query) (*engine.PagedResults, bool) {
	key := c.buildKey(q)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result engine.PagedResults
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", q.Text, "key", key)
	return &result, true
}

// Set stores a result under the query's key with the configured TTL.
func (c *QueryCache) Set(ctx context.Context, q engine.Query, result *engine.PagedResults) {
	key := c.buildKey(q)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for q or computes, caches, and
// returns it. Concurrent callers with the same key share one
// computation. The boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	q engine.Query,
	computeFn func() (*engine.PagedResults, error),
) (*engine.PagedResults, bool, error) {
	if result, ok := c.Get(ctx, q); ok {
		return result, true, nil
	}
	key := c.buildKey(q)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.Get(ctx, q); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, q, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*engine.PagedResults), false, nil
}

// Invalidate drops every cached query result. Called after any index
// mutation.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counters.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the normalised query so that term order and filter
// order do not fragment the cache.
func (c *QueryCache) buildKey(q engine.Query) string {
	terms := strings.Fields(strings.ToLower(q.Text))
	sort.Strings(terms)

	filters := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		part := f.Key + "=" + f.Equals
		if f.Min != nil {
			part += fmt.Sprintf(",min=%g", *f.Min)
		}
		if f.Max != nil {
			part += fmt.Sprintf(",max=%g", *f.Max)
		}
		filters = append(filters, part)
	}
	sort.Strings(filters)

	raw := fmt.Sprintf("%s|fuzzy=%t|hl=%t|page=%d|per=%d|%s",
		strings.Join(terms, ","), q.Fuzzy, q.Highlight, q.Page, q.PerPage,
		strings.Join(filters, ";"),
	)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
