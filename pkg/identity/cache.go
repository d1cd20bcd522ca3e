package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/marrygold/usher/pkg/observability"
)

// CachedStore layers an in-process LRU and Redis over the Postgres store for
// the read path hit on every authenticated request. Mutations pass through
// to the store and invalidate both tiers. The Redis tier is optional; with a
// nil client only the LRU is used.
type CachedStore struct {
	store   *Store
	l1      *lru.Cache[string, *Identity]
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCachedStore creates the two-tier read cache over store.
func NewCachedStore(store *Store, redisClient *redis.Client, l1Size int, ttl time.Duration) (*CachedStore, error) {
	if l1Size <= 0 {
		l1Size = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l1, err := lru.New[string, *Identity](l1Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity LRU: %w", err)
	}
	return &CachedStore{
		store: store,
		l1:    l1,
		redis: redisClient,
		ttl:   ttl,
	}, nil
}

// WithMetrics attaches cache hit/miss metrics.
func (c *CachedStore) WithMetrics(m *observability.Metrics) *CachedStore {
	c.metrics = m
	return c
}

func cacheKey(externalID string) string {
	return "identity:ext:" + externalID
}

// GetByExternalID reads through the LRU, then Redis, then the store. Cached
// records are treated as immutable; callers must not modify them.
func (c *CachedStore) GetByExternalID(ctx context.Context, externalID string) (*Identity, error) {
	if rec, ok := c.l1.Get(externalID); ok {
		c.hit("l1")
		return rec, nil
	}

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, cacheKey(externalID)).Result()
		if err == nil {
			rec := &Identity{}
			if err := json.Unmarshal([]byte(cached), rec); err == nil {
				c.hit("redis")
				c.l1.Add(externalID, rec)
				return rec, nil
			}
		}
	}

	c.miss()
	rec, err := c.store.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, rec)
	return rec, nil
}

// CreateFromNotification passes through to the store and refreshes the cache
// with the reconciled record.
func (c *CachedStore) CreateFromNotification(ctx context.Context, n *Notification) (*Identity, error) {
	rec, err := c.store.CreateFromNotification(ctx, n)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, n.ExternalID)
	c.fill(ctx, rec)
	return rec, nil
}

// UpdateFromNotification passes through to the store and refreshes the cache.
func (c *CachedStore) UpdateFromNotification(ctx context.Context, n *Notification) (*Identity, error) {
	rec, err := c.store.UpdateFromNotification(ctx, n)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, n.ExternalID)
	c.fill(ctx, rec)
	return rec, nil
}

// Delete passes through to the store and drops the cached record.
func (c *CachedStore) Delete(ctx context.Context, externalID string) error {
	if err := c.store.Delete(ctx, externalID); err != nil {
		return err
	}
	c.invalidate(ctx, externalID)
	return nil
}

func (c *CachedStore) fill(ctx context.Context, rec *Identity) {
	if rec.ExternalID == "" {
		return
	}
	c.l1.Add(rec.ExternalID, rec)
	if c.redis != nil {
		if data, err := json.Marshal(rec); err == nil {
			c.redis.Set(ctx, cacheKey(rec.ExternalID), data, c.ttl)
		}
	}
}

func (c *CachedStore) invalidate(ctx context.Context, externalID string) {
	c.l1.Remove(externalID)
	if c.redis != nil {
		c.redis.Del(ctx, cacheKey(externalID))
	}
}

func (c *CachedStore) hit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *CachedStore) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
