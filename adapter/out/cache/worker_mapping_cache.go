package cache

import (
	"context"
	"fmt"
	"time"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/logger"
)

// jsonCache is the slice of pkg/cache.RedisCache the mapping cache needs.
type jsonCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// MappingCache is a read-through Redis cache in front of the graph mapping store.
// Redis errors degrade to the backing store.
type MappingCache struct {
	cache jsonCache
	store out.EntityMappingStore
	ttl   time.Duration
}

func NewMappingCache(cache jsonCache, store out.EntityMappingStore, ttl time.Duration) *MappingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MappingCache{cache: cache, store: store, ttl: ttl}
}

func mappingKey(accountID int64, kind domain.EntityKind, sourceSystem, sourceKey string) string {
	return fmt.Sprintf("mapping:%d:%s:%s:%s", accountID, kind, sourceSystem, sourceKey)
}

func (c *MappingCache) Get(ctx context.Context, accountID int64, kind domain.EntityKind, sourceSystem, sourceKey string) (*domain.EntityMapping, error) {
	key := mappingKey(accountID, kind, sourceSystem, sourceKey)
	var m domain.EntityMapping
	found, err := c.cache.GetJSON(ctx, key, &m)
	if err != nil {
		logger.WithError(err).Debug("[MappingCache.Get] redis read failed for %s", key)
	}
	if found {
		return &m, nil
	}

	stored, err := c.store.Get(ctx, accountID, kind, sourceSystem, sourceKey)
	if err != nil || stored == nil {
		return stored, err
	}
	if err := c.cache.SetJSON(ctx, key, stored, c.ttl); err != nil {
		logger.WithError(err).Debug("[MappingCache.Get] redis write failed for %s", key)
	}
	return stored, nil
}

func (c *MappingCache) Put(ctx context.Context, m *domain.EntityMapping) error {
	if err := c.store.Put(ctx, m); err != nil {
		return err
	}
	key := mappingKey(m.EmailAccountID, m.Kind, m.SourceSystem, m.SourceKey)
	if err := c.cache.SetJSON(ctx, key, m, c.ttl); err != nil {
		logger.WithError(err).Debug("[MappingCache.Put] redis write failed for %s", key)
	}
	return nil
}
