package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

// RedisPageCache stocke chaque page sous "feedpage:{user}:{offset}:{limit}".
// Le set "feedpages:{user}" référence les pages d'un utilisateur pour Invalidate.
type RedisPageCache struct {
	client redis.UniversalClient
}

func NewRedisPageCache(client redis.UniversalClient) *RedisPageCache {
	return &RedisPageCache{client: client}
}

func pagePrefix(ownerID string) string {
	return "feedpage:" + ownerID + ":"
}

func pageKey(key domain.PageKey) string {
	return fmt.Sprintf("%s%d:%d", pagePrefix(key.OwnerID), key.Offset, key.Limit)
}

func indexKey(ownerID string) string {
	return fmt.Sprintf("feedpages:%s", ownerID)
}

func (c *RedisPageCache) Get(ctx context.Context, key domain.PageKey) (*domain.CachedPage, bool, error) {
	data, err := c.client.Get(ctx, pageKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: redis get: %v", domain.ErrStorageUnavailable, err)
	}
	page, err := decodePage(data)
	if err != nil {
		// Entrée illisible = miss, elle sera réécrite
		return nil, false, nil
	}
	return page, true, nil
}

func (c *RedisPageCache) Set(ctx context.Context, key domain.PageKey, page *domain.CachedPage, ttl time.Duration) error {
	data, err := encodePage(page)
	if err != nil {
		return fmt.Errorf("encode cached page: %w", err)
	}

	k := pageKey(key)
	idx := indexKey(key.OwnerID)

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, k, data, ttl)
	pipe.SAdd(ctx, idx, k)
	// L'index vit au moins aussi longtemps que la dernière page écrite
	pipe.Expire(ctx, idx, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis set page: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (c *RedisPageCache) Invalidate(ctx context.Context, ownerID string) error {
	idx := indexKey(ownerID)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("%w: redis list pages: %v", domain.ErrStorageUnavailable, err)
	}
	if err := c.client.Del(ctx, append(keys, idx)...).Err(); err != nil {
		return fmt.Errorf("%w: redis delete pages: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

var _ ports.PageCache = (*RedisPageCache)(nil)
