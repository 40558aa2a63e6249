package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

type memoryItem struct {
	page      *domain.CachedPage
	expiresAt time.Time
}

// MemoryPageCache est le cache local au process (un seul replica, tests, dev).
// L'LRU borne la taille ; l'expiration par entrée respecte le ttl passé à Set.
type MemoryPageCache struct {
	lru *expirable.LRU[string, memoryItem]
	now func() time.Time
}

// NewMemoryPageCache : maxTTL est la durée de vie plafond appliquée par l'LRU.
func NewMemoryPageCache(size int, maxTTL time.Duration) *MemoryPageCache {
	if size <= 0 {
		size = 10_000
	}
	return &MemoryPageCache{
		lru: expirable.NewLRU[string, memoryItem](size, nil, maxTTL),
		now: time.Now,
	}
}

func (c *MemoryPageCache) Get(ctx context.Context, key domain.PageKey) (*domain.CachedPage, bool, error) {
	k := pageKey(key)
	item, ok := c.lru.Get(k)
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(item.expiresAt) {
		c.lru.Remove(k)
		return nil, false, nil
	}
	return clonePage(item.page), true, nil
}

func (c *MemoryPageCache) Set(ctx context.Context, key domain.PageKey, page *domain.CachedPage, ttl time.Duration) error {
	c.lru.Add(pageKey(key), memoryItem{page: clonePage(page), expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *MemoryPageCache) Invalidate(ctx context.Context, ownerID string) error {
	prefix := pagePrefix(ownerID)
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
	return nil
}

// clonePage copie la page et sa slice ; les *Post restent partagés et sont traités en lecture seule.
func clonePage(page *domain.CachedPage) *domain.CachedPage {
	if page == nil {
		return nil
	}
	cp := *page
	cp.Posts = append([]*domain.Post(nil), page.Posts...)
	return &cp
}

var _ ports.PageCache = (*MemoryPageCache)(nil)
