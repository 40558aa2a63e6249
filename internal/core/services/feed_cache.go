package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

const (
	DefaultCacheTTL           = 120 * time.Second
	DefaultHydrateTimeout     = 800 * time.Millisecond
	DefaultHydrateConcurrency = 16
)

type FeedCacheConfig struct {
	TTL                time.Duration
	HydrateTimeout     time.Duration
	HydrateConcurrency int
}

func (c FeedCacheConfig) withDefaults() FeedCacheConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultCacheTTL
	}
	if c.HydrateTimeout <= 0 {
		c.HydrateTimeout = DefaultHydrateTimeout
	}
	if c.HydrateConcurrency <= 0 {
		c.HydrateConcurrency = DefaultHydrateConcurrency
	}
	return c
}

// FeedCache est le read-through devant le store durable : une page manquante est
// reconstruite depuis la tête de partition, hydratée via le Post Service puis mise en cache.
// Les écritures du Materializer n'invalident jamais : la fraîcheur est bornée par le TTL.
type FeedCache struct {
	cache ports.PageCache
	feeds ports.FeedStore
	graph *SocialGraph
	posts ports.PostClient
	cfg   FeedCacheConfig
	log   *slog.Logger
}

func NewFeedCache(cache ports.PageCache, feeds ports.FeedStore, graph *SocialGraph, posts ports.PostClient, cfg FeedCacheConfig, log *slog.Logger) *FeedCache {
	if log == nil {
		log = slog.Default()
	}
	return &FeedCache{
		cache: cache,
		feeds: feeds,
		graph: graph,
		posts: posts,
		cfg:   cfg.withDefaults(),
		log:   log.With("component", "feed_cache"),
	}
}

func (c *FeedCache) GetPage(ctx context.Context, key domain.PageKey) (*domain.CachedPage, error) {
	// 1. Cache (une panne Redis n'est pas fatale : on retombe sur le store)
	page, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("Cache read failed, falling back to store", "user_id", key.OwnerID, "error", err)
	} else if ok {
		return page, nil
	}

	// 2. Fenêtre visible depuis la tête de partition (+1 pour savoir s'il reste des entrées)
	end := key.Offset + key.Limit
	window, degraded, err := c.visibleWindow(ctx, key.OwnerID, end+1)
	if err != nil {
		return nil, err
	}
	hasMore := len(window) > end

	var slice []domain.FeedEntry
	if key.Offset < len(window) {
		slice = window[key.Offset:min(end, len(window))]
	}

	// 3. Hydratation
	posts, failed, err := c.hydrate(ctx, slice)
	if err != nil {
		return nil, err
	}
	page = &domain.CachedPage{Posts: posts, HasMore: hasMore}

	// 4. Populate, sauf page dégradée (on ne fige pas un trou transitoire pendant tout le TTL)
	if degraded || failed {
		c.log.Warn("⚠️ Degraded page not cached", "user_id", key.OwnerID, "offset", key.Offset, "limit", key.Limit)
		return page, nil
	}
	if err := c.cache.Set(context.WithoutCancel(ctx), key, page, c.cfg.TTL); err != nil {
		c.log.Warn("Cache write failed", "user_id", key.OwnerID, "error", err)
	}
	return page, nil
}

// visibleWindow renvoie les `need` premières entrées encore visibles (politique d'unfollow à la lecture).
// Les entrées d'auteurs qui ne sont plus suivis sont écartées ; la lecture est élargie jusqu'à
// remplir la fenêtre ou épuiser la partition (bornée par la rétention). Les posts de l'owner sont
// toujours gardés. Si le graphe est illisible on ne filtre pas et la page est dégradée.
func (c *FeedCache) visibleWindow(ctx context.Context, ownerID string, need int) ([]domain.FeedEntry, bool, error) {
	n := need
	raw, err := c.feeds.Head(ctx, ownerID, n)
	if err != nil {
		return nil, false, fmt.Errorf("read timeline window: %w", err)
	}
	if len(raw) == 0 {
		return raw, false, nil
	}

	following, err := c.graph.ListFollowing(ctx, ownerID)
	if err != nil {
		c.log.Warn("Following set unavailable, unfollow filter skipped", "user_id", ownerID, "error", err)
		return raw, true, nil
	}
	allowed := make(map[string]struct{}, len(following)+1)
	allowed[ownerID] = struct{}{}
	for _, id := range following {
		allowed[id] = struct{}{}
	}

	for {
		window := filterAuthors(raw, allowed)
		if len(window) >= need || len(raw) < n {
			return window, false, nil
		}
		n *= 2
		if raw, err = c.feeds.Head(ctx, ownerID, n); err != nil {
			return nil, false, fmt.Errorf("read timeline window: %w", err)
		}
	}
}

func filterAuthors(entries []domain.FeedEntry, allowed map[string]struct{}) []domain.FeedEntry {
	kept := make([]domain.FeedEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := allowed[e.AuthorID]; ok {
			kept = append(kept, e)
		}
	}
	return kept
}

// hydrate résout chaque entrée en parallèle (borné), chacune avec son propre timeout.
// Un post introuvable est ignoré ; toute autre erreur ignore l'item et marque la page comme dégradée.
func (c *FeedCache) hydrate(ctx context.Context, entries []domain.FeedEntry) ([]*domain.Post, bool, error) {
	results := make([]*domain.Post, len(entries))
	var failed atomic.Bool

	var g errgroup.Group
	g.SetLimit(c.cfg.HydrateConcurrency)
	for i, e := range entries {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.HydrateTimeout)
			defer cancel()

			p, err := c.posts.GetPost(callCtx, e.PostID)
			switch {
			case err == nil:
				results[i] = p
			case errors.Is(err, domain.ErrPostNotFound):
				c.log.Debug("Retracted post skipped", "post_id", e.PostID, "user_id", e.OwnerID)
			default:
				failed.Store(true)
				c.log.Warn("Hydration failed, item skipped", "post_id", e.PostID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Appelant parti : on abandonne la page
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	posts := make([]*domain.Post, 0, len(results))
	for _, p := range results {
		if p != nil {
			posts = append(posts, p)
		}
	}
	return posts, failed.Load(), nil
}

func (c *FeedCache) Invalidate(ctx context.Context, ownerID string) error {
	if err := c.cache.Invalidate(ctx, ownerID); err != nil {
		return fmt.Errorf("invalidate cached pages of %s: %w", ownerID, err)
	}
	return nil
}
