package services

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Reader implémente ports.FeedReader
type Reader struct {
	pages    *FeedCache
	feeds    ports.FeedStore
	graph    *SocialGraph
	activity ports.ActivityStore
	log      *slog.Logger
}

func NewReader(pages *FeedCache, feeds ports.FeedStore, graph *SocialGraph, activity ports.ActivityStore, log *slog.Logger) *Reader {
	if log == nil {
		log = slog.Default()
	}
	return &Reader{
		pages:    pages,
		feeds:    feeds,
		graph:    graph,
		activity: activity,
		log:      log.With("component", "reader"),
	}
}

func (r *Reader) GetFeed(ctx context.Context, req domain.FeedRequest) (*domain.FeedPage, error) {
	if err := domain.ValidateID("user", req.UserID); err != nil {
		return nil, err
	}
	limit := clampLimit(req.Limit)
	offset := max(req.Offset, 0)

	page, err := r.pages.GetPage(ctx, domain.PageKey{OwnerID: req.UserID, Offset: offset, Limit: limit})
	if err != nil {
		return nil, err
	}

	// Avec des posts rétractés la page peut être plus courte que limit : on avance quand même de limit
	next := offset + len(page.Posts)
	if page.HasMore {
		next = offset + limit
	}

	return &domain.FeedPage{Posts: page.Posts, HasMore: page.HasMore, NextOffset: next}, nil
}

func (r *Reader) Stats(ctx context.Context, userID string) (*domain.FeedStats, error) {
	if err := domain.ValidateID("user", userID); err != nil {
		return nil, err
	}

	var stats domain.FeedStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.FeedSize, err = r.feeds.Count(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		stats.FollowingCount, err = r.graph.CountFollowing(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		stats.FollowersCount, err = r.graph.CountFollowers(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("feed stats of %s: %w", userID, err)
	}
	return &stats, nil
}

// Refresh vide les pages en cache : la lecture suivante repart du store durable.
func (r *Reader) Refresh(ctx context.Context, userID string) error {
	if err := domain.ValidateID("user", userID); err != nil {
		return err
	}
	if err := r.pages.Invalidate(ctx, userID); err != nil {
		return err
	}
	r.log.Info("🔄 Timeline cache refreshed", "user_id", userID)
	return nil
}

func (r *Reader) Activity(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	if err := domain.ValidateID("user", userID); err != nil {
		return nil, err
	}
	return r.activity.List(ctx, userID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	return min(limit, MaxPageLimit)
}

var _ ports.FeedReader = (*Reader)(nil)
