package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

const (
	DefaultRetention         = 1000 // entrées gardées par timeline
	DefaultBackfillLimit     = 20   // posts recopiés au moment du follow
	DefaultFanoutConcurrency = 32
)

type MaterializerConfig struct {
	Retention         int
	BackfillLimit     int
	FanoutConcurrency int
}

func (c MaterializerConfig) withDefaults() MaterializerConfig {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.BackfillLimit <= 0 {
		c.BackfillLimit = DefaultBackfillLimit
	}
	if c.FanoutConcurrency <= 0 {
		c.FanoutConcurrency = DefaultFanoutConcurrency
	}
	return c
}

// Materializer implémente ports.Materializer (fan-out-on-write).
type Materializer struct {
	feeds    ports.FeedStore
	graph    *SocialGraph
	posts    ports.PostClient
	activity ports.ActivityStore
	cfg      MaterializerConfig
	log      *slog.Logger
}

func NewMaterializer(feeds ports.FeedStore, graph *SocialGraph, posts ports.PostClient, activity ports.ActivityStore, cfg MaterializerConfig, log *slog.Logger) *Materializer {
	if log == nil {
		log = slog.Default()
	}
	return &Materializer{
		feeds:    feeds,
		graph:    graph,
		posts:    posts,
		activity: activity,
		cfg:      cfg.withDefaults(),
		log:      log.With("component", "materializer"),
	}
}

// OnPublished pousse le post dans la timeline de chaque follower + celle de l'auteur.
// Un échec sur une cible n'interrompt pas les autres. On ne renvoie une erreur (=> rejeu)
// que si la liste des followers est illisible ou si AUCUNE cible n'a pu être écrite.
func (m *Materializer) OnPublished(ctx context.Context, ev domain.ContentPublished) error {
	m.log.Debug("📢 Fan-out starting", "post_id", ev.PostID, "author_id", ev.AuthorID)

	// 1. Followers autoritaires (jamais depuis le cache)
	followers, err := m.graph.ListFollowers(ctx, ev.AuthorID)
	if err != nil {
		return fmt.Errorf("list followers of %s: %w", ev.AuthorID, err)
	}
	targets := fanoutTargets(ev.AuthorID, followers)

	// 2. Écritures indépendantes, en parallèle borné
	createdAt := domain.NormalizeTime(ev.CreatedAt)
	var (
		mu       sync.Mutex
		failed   int
		firstErr error
	)
	var g errgroup.Group
	g.SetLimit(m.cfg.FanoutConcurrency)
	for _, owner := range targets {
		g.Go(func() error {
			entry := domain.FeedEntry{OwnerID: owner, CreatedAt: createdAt, PostID: ev.PostID, AuthorID: ev.AuthorID}
			if err := m.deliver(ctx, entry); err != nil {
				mu.Lock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if failed == len(targets) {
		return fmt.Errorf("fan-out of post %s failed for all %d targets: %w", ev.PostID, failed, firstErr)
	}
	if failed > 0 {
		m.log.Warn("⚠️ Partial fan-out", "post_id", ev.PostID, "failed", failed, "targets", len(targets))
	}

	m.log.Info("✅ Fan-out complete", "post_id", ev.PostID, "count", len(targets)-failed)
	return nil
}

// deliver écrit une entrée puis borne la partition. Le trim est tenté même si l'upsert a échoué.
func (m *Materializer) deliver(ctx context.Context, entry domain.FeedEntry) error {
	upsertErr := m.feeds.Upsert(ctx, entry)
	if upsertErr != nil {
		m.log.Warn("❌ Failed to write feed entry", "user_id", entry.OwnerID, "post_id", entry.PostID, "error", upsertErr)
	}
	m.trim(ctx, entry.OwnerID)
	return upsertErr
}

func (m *Materializer) trim(ctx context.Context, ownerID string) {
	removed, err := m.feeds.Trim(ctx, ownerID, m.cfg.Retention)
	if err != nil {
		m.log.Warn("Failed to trim timeline", "user_id", ownerID, "error", err)
		return
	}
	if removed > 0 {
		m.log.Debug("Timeline trimmed", "user_id", ownerID, "removed", removed)
	}
}

// OnRetracted ne purge rien : trouver toutes les partitions qui référencent le post est hors budget.
// Les lignes restent en place et le read path les écarte quand l'hydratation répond "not found".
func (m *Materializer) OnRetracted(ctx context.Context, ev domain.ContentRetracted) error {
	m.log.Info("🗑️ Post retracted, left for lazy filtering", "post_id", ev.PostID, "author_id", ev.AuthorID)
	return nil
}

// OnEdgeCreated écrit la relation puis recopie les derniers posts du followee
// avec leur CreatedAt d'origine (et non l'heure du follow).
func (m *Materializer) OnEdgeCreated(ctx context.Context, edge domain.FollowEdge) error {
	if edge.FollowerID == edge.FolloweeID {
		return fmt.Errorf("%w: self-follow %q", domain.ErrInvalidIdentifier, edge.FollowerID)
	}

	applied, err := m.graph.AddEdge(ctx, edge)
	if err != nil {
		return err
	}
	if !applied {
		m.log.Info("Stale edge.created ignored", "follower_id", edge.FollowerID, "followee_id", edge.FolloweeID, "version", edge.Version)
		return nil
	}

	if m.activity != nil && !edge.At.IsZero() {
		m.recordActivity(ctx, domain.NewFollowActivity(edge))
	}

	return m.backfill(ctx, edge.FollowerID, edge.FolloweeID)
}

func (m *Materializer) backfill(ctx context.Context, followerID, followeeID string) error {
	posts, err := m.posts.ListByAuthor(ctx, followeeID, m.cfg.BackfillLimit)
	if err != nil {
		return fmt.Errorf("backfill posts of %s: %w", followeeID, err)
	}
	if len(posts) > m.cfg.BackfillLimit {
		posts = posts[:m.cfg.BackfillLimit]
	}

	written := 0
	var lastErr error
	for _, p := range posts {
		if p == nil || domain.ValidateID("post", p.ID) != nil {
			continue
		}
		entry := domain.FeedEntry{
			OwnerID:   followerID,
			CreatedAt: domain.NormalizeTime(p.CreatedAt),
			PostID:    p.ID,
			AuthorID:  followeeID,
		}
		if err := m.feeds.Upsert(ctx, entry); err != nil {
			lastErr = err
			m.log.Warn("❌ Backfill write failed", "user_id", followerID, "post_id", p.ID, "error", err)
			continue
		}
		written++
	}
	m.trim(ctx, followerID)

	if written == 0 && lastErr != nil {
		return fmt.Errorf("backfill into %s: %w", followerID, lastErr)
	}
	m.log.Info("✅ Backfill complete", "user_id", followerID, "followee_id", followeeID, "count", written)
	return nil
}

func (m *Materializer) recordActivity(ctx context.Context, entry domain.ActivityEntry) {
	if err := m.activity.Record(ctx, entry); err != nil {
		// Notification best effort : ne bloque pas le follow
		m.log.Warn("Failed to record activity", "user_id", entry.OwnerID, "kind", entry.Kind, "error", err)
		return
	}
	if _, err := m.activity.Trim(ctx, entry.OwnerID, m.cfg.Retention); err != nil {
		m.log.Warn("Failed to trim activity", "user_id", entry.OwnerID, "error", err)
	}
}

// OnEdgeRemoved retire la relation. Les entrées déjà matérialisées ne sont pas purgées :
// le read path les filtre contre l'ensemble "following" courant.
func (m *Materializer) OnEdgeRemoved(ctx context.Context, edge domain.FollowEdge) error {
	applied, err := m.graph.RemoveEdge(ctx, edge)
	if err != nil {
		return err
	}
	if !applied {
		m.log.Info("Stale edge.removed ignored", "follower_id", edge.FollowerID, "followee_id", edge.FolloweeID, "version", edge.Version)
	}
	return nil
}

// fanoutTargets = followers ∪ {auteur}, sans doublon
func fanoutTargets(authorID string, followers []string) []string {
	seen := make(map[string]struct{}, len(followers)+1)
	targets := make([]string, 0, len(followers)+1)
	for _, id := range append([]string{authorID}, followers...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	return targets
}

var _ ports.Materializer = (*Materializer)(nil)

