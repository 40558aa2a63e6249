package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

// SocialGraph est le Social Graph Store : chaque relation est écrite deux fois
// (index "following" puis index "followers"), en deux écritures indépendantes.
// Si la seconde échoue, la relation reste unilatérale jusqu'à la réconciliation (hors périmètre) ;
// on ne corrige rien ici, on remonte l'erreur pour que l'event soit rejoué.
type SocialGraph struct {
	index ports.EdgeIndex
	log   *slog.Logger
}

func NewSocialGraph(index ports.EdgeIndex, log *slog.Logger) *SocialGraph {
	if log == nil {
		log = slog.Default()
	}
	return &SocialGraph{index: index, log: log.With("component", "graph")}
}

// AddEdge renvoie false si l'écriture a été ignorée parce qu'un event plus récent
// a déjà modifié cette relation.
func (g *SocialGraph) AddEdge(ctx context.Context, edge domain.FollowEdge) (bool, error) {
	return g.write(ctx, edge, true)
}

func (g *SocialGraph) RemoveEdge(ctx context.Context, edge domain.FollowEdge) (bool, error) {
	return g.write(ctx, edge, false)
}

func (g *SocialGraph) write(ctx context.Context, edge domain.FollowEdge, active bool) (bool, error) {
	if err := domain.ValidateID("follower", edge.FollowerID); err != nil {
		return false, err
	}
	if err := domain.ValidateID("followee", edge.FolloweeID); err != nil {
		return false, err
	}

	// 1. Index par follower
	appliedFollowing, err := g.index.Put(ctx, domain.DirectionFollowing, edge.FollowerID, edge.FolloweeID, edge.Version, active)
	if err != nil {
		return false, fmt.Errorf("write following index: %w", err)
	}

	// 2. Index par followee (écriture indépendante)
	appliedFollowers, err := g.index.Put(ctx, domain.DirectionFollowers, edge.FolloweeID, edge.FollowerID, edge.Version, active)
	if err != nil {
		g.log.Warn("⚠️ One-sided edge left behind",
			"follower_id", edge.FollowerID, "followee_id", edge.FolloweeID, "active", active, "error", err)
		return false, fmt.Errorf("write followers index: %w", err)
	}

	return appliedFollowing && appliedFollowers, nil
}

// ListFollowers lit l'index "followers" : c'est la source autoritaire du fan-out.
func (g *SocialGraph) ListFollowers(ctx context.Context, userID string) ([]string, error) {
	return g.index.List(ctx, domain.DirectionFollowers, userID)
}

func (g *SocialGraph) ListFollowing(ctx context.Context, userID string) ([]string, error) {
	return g.index.List(ctx, domain.DirectionFollowing, userID)
}

func (g *SocialGraph) CountFollowers(ctx context.Context, userID string) (int64, error) {
	return g.index.Count(ctx, domain.DirectionFollowers, userID)
}

func (g *SocialGraph) CountFollowing(ctx context.Context, userID string) (int64, error) {
	return g.index.Count(ctx, domain.DirectionFollowing, userID)
}
