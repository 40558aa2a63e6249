package ports

import (
	"context"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

// --- DRIVING (Ce que le service expose) ---

// Materializer transforme les events en état de timeline. Chaque méthode doit être rejouable.
type Materializer interface {
	OnPublished(ctx context.Context, ev domain.ContentPublished) error
	OnRetracted(ctx context.Context, ev domain.ContentRetracted) error
	OnEdgeCreated(ctx context.Context, edge domain.FollowEdge) error
	OnEdgeRemoved(ctx context.Context, edge domain.FollowEdge) error
}

// EventHandler est appelé par la boucle de consommation pour chaque message
type EventHandler interface {
	Handle(ctx context.Context, d domain.Delivery) domain.Outcome
}

// FeedReader est le read path public (appelé par l'adapter HTTP)
type FeedReader interface {
	GetFeed(ctx context.Context, req domain.FeedRequest) (*domain.FeedPage, error)
	Stats(ctx context.Context, userID string) (*domain.FeedStats, error)
	Refresh(ctx context.Context, userID string) error
	Activity(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error)
}
