package ports

import (
	"context"
	"time"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

// --- DRIVEN (Ce dont le service a besoin) ---

// FeedStore est le store durable et ordonné des timelines (partition = owner, tri CreatedAt DESC).
// Les erreurs d'infrastructure wrappent domain.ErrStorageUnavailable.
type FeedStore interface {
	// Upsert écrit l'entrée ; la clé (owner, createdAt) rend un rejeu idempotent
	Upsert(ctx context.Context, entry domain.FeedEntry) error

	// Trim ne garde que les `keep` entrées les plus récentes de l'owner
	Trim(ctx context.Context, ownerID string, keep int) (int, error)

	// Head renvoie les n entrées les plus récentes (tête de partition)
	Head(ctx context.Context, ownerID string, n int) ([]domain.FeedEntry, error)

	Count(ctx context.Context, ownerID string) (int64, error)
}

// EdgeIndex est UN index physique des relations follow, par direction.
// Le Social Graph Store écrit les deux directions indépendamment.
type EdgeIndex interface {
	// Put applique l'écriture si version >= version stockée ; renvoie false si elle est périmée
	Put(ctx context.Context, dir domain.Direction, ownerID, peerID string, version uint64, active bool) (bool, error)

	// List renvoie les pairs actifs de l'owner dans cette direction (sans doublon)
	List(ctx context.Context, dir domain.Direction, ownerID string) ([]string, error)

	Count(ctx context.Context, dir domain.Direction, ownerID string) (int64, error)
}

// ActivityStore stocke les notifications (follow)
type ActivityStore interface {
	Record(ctx context.Context, entry domain.ActivityEntry) error
	Trim(ctx context.Context, ownerID string, keep int) (int, error)
	List(ctx context.Context, ownerID string, limit int) ([]domain.ActivityEntry, error)
}

// PageCache est le cache éphémère des pages hydratées. Jamais source de vérité.
type PageCache interface {
	// Get renvoie (nil, false, nil) sur un miss
	Get(ctx context.Context, key domain.PageKey) (*domain.CachedPage, bool, error)
	Set(ctx context.Context, key domain.PageKey, page *domain.CachedPage, ttl time.Duration) error

	// Invalidate évince toutes les pages d'un utilisateur
	Invalidate(ctx context.Context, ownerID string) error
}

// PostClient est le contrat du Post Service (collaborateur externe)
type PostClient interface {
	// GetPost renvoie domain.ErrPostNotFound si le post n'existe plus, domain.ErrUpstream sur timeout/réseau
	GetPost(ctx context.Context, postID string) (*domain.Post, error)

	// ListByAuthor renvoie les `limit` posts les plus récents de l'auteur, triés CreatedAt DESC
	ListByAuthor(ctx context.Context, authorID string, limit int) ([]*domain.Post, error)
}

// EventPublisher pousse un event sur le topic durable (outillage / autres services)
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}
