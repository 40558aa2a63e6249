package domain

import "time"

// FeedEntry : "PostID (écrit par AuthorID) apparaît dans la timeline de OwnerID au rang CreatedAt".
// Partition = OwnerID, tri décroissant sur CreatedAt. La clé de stockage est (OwnerID, CreatedAt) :
// deux entrées au même instant pour le même owner se chevauchent (risque accepté).
type FeedEntry struct {
	OwnerID   string
	CreatedAt time.Time
	PostID    string
	AuthorID  string
}

// NormalizeTime ramène un instant à la précision commune de tous les stores (µs, UTC).
// Sans ça, Postgres (µs) et Pebble (ns) ne produiraient pas la même clé pour le même event.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

type Media struct {
	ID   string
	URL  string
	Type MediaType
}

// Post est la vue hydratée renvoyée par le Post Service (collaborateur externe)
type Post struct {
	ID        string
	AuthorID  string
	Content   string
	Media     []Media
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FeedRequest encapsule les critères de lecture (pagination par offset)
type FeedRequest struct {
	UserID string
	Offset int
	Limit  int
}

// PageKey identifie une page en cache : (owner, offset, limit)
type PageKey struct {
	OwnerID string
	Offset  int
	Limit   int
}

// CachedPage est exactement ce qui est stocké dans le cache
type CachedPage struct {
	Posts   []*Post
	HasMore bool
}

// FeedPage est la réponse du read path
type FeedPage struct {
	Posts      []*Post
	HasMore    bool
	NextOffset int
}

type FeedStats struct {
	FeedSize       int64
	FollowingCount int64
	FollowersCount int64
}
