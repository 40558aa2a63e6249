package domain

import "time"

// Direction désigne l'un des deux index physiques d'une relation follow.
type Direction int

const (
	// DirectionFollowing : indexé par le follower ("qui X suit-il ?")
	DirectionFollowing Direction = iota + 1
	// DirectionFollowers : indexé par le followee ("qui suit X ?")
	DirectionFollowers
)

func (d Direction) String() string {
	switch d {
	case DirectionFollowing:
		return "following"
	case DirectionFollowers:
		return "followers"
	default:
		return "unknown"
	}
}

// FollowEdge représente un lien dirigé Follower -> Followee.
// Version est la séquence du stream qui a produit l'écriture : une écriture plus ancienne
// que la version stockée est ignorée, ce qui rend l'ordre d'arrivée des events indifférent.
type FollowEdge struct {
	FollowerID string
	FolloweeID string
	Version    uint64
	At         time.Time
}
