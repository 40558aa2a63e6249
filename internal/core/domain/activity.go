package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ActivityKind string

// Seul follow est produit : les likes et commentaires ne passent pas par ce service
const ActivityFollow ActivityKind = "follow"

// ActivityEntry : notification dans le fil d'activité de OwnerID (même partitionnement que FeedEntry)
type ActivityEntry struct {
	OwnerID    string
	CreatedAt  time.Time
	ActivityID uuid.UUID
	Kind       ActivityKind
	ActorID    string
	TargetID   string
	TargetType string
	Metadata   map[string]string
}

// Namespace fixe : l'ID d'une activité est dérivé de son contenu, un rejeu réécrit la même ligne.
var activityNamespace = uuid.MustParse("6f1c2a4e-5b7d-4c1e-9a3f-2d8e7b6c5a41")

// NewFollowActivity construit la notification "follower suit followee" destinée au followee.
func NewFollowActivity(edge FollowEdge) ActivityEntry {
	at := NormalizeTime(edge.At)
	name := fmt.Sprintf("%s|%s|%s|%d", ActivityFollow, edge.FollowerID, edge.FolloweeID, at.UnixMicro())
	return ActivityEntry{
		OwnerID:    edge.FolloweeID,
		CreatedAt:  at,
		ActivityID: uuid.NewSHA1(activityNamespace, []byte(name)),
		Kind:       ActivityFollow,
		ActorID:    edge.FollowerID,
		TargetID:   edge.FolloweeID,
		TargetType: "user",
	}
}
