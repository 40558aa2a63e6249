package pebblestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

type activityValue struct {
	ActivityID uuid.UUID           `json:"activity_id"`
	CreatedAt  time.Time           `json:"created_at"`
	Kind       domain.ActivityKind `json:"kind"`
	ActorID    string              `json:"actor_id"`
	TargetID   string              `json:"target_id"`
	TargetType string              `json:"target_type"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

// ActivityStore implémente ports.ActivityStore sur Pebble
type ActivityStore struct {
	db *DB
}

func NewActivityStore(db *DB) *ActivityStore {
	return &ActivityStore{db: db}
}

func (s *ActivityStore) Record(ctx context.Context, e domain.ActivityEntry) error {
	val, err := json.Marshal(activityValue{
		ActivityID: e.ActivityID,
		CreatedAt:  domain.NormalizeTime(e.CreatedAt),
		Kind:       e.Kind,
		ActorID:    e.ActorID,
		TargetID:   e.TargetID,
		TargetType: e.TargetType,
		Metadata:   e.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	return s.db.set(activityKey(e), val)
}

func (s *ActivityStore) Trim(ctx context.Context, ownerID string, keep int) (int, error) {
	return trimPrefix(s.db, activityPrefix(ownerID), keep)
}

func (s *ActivityStore) List(ctx context.Context, ownerID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []domain.ActivityEntry
	err := s.db.scan(activityPrefix(ownerID), func(_, value []byte) (bool, error) {
		var v activityValue
		if err := json.Unmarshal(value, &v); err != nil {
			return false, fmt.Errorf("%w: corrupt activity entry: %v", domain.ErrStorageUnavailable, err)
		}
		out = append(out, domain.ActivityEntry{
			OwnerID:    ownerID,
			CreatedAt:  v.CreatedAt.UTC(),
			ActivityID: v.ActivityID,
			Kind:       v.Kind,
			ActorID:    v.ActorID,
			TargetID:   v.TargetID,
			TargetType: v.TargetType,
			Metadata:   v.Metadata,
		})
		return len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ ports.ActivityStore = (*ActivityStore)(nil)
