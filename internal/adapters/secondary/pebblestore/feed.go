package pebblestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

type feedValue struct {
	PostID   string `json:"post_id"`
	AuthorID string `json:"author_id"`
}

// FeedStore implémente ports.FeedStore sur Pebble
type FeedStore struct {
	db *DB
}

func NewFeedStore(db *DB) *FeedStore {
	return &FeedStore{db: db}
}

func (s *FeedStore) Upsert(ctx context.Context, entry domain.FeedEntry) error {
	val, err := json.Marshal(feedValue{PostID: entry.PostID, AuthorID: entry.AuthorID})
	if err != nil {
		return fmt.Errorf("encode feed entry: %w", err)
	}
	return s.db.set(feedKey(entry.OwnerID, entry.CreatedAt), val)
}

// Trim supprime tout ce qui dépasse les `keep` premières clés du préfixe, en un seul batch.
func (s *FeedStore) Trim(ctx context.Context, ownerID string, keep int) (int, error) {
	return trimPrefix(s.db, feedPrefix(ownerID), keep)
}

func (s *FeedStore) Head(ctx context.Context, ownerID string, n int) ([]domain.FeedEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	prefix := feedPrefix(ownerID)
	entries := make([]domain.FeedEntry, 0, min(n, 256))
	err := s.db.scan(prefix, func(key, value []byte) (bool, error) {
		if len(key) != len(prefix)+8 {
			return true, nil
		}
		var v feedValue
		if err := json.Unmarshal(value, &v); err != nil {
			return false, fmt.Errorf("%w: corrupt feed entry: %v", domain.ErrStorageUnavailable, err)
		}
		entries = append(entries, domain.FeedEntry{
			OwnerID:   ownerID,
			CreatedAt: unrank(binary.BigEndian.Uint64(key[len(prefix):])),
			PostID:    v.PostID,
			AuthorID:  v.AuthorID,
		})
		return len(entries) < n, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *FeedStore) Count(ctx context.Context, ownerID string) (int64, error) {
	return countPrefix(s.db, feedPrefix(ownerID))
}

func trimPrefix(db *DB, prefix []byte, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	var stale [][]byte
	seen := 0
	err := db.scan(prefix, func(key, _ []byte) (bool, error) {
		seen++
		if seen > keep {
			stale = append(stale, append([]byte(nil), key...))
		}
		return true, nil
	})
	if err != nil || len(stale) == 0 {
		return 0, err
	}

	b := db.newBatch()
	defer b.Close()
	for _, k := range stale {
		if err := b.Delete(k, nil); err != nil {
			return 0, storageErr("delete", err)
		}
	}
	if err := db.commit(b); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func countPrefix(db *DB, prefix []byte) (int64, error) {
	var n int64
	err := db.scan(prefix, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

var _ ports.FeedStore = (*FeedStore)(nil)
