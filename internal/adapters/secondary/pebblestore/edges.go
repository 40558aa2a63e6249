package pebblestore

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

// valeur d'une relation : version (BE8) + drapeau actif (1 octet)
const edgeValueLen = 9

// EdgeIndex implémente ports.EdgeIndex. Une relation retirée reste en place (tombstone
// active=false) pour que sa version continue d'écarter les events plus anciens.
type EdgeIndex struct {
	db *DB
	mu sync.Mutex // sérialise le read-modify-write de Put
}

func NewEdgeIndex(db *DB) *EdgeIndex {
	return &EdgeIndex{db: db}
}

func (x *EdgeIndex) Put(ctx context.Context, dir domain.Direction, ownerID, peerID string, version uint64, active bool) (bool, error) {
	key := edgeKey(dir, ownerID, peerID)

	x.mu.Lock()
	defer x.mu.Unlock()

	cur, ok, err := x.db.get(key)
	if err != nil {
		return false, err
	}
	if ok && len(cur) == edgeValueLen && binary.BigEndian.Uint64(cur[:8]) > version {
		return false, nil
	}

	val := appendBE8(make([]byte, 0, edgeValueLen), version)
	if active {
		val = append(val, 1)
	} else {
		val = append(val, 0)
	}
	if err := x.db.set(key, val); err != nil {
		return false, err
	}
	return true, nil
}

func (x *EdgeIndex) List(ctx context.Context, dir domain.Direction, ownerID string) ([]string, error) {
	prefix := edgePrefix(dir, ownerID)
	var peers []string
	err := x.db.scan(prefix, func(key, value []byte) (bool, error) {
		if isActive(value) {
			peers = append(peers, string(key[len(prefix):]))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return peers, nil
}

func (x *EdgeIndex) Count(ctx context.Context, dir domain.Direction, ownerID string) (int64, error) {
	var n int64
	err := x.db.scan(edgePrefix(dir, ownerID), func(_, value []byte) (bool, error) {
		if isActive(value) {
			n++
		}
		return true, nil
	})
	return n, err
}

func isActive(value []byte) bool {
	return len(value) == edgeValueLen && value[8] == 1
}

var _ ports.EdgeIndex = (*EdgeIndex)(nil)
