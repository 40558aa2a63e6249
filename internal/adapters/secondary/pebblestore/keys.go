package pebblestore

import (
	"encoding/binary"
	"time"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

// Layout (octet par octet, triable lexicographiquement) :
// - feed/{owner}/{rank_be8}            rank = inverse du temps en µs : la tête de partition vient en premier
// - edge/{direction}/{owner}/{peer}
// - act/{owner}/{rank_be8}{uuid}

const sep = byte('/')

var (
	feedSeg     = []byte("feed/")
	edgeSeg     = []byte("edge/")
	activitySeg = []byte("act/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// rank ordonne du plus récent au plus ancien (bit de signe inversé pour trier aussi les instants < 1970)
func rank(t time.Time) uint64 {
	return ^(uint64(domain.NormalizeTime(t).UnixMicro()) ^ (1 << 63))
}

func unrank(r uint64) time.Time {
	return time.UnixMicro(int64(^r ^ (1 << 63))).UTC()
}

func feedPrefix(ownerID string) []byte {
	k := make([]byte, 0, len(feedSeg)+len(ownerID)+1)
	k = append(k, feedSeg...)
	k = append(k, ownerID...)
	return append(k, sep)
}

func feedKey(ownerID string, createdAt time.Time) []byte {
	return appendBE8(feedPrefix(ownerID), rank(createdAt))
}

func edgePrefix(dir domain.Direction, ownerID string) []byte {
	d := dir.String()
	k := make([]byte, 0, len(edgeSeg)+len(d)+len(ownerID)+2)
	k = append(k, edgeSeg...)
	k = append(k, d...)
	k = append(k, sep)
	k = append(k, ownerID...)
	return append(k, sep)
}

func edgeKey(dir domain.Direction, ownerID, peerID string) []byte {
	return append(edgePrefix(dir, ownerID), peerID...)
}

func activityPrefix(ownerID string) []byte {
	k := make([]byte, 0, len(activitySeg)+len(ownerID)+1)
	k = append(k, activitySeg...)
	k = append(k, ownerID...)
	return append(k, sep)
}

func activityKey(e domain.ActivityEntry) []byte {
	k := appendBE8(activityPrefix(e.OwnerID), rank(e.CreatedAt))
	return append(k, e.ActivityID[:]...)
}

// prefixEnd renvoie la plus petite clé strictement supérieure à toutes celles du préfixe.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
