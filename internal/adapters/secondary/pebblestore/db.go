// Package pebblestore stocke timelines, relations et activités dans une base Pebble embarquée.
// Toutes les clés sont triables octet par octet ; une partition = un préfixe.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: "./data"})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	feeds := pebblestore.NewFeedStore(db)
//	edges := pebblestore.NewEdgeIndex(db)
package pebblestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

// FsyncMode définit quand le WAL est synchronisé.
type FsyncMode int

const (
	// FsyncModeInterval : group-commit, les syncs sont regroupés sur FsyncInterval
	FsyncModeInterval FsyncMode = iota
	// FsyncModeAlways : un fsync par batch commité
	FsyncModeAlways
)

type Options struct {
	DataDir       string
	Fsync         FsyncMode
	FsyncInterval time.Duration
	// PebbleOptions pour le tuning avancé ; nil = défauts
	PebbleOptions *pebble.Options
}

// DB enveloppe une instance Pebble avec la politique de fsync.
type DB struct {
	inner     *pebble.DB
	writeSync bool
}

func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	if opts.Fsync == FsyncModeInterval {
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("%w: open pebble at %s: %v", domain.ErrStorageUnavailable, opts.DataDir, err)
	}
	return &DB{inner: inner, writeSync: opts.Fsync == FsyncModeAlways}, nil
}

func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func (db *DB) newBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

func (db *DB) commit(b *pebble.Batch) error {
	syncMode := pebble.NoSync
	if db.writeSync {
		syncMode = pebble.Sync
	}
	if err := b.Commit(syncMode); err != nil {
		return storageErr("commit batch", err)
	}
	return nil
}

func (db *DB) set(key, value []byte) error {
	b := db.newBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return storageErr("set", err)
	}
	return db.commit(b)
}

// get copie la valeur ; (nil, false, nil) si la clé est absente.
func (db *DB) get(key []byte) ([]byte, bool, error) {
	val, closer, err := db.inner.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("get", err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

// scan parcourt le préfixe dans l'ordre des clés ; fn renvoie false pour arrêter.
func (db *DB) scan(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return storageErr("new iterator", err)
	}
	defer func() { _ = it.Close() }()

	for ok := it.First(); ok; ok = it.Next() {
		more, err := fn(it.Key(), it.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if err := it.Error(); err != nil {
		return storageErr("iterate", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: pebble %s: %v", domain.ErrStorageUnavailable, op, err)
}
