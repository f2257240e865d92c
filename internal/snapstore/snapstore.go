// Package snapstore keeps object snapshots in BadgerDB. Keys are
// snap/<escaped object id>/<zero padded rev id>, so a reverse seek finds the
// nearest snapshot at or before a revision.
package snapstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/marcus/revsync/internal/revision"
)

var _ revision.SnapshotDiskCache = (*Store)(nil)

// Config configures a Store. Path is required unless InMemory is set.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal logs; nil silences them.
	Logger *slog.Logger
}

// Store is a badger backed snapshot cache.
type Store struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the store described by cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("snapstore: path is required")
	default:
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create snapshot dir %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway store.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// prefix escapes the object id so no id's key range nests inside another's.
func prefix(objectID string) []byte {
	return []byte("snap/" + url.PathEscape(objectID) + "/")
}

func key(objectID string, revID int64) []byte {
	return fmt.Appendf(prefix(objectID), "%020d", revID)
}

// WriteSnapshot stores snap, replacing any snapshot at the same rev id.
func (s *Store) WriteSnapshot(_ context.Context, snap revision.Snapshot) error {
	if snap.RevID < 0 {
		return fmt.Errorf("write snapshot: negative rev id %d", snap.RevID)
	}
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(snap.ObjectID, snap.RevID), val)
	})
	if err != nil {
		return fmt.Errorf("write snapshot %d of %s: %w", snap.RevID, snap.ObjectID, err)
	}
	return nil
}

// ReadSnapshot returns the snapshot with the greatest rev id <= revID.
func (s *Store) ReadSnapshot(_ context.Context, objectID string, revID int64) (*revision.Snapshot, error) {
	if revID < 0 {
		return nil, nil
	}
	return s.seekBack(objectID, key(objectID, revID))
}

// ReadLastSnapshot returns the newest snapshot of the object.
func (s *Store) ReadLastSnapshot(_ context.Context, objectID string) (*revision.Snapshot, error) {
	return s.seekBack(objectID, append(prefix(objectID), 0xff))
}

func (s *Store) seekBack(objectID string, from []byte) (*revision.Snapshot, error) {
	var out *revision.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix(objectID)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(from)
		if !it.Valid() {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			var snap revision.Snapshot
			if err := json.Unmarshal(val, &snap); err != nil {
				return fmt.Errorf("decode snapshot %s: %w", it.Item().Key(), err)
			}
			if snap.ObjectID != objectID {
				return fmt.Errorf("snapshot %s belongs to %q", it.Item().Key(), snap.ObjectID)
			}
			out = &snap
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot of %s: %w", objectID, err)
	}
	return out, nil
}

// Snapshots lists the rev ids with a stored snapshot, oldest first.
func (s *Store) Snapshots(objectID string) ([]int64, error) {
	var ids []int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix(objectID)
		it := txn.NewIterator(opts)
		defer it.Close()

		p := len(opts.Prefix)
		for it.Rewind(); it.Valid(); it.Next() {
			var id int64
			if _, err := fmt.Sscanf(string(it.Item().Key()[p:]), "%d", &id); err != nil {
				return fmt.Errorf("parse key %s: %w", it.Item().Key(), err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots of %s: %w", objectID, err)
	}
	return ids, nil
}

// Prune deletes all snapshots of the object older than keepFrom.
func (s *Store) Prune(objectID string, keepFrom int64) (int, error) {
	ids, err := s.Snapshots(objectID)
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if id >= keepFrom {
				break
			}
			if err := txn.Delete(key(objectID, id)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune snapshots of %s: %w", objectID, err)
	}
	return n, nil
}

// RunGC runs one value log GC pass. badger.ErrNoRewrite means nothing was
// worth collecting and is not reported.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("snapshot gc: %w", err)
	}
	return nil
}
