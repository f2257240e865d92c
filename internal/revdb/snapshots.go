package revdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/revsync/internal/revision"
)

var _ revision.SnapshotDiskCache = (*DB)(nil)

// WriteSnapshot stores s, replacing a snapshot at the same rev id.
func (db *DB) WriteSnapshot(ctx context.Context, s revision.Snapshot) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (object_id, rev_id, base_rev_id, data, timestamp) VALUES (?, ?, ?, ?, ?)`,
		s.ObjectID, s.RevID, s.BaseRevID, s.Data, s.Timestamp)
	if err != nil {
		return fmt.Errorf("write snapshot %d: %w", s.RevID, err)
	}
	return nil
}

// ReadSnapshot returns the snapshot nearest at or before revID.
func (db *DB) ReadSnapshot(ctx context.Context, objectID string, revID int64) (*revision.Snapshot, error) {
	return db.readSnapshot(ctx,
		`SELECT object_id, rev_id, base_rev_id, data, timestamp FROM snapshots
		 WHERE object_id = ? AND rev_id <= ? ORDER BY rev_id DESC LIMIT 1`, objectID, revID)
}

// ReadLastSnapshot returns the most recent snapshot.
func (db *DB) ReadLastSnapshot(ctx context.Context, objectID string) (*revision.Snapshot, error) {
	return db.readSnapshot(ctx,
		`SELECT object_id, rev_id, base_rev_id, data, timestamp FROM snapshots
		 WHERE object_id = ? ORDER BY rev_id DESC LIMIT 1`, objectID)
}

func (db *DB) readSnapshot(ctx context.Context, query string, args ...any) (*revision.Snapshot, error) {
	var s revision.Snapshot
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&s.ObjectID, &s.RevID, &s.BaseRevID, &s.Data, &s.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return &s, nil
}
