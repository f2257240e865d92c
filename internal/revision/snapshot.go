package revision

import (
	"context"
	"time"
)

// Snapshot is the fully materialized state of an object at RevID.
type Snapshot struct {
	ObjectID  string `json:"object_id"`
	RevID     int64  `json:"rev_id"`
	BaseRevID int64  `json:"base_rev_id"`
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// SnapshotDiskCache stores snapshots keyed by (object id, rev id). Reads
// return nil, nil when nothing matches.
type SnapshotDiskCache interface {
	WriteSnapshot(ctx context.Context, s Snapshot) error
	// ReadSnapshot returns the snapshot with the greatest rev id <= revID.
	ReadSnapshot(ctx context.Context, objectID string, revID int64) (*Snapshot, error)
	ReadLastSnapshot(ctx context.Context, objectID string) (*Snapshot, error)
}

// Controller reads and writes the snapshots of one object.
type Controller struct {
	objectID string
	cache    SnapshotDiskCache
}

func NewController(objectID string, cache SnapshotDiskCache) *Controller {
	return &Controller{objectID: objectID, cache: cache}
}

func (c *Controller) WriteSnapshot(ctx context.Context, revID int64, data []byte, baseRevID int64) error {
	return c.cache.WriteSnapshot(ctx, Snapshot{
		ObjectID:  c.objectID,
		RevID:     revID,
		BaseRevID: baseRevID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *Controller) ReadSnapshot(ctx context.Context, revID int64) (*Snapshot, error) {
	return c.cache.ReadSnapshot(ctx, c.objectID, revID)
}

func (c *Controller) ReadLastSnapshot(ctx context.Context) (*Snapshot, error) {
	return c.cache.ReadLastSnapshot(ctx, c.objectID)
}
