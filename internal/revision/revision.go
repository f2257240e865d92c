// Package revision assigns, persists and recovers the revisions of a single
// synchronized object. A Manager owns the revision id counter of one object,
// queues local edits through a single worker, records remote revisions and
// acknowledgements, and restores the object from a snapshot when its stored
// log cannot be rebuilt.
package revision

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrEmptyRevision = errors.New("revision payload is empty")
	ErrEmptyInput    = errors.New("no revisions to merge")
	ErrNonMonotonic  = errors.New("revision id is not monotonic")
	ErrClosed        = errors.New("revision manager closed")
	ErrNotReady      = errors.New("revision manager not loaded")
)

// Revision is one durable unit of change to an object.
type Revision struct {
	ObjectID  string `json:"object_id"`
	BaseRevID int64  `json:"base_rev_id"`
	RevID     int64  `json:"rev_id"`
	Bytes     []byte `json:"bytes"`
	MD5       string `json:"md5"`
	UserID    string `json:"user_id,omitempty"`
}

// IsEmpty reports whether the revision carries no payload.
func (r Revision) IsEmpty() bool {
	return len(r.Bytes) == 0
}

// PairRevID returns (BaseRevID, RevID).
func (r Revision) PairRevID() (int64, int64) {
	return r.BaseRevID, r.RevID
}

func (r Revision) String() string {
	return fmt.Sprintf("%s@%d(base %d, %d bytes)", r.ObjectID, r.RevID, r.BaseRevID, len(r.Bytes))
}

// ContentHash returns the hex MD5 of data, the hash carried in Revision.MD5.
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// State is the sync state of a stored revision.
type State string

const (
	// StateLocal marks a revision not yet acknowledged by the remote.
	StateLocal State = "local"
	// StateAck marks a revision the remote has accepted.
	StateAck State = "ack"
)

// Record is a stored revision plus its sync state.
type Record struct {
	Revision    Revision
	State       State
	WriteToDisk bool
}

// Range is an inclusive range of revision ids.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Valid reports whether Start <= End.
func (r Range) Valid() bool {
	return r.Start <= r.End
}

// Len is the number of ids in the range.
func (r Range) Len() int {
	if !r.Valid() {
		return 0
	}
	return int(r.End - r.Start + 1)
}

// RevIDs lists every id in the range in order.
func (r Range) RevIDs() []int64 {
	ids := make([]int64, 0, r.Len())
	for id := r.Start; id <= r.End; id++ {
		ids = append(ids, id)
	}
	return ids
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// Persistence stores the revision log of objects. Implementations must be
// crash consistent: a partially written record is never visible on restart.
type Persistence interface {
	// LoadRecords returns every stored record of the object ordered by rev id.
	LoadRecords(ctx context.Context, objectID string) ([]Record, error)
	// AddAckRevision stores rev as acknowledged, replacing any record with
	// the same id.
	AddAckRevision(ctx context.Context, rev Revision) error
	// AddLocalRevision stores rev as pending. It returns ErrNonMonotonic if
	// rev.RevID is not greater than every stored id of the object.
	AddLocalRevision(ctx context.Context, rev Revision) error
	// AckRevision marks a pending record acknowledged. Missing or already
	// acknowledged records are left alone.
	AckRevision(ctx context.Context, objectID string, revID int64) error
	// Reset replaces the whole log of the object with revs, stored as
	// acknowledged.
	Reset(ctx context.Context, objectID string, revs []Revision) error
	// RevisionsInRange returns the stored revisions whose ids fall in r.
	RevisionsInRange(ctx context.Context, objectID string, r Range) ([]Revision, error)
	// CompactLaggingRevisions merges the pending records of the object,
	// after skipping the oldest keep of them, into one pending record.
	CompactLaggingRevisions(ctx context.Context, objectID string, keep int, c Compactor) error
	// NextLocalRecord returns the oldest pending record, or nil.
	NextLocalRecord(ctx context.Context, objectID string) (*Record, error)
	// PendingCount returns the number of pending records.
	PendingCount(ctx context.Context, objectID string) (int, error)
	// Get returns the record with the given id, or nil.
	Get(ctx context.Context, objectID string, revID int64) (*Record, error)
}

// CloudService fetches an object's revisions from the remote authority. It
// is consulted only when the local log is empty.
type CloudService interface {
	FetchObject(ctx context.Context, userID, objectID string) ([]Revision, error)
}

// ObjectBuilder rebuilds the live object from its revisions. It returns an
// error when the revisions cannot be deserialized.
type ObjectBuilder func(revs []Revision) error
