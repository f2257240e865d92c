package revision

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemStore is an in-memory Persistence. Records of each object are kept
// sorted by rev id.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]Record
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]Record)}
}

func (s *MemStore) LoadRecords(_ context.Context, objectID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.objects[objectID]), nil
}

func (s *MemStore) AddAckRevision(_ context.Context, rev Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(Record{Revision: rev, State: StateAck, WriteToDisk: true})
	return nil
}

func (s *MemStore) AddLocalRevision(_ context.Context, rev Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.objects[rev.ObjectID]
	if n := len(recs); n > 0 && recs[n-1].Revision.RevID >= rev.RevID {
		return ErrNonMonotonic
	}
	s.objects[rev.ObjectID] = append(recs, Record{Revision: rev, State: StateLocal, WriteToDisk: true})
	return nil
}

func (s *MemStore) upsert(rec Record) {
	recs := s.objects[rec.Revision.ObjectID]
	i, found := slices.BinarySearchFunc(recs, rec.Revision.RevID, func(r Record, id int64) int {
		return cmp.Compare(r.Revision.RevID, id)
	})
	if found {
		recs[i] = rec
		return
	}
	s.objects[rec.Revision.ObjectID] = slices.Insert(recs, i, rec)
}

func (s *MemStore) AckRevision(_ context.Context, objectID string, revID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.objects[objectID] {
		if r.Revision.RevID == revID {
			s.objects[objectID][i].State = StateAck
			break
		}
	}
	return nil
}

func (s *MemStore) Reset(_ context.Context, objectID string, revs []Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectID)
	for _, rev := range revs {
		rev.ObjectID = objectID
		s.upsert(Record{Revision: rev, State: StateAck, WriteToDisk: true})
	}
	return nil
}

func (s *MemStore) RevisionsInRange(_ context.Context, objectID string, r Range) ([]Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Revision
	for _, rec := range s.objects[objectID] {
		if rec.Revision.RevID >= r.Start && rec.Revision.RevID <= r.End {
			out = append(out, rec.Revision)
		}
	}
	return out, nil
}

func (s *MemStore) CompactLaggingRevisions(_ context.Context, objectID string, keep int, c Compactor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.objects[objectID]
	var idx []int
	for i, r := range recs {
		if r.State == StateLocal {
			idx = append(idx, i)
		}
	}
	if len(idx) <= keep {
		return nil
	}
	idx = idx[keep:]
	if len(idx) < 2 {
		return nil
	}
	revs := make([]Revision, len(idx))
	for i, j := range idx {
		revs[i] = recs[j].Revision
	}
	merged, err := MergeRevisions(objectID, revs[len(revs)-1].UserID, revs, c)
	if err != nil {
		return err
	}
	out := make([]Record, 0, len(recs)-len(idx)+1)
	for i, r := range recs {
		if !slices.Contains(idx, i) {
			out = append(out, r)
		}
	}
	s.objects[objectID] = out
	s.upsert(Record{Revision: merged, State: StateLocal, WriteToDisk: true})
	return nil
}

func (s *MemStore) NextLocalRecord(_ context.Context, objectID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.objects[objectID] {
		if r.State == StateLocal {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *MemStore) PendingCount(_ context.Context, objectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.objects[objectID] {
		if r.State == StateLocal {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Get(_ context.Context, objectID string, revID int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.objects[objectID] {
		if r.Revision.RevID == revID {
			return &r, nil
		}
	}
	return nil, nil
}

// MemSnapshots is an in-memory SnapshotDiskCache.
type MemSnapshots struct {
	mu    sync.Mutex
	snaps map[string][]Snapshot
}

func NewMemSnapshots() *MemSnapshots {
	return &MemSnapshots{snaps: make(map[string][]Snapshot)}
}

func (c *MemSnapshots) WriteSnapshot(_ context.Context, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.snaps[snap.ObjectID]
	i, found := slices.BinarySearchFunc(list, snap.RevID, func(s Snapshot, id int64) int {
		return cmp.Compare(s.RevID, id)
	})
	if found {
		list[i] = snap
		return nil
	}
	c.snaps[snap.ObjectID] = slices.Insert(list, i, snap)
	return nil
}

func (c *MemSnapshots) ReadSnapshot(_ context.Context, objectID string, revID int64) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.snaps[objectID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].RevID <= revID {
			s := list[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (c *MemSnapshots) ReadLastSnapshot(_ context.Context, objectID string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.snaps[objectID]
	if len(list) == 0 {
		return nil, nil
	}
	s := list[len(list)-1]
	return &s, nil
}
