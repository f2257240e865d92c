package revision

import (
	"context"
	"errors"
	"slices"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/revsync/internal/ot/delta"
)

const testObject = "doc-1"

// textBuilder rebuilds a plain text document into *out.
func textBuilder(out *string) ObjectBuilder {
	return func(revs []Revision) error {
		doc := delta.New()
		for _, r := range revs {
			d, err := delta.FromBytes(r.Bytes)
			if err != nil {
				return err
			}
			if doc, err = doc.Compose(d); err != nil {
				return err
			}
		}
		s, err := doc.Content()
		if err != nil {
			return err
		}
		*out = s
		return nil
	}
}

func encode(t *testing.T, d *delta.Delta) []byte {
	t.Helper()
	data, err := d.Bytes()
	if err != nil {
		t.Fatalf("encode delta: %v", err)
	}
	return data
}

func setupManager(t *testing.T, store Persistence, cfg ManagerConfig) *Manager {
	t.Helper()
	cfg.ObjectID = testObject
	cfg.UserID = "user-1"
	cfg.Persistence = store
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func loadedManager(t *testing.T, store Persistence, cfg ManagerConfig) (*Manager, *string) {
	t.Helper()
	m := setupManager(t, store, cfg)
	var text string
	if err := m.Load(context.Background(), textBuilder(&text)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m, &text
}

// threeEdits submits insert "a", insert "b" at 1, delete at 0.
func threeEdits(t *testing.T, m *Manager) []int64 {
	t.Helper()
	ctx := context.Background()
	edits := []*delta.Delta{
		delta.New().Insert("a", nil),
		delta.New().Retain(1, nil).Insert("b", nil),
		delta.New().Delete(1).Retain(1, nil),
	}
	var ids []int64
	for _, d := range edits {
		id, err := m.AddLocalRevision(ctx, encode(t, d), "")
		if err != nil {
			t.Fatalf("AddLocalRevision: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func replay(t *testing.T, records []Record) string {
	t.Helper()
	revs := make([]Revision, len(records))
	for i, r := range records {
		revs[i] = r.Revision
	}
	var text string
	if err := textBuilder(&text)(revs); err != nil {
		t.Fatalf("replay: %v", err)
	}
	return text
}

func TestManager_LocalEditsAssignSequentialIDs(t *testing.T) {
	store := NewMemStore()
	m, _ := loadedManager(t, store, ManagerConfig{})

	ids := threeEdits(t, m)
	if !slices.Equal(ids, []int64{1, 2, 3}) {
		t.Fatalf("ids: got %v, want [1 2 3]", ids)
	}

	records, _ := store.LoadRecords(context.Background(), testObject)
	if got := replay(t, records); got != "b" {
		t.Fatalf("content: got %q, want %q", got, "b")
	}
	for _, r := range records {
		if r.State != StateLocal {
			t.Fatalf("rev %d state: got %s, want local", r.Revision.RevID, r.State)
		}
		if r.Revision.BaseRevID != r.Revision.RevID-1 {
			t.Fatalf("rev %d base: got %d", r.Revision.RevID, r.Revision.BaseRevID)
		}
	}
}

func TestManager_CloseCompactsPending(t *testing.T) {
	store := NewMemStore()
	m, _ := loadedManager(t, store, ManagerConfig{})
	threeEdits(t, m)

	m.Close(context.Background())
	if m.Status() != StatusClosed {
		t.Fatalf("status: got %s, want closed", m.Status())
	}

	records, _ := store.LoadRecords(context.Background(), testObject)
	if len(records) != 1 {
		t.Fatalf("records after close: got %d, want 1", len(records))
	}
	rev := records[0].Revision
	if rev.BaseRevID != 0 || rev.RevID != 3 {
		t.Fatalf("compacted ids: got (%d,%d), want (0,3)", rev.BaseRevID, rev.RevID)
	}
	if got := replay(t, records); got != "b" {
		t.Fatalf("content: got %q, want %q", got, "b")
	}

	if _, err := m.AddLocalRevision(context.Background(), []byte("x"), ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("add after close: got %v, want ErrClosed", err)
	}
}

func TestManager_CloseLeavesAckedRevisions(t *testing.T) {
	store := NewMemStore()
	m, _ := loadedManager(t, store, ManagerConfig{})
	threeEdits(t, m)
	ctx := context.Background()
	if err := m.AckRevision(ctx, 1); err != nil {
		t.Fatalf("AckRevision: %v", err)
	}

	m.Close(ctx)

	records, _ := store.LoadRecords(ctx, testObject)
	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2", len(records))
	}
	if records[0].State != StateAck || records[1].State != StateLocal {
		t.Fatalf("states: got %s,%s", records[0].State, records[1].State)
	}
	if records[1].Revision.BaseRevID != 1 || records[1].Revision.RevID != 3 {
		t.Fatalf("merged ids: got (%d,%d), want (1,3)", records[1].Revision.BaseRevID, records[1].Revision.RevID)
	}
	if got := replay(t, records); got != "b" {
		t.Fatalf("content: got %q, want %q", got, "b")
	}
}

func TestManager_RestoreFromSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	for id := int64(1); id <= 7; id++ {
		store.AddLocalRevision(ctx, Revision{ObjectID: testObject, BaseRevID: id - 1, RevID: id, Bytes: []byte("not a delta")})
	}
	snaps := NewMemSnapshots()
	ctrl := NewController(testObject, snaps)
	if err := ctrl.WriteSnapshot(ctx, 5, encode(t, delta.New().Insert("hello", nil)), 0); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	m, text := loadedManager(t, store, ManagerConfig{Snapshots: ctrl})

	if got := m.RevID(); got != 5 {
		t.Fatalf("counter: got %d, want 5", got)
	}
	if *text != "hello" {
		t.Fatalf("content: got %q, want %q", *text, "hello")
	}
	if n, _ := store.PendingCount(ctx, testObject); n != 0 {
		t.Fatalf("pending: got %d, want 0", n)
	}
	next, err := m.NextSyncRevision(ctx)
	if err != nil || next != nil {
		t.Fatalf("NextSyncRevision: got %v, %v, want nil", next, err)
	}

	id, err := m.AddLocalRevision(ctx, encode(t, delta.New().Retain(5, nil).Insert("!", nil)), "")
	if err != nil || id != 6 {
		t.Fatalf("next id: got %d, %v, want 6", id, err)
	}
}

func TestManager_LoadFailsWithoutSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	store.AddLocalRevision(ctx, Revision{ObjectID: testObject, RevID: 1, Bytes: []byte("{broken")})

	m := setupManager(t, store, ManagerConfig{Snapshots: NewController(testObject, NewMemSnapshots())})
	var text string
	if err := m.Load(ctx, textBuilder(&text)); err == nil {
		t.Fatal("Load: expected error, got nil")
	}
	if m.Status() != StatusUninitialized {
		t.Fatalf("status: got %s, want uninitialized", m.Status())
	}
	if _, err := m.AddLocalRevision(ctx, []byte("x"), ""); !errors.Is(err, ErrNotReady) {
		t.Fatalf("add before load: got %v, want ErrNotReady", err)
	}
}

func TestManager_ConcurrentLocalRevisions(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	store.AddAckRevision(ctx, Revision{ObjectID: testObject, RevID: 1, Bytes: encode(t, delta.New().Insert("x", nil))})
	store.AddAckRevision(ctx, Revision{ObjectID: testObject, BaseRevID: 1, RevID: 2, Bytes: encode(t, delta.New().Retain(1, nil).Insert("y", nil))})

	m, _ := loadedManager(t, store, ManagerConfig{QueueSize: 2})
	start := m.RevID()

	ids := make([]int64, 10)
	var g errgroup.Group
	for i := range ids {
		g.Go(func() error {
			id, err := m.AddLocalRevision(ctx, []byte(`[{"retain":2}]`), "")
			ids[i] = id
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("AddLocalRevision: %v", err)
	}

	slices.Sort(ids)
	for i, id := range ids {
		if want := start + 1 + int64(i); id != want {
			t.Fatalf("ids: got %v, want contiguous run from %d", ids, start+1)
		}
	}
	if n, _ := store.PendingCount(ctx, testObject); n != 10 {
		t.Fatalf("pending: got %d, want 10", n)
	}
}

func TestManager_AckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	m, _ := loadedManager(t, store, ManagerConfig{})
	threeEdits(t, m)

	for range 2 {
		if err := m.AckRevision(ctx, 2); err != nil {
			t.Fatalf("AckRevision: %v", err)
		}
	}
	if err := m.AckRevision(ctx, 42); err != nil {
		t.Fatalf("ack missing: %v", err)
	}
	rec, _ := store.Get(ctx, testObject, 2)
	if rec == nil || rec.State != StateAck {
		t.Fatalf("rev 2: got %+v, want acked", rec)
	}
	next, _ := m.NextSyncRevision(ctx)
	if next == nil || next.RevID != 1 {
		t.Fatalf("next sync: got %v, want rev 1", next)
	}
}

func TestManager_AddRemoteRevision(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	m, _ := loadedManager(t, store, ManagerConfig{})

	if err := m.AddRemoteRevision(ctx, Revision{RevID: 4}); !errors.Is(err, ErrEmptyRevision) {
		t.Fatalf("empty remote: got %v, want ErrEmptyRevision", err)
	}
	if err := m.AddRemoteRevision(ctx, Revision{RevID: 4, Bytes: encode(t, delta.New().Insert("r", nil))}); err != nil {
		t.Fatalf("AddRemoteRevision: %v", err)
	}
	if got := m.RevID(); got != 4 {
		t.Fatalf("counter: got %d, want 4", got)
	}
	if err := m.AddRemoteRevision(ctx, Revision{RevID: 2, Bytes: []byte("x")}); err != nil {
		t.Fatalf("AddRemoteRevision: %v", err)
	}
	if got := m.RevID(); got != 4 {
		t.Fatalf("counter after older remote: got %d, want 4", got)
	}
	rec, _ := store.Get(ctx, testObject, 4)
	if rec == nil || rec.State != StateAck || rec.Revision.ObjectID != testObject {
		t.Fatalf("stored remote: got %+v", rec)
	}
	if cur, next := m.NextRevIDPair(); cur != 4 || next != 5 {
		t.Fatalf("NextRevIDPair: got (%d,%d), want (4,5)", cur, next)
	}
}

type fakeCloud struct {
	revs  []Revision
	calls int
}

func (c *fakeCloud) FetchObject(_ context.Context, _, _ string) ([]Revision, error) {
	c.calls++
	return c.revs, nil
}

func TestManager_LoadFetchesFromCloudWhenEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	cloud := &fakeCloud{revs: []Revision{
		{ObjectID: testObject, RevID: 1, Bytes: encode(t, delta.New().Insert("hi", nil))},
		{ObjectID: testObject, BaseRevID: 1, RevID: 2, Bytes: encode(t, delta.New().Retain(2, nil).Insert("!", nil))},
	}}

	m, text := loadedManager(t, store, ManagerConfig{Cloud: cloud})
	if *text != "hi!" {
		t.Fatalf("content: got %q, want %q", *text, "hi!")
	}
	if m.RevID() != 2 {
		t.Fatalf("counter: got %d, want 2", m.RevID())
	}
	if n, _ := store.PendingCount(ctx, testObject); n != 0 {
		t.Fatalf("pending: got %d, want 0", n)
	}

	m2 := setupManager(t, store, ManagerConfig{Cloud: cloud})
	var again string
	if err := m2.Load(ctx, textBuilder(&again)); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if cloud.calls != 1 {
		t.Fatalf("cloud calls: got %d, want 1", cloud.calls)
	}
}

func TestManager_MergeLaggingKeepsInFlight(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	m, _ := loadedManager(t, store, ManagerConfig{MergeLagging: true, MergeThreshold: 2})
	threeEdits(t, m)
	if n, _ := store.PendingCount(ctx, testObject); n != 3 {
		t.Fatalf("pending after 3: got %d, want 3", n)
	}

	if _, err := m.AddLocalRevision(ctx, encode(t, delta.New().Retain(1, nil).Insert("c", nil)), ""); err != nil {
		t.Fatalf("AddLocalRevision: %v", err)
	}
	records, _ := store.LoadRecords(ctx, testObject)
	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2", len(records))
	}
	if records[0].Revision.RevID != 1 || records[1].Revision.RevID != 4 || records[1].Revision.BaseRevID != 1 {
		t.Fatalf("ids: got %v and %v", records[0].Revision, records[1].Revision)
	}
	if got := replay(t, records); got != "bc" {
		t.Fatalf("content: got %q, want %q", got, "bc")
	}
}

type flakyStore struct {
	*MemStore
	failNext bool
}

func (s *flakyStore) AddLocalRevision(ctx context.Context, rev Revision) error {
	if s.failNext {
		s.failNext = false
		return errors.New("disk full")
	}
	return s.MemStore.AddLocalRevision(ctx, rev)
}

func TestManager_FailedWriteReleasesID(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemStore: NewMemStore(), failNext: true}
	m, _ := loadedManager(t, store, ManagerConfig{})

	if _, err := m.AddLocalRevision(ctx, []byte("x"), ""); err == nil {
		t.Fatal("expected persistence error")
	}
	id, err := m.AddLocalRevision(ctx, []byte("x"), "")
	if err != nil || id != 1 {
		t.Fatalf("after failure: got %d, %v, want 1", id, err)
	}
}

func TestManager_GenerateSnapshot(t *testing.T) {
	ctx := context.Background()
	snaps := NewMemSnapshots()
	ctrl := NewController(testObject, snaps)
	m, _ := loadedManager(t, NewMemStore(), ManagerConfig{Snapshots: ctrl})

	if s, err := m.MaybeSnapshot(ctx, 3); err != nil || s != nil {
		t.Fatalf("MaybeSnapshot before edits: got %v, %v", s, err)
	}
	threeEdits(t, m)
	s, err := m.MaybeSnapshot(ctx, 3)
	if err != nil || s == nil {
		t.Fatalf("MaybeSnapshot: got %v, %v", s, err)
	}
	last, _ := ctrl.ReadLastSnapshot(ctx)
	if last == nil || last.RevID != 3 {
		t.Fatalf("last snapshot: got %+v, want rev 3", last)
	}
	d, err := delta.FromBytes(last.Data)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got, _ := d.Content(); got != "b" {
		t.Fatalf("snapshot content: got %q, want %q", got, "b")
	}
	if near, _ := ctrl.ReadSnapshot(ctx, 2); near != nil {
		t.Fatalf("ReadSnapshot(2): got %+v, want nil", near)
	}
}
