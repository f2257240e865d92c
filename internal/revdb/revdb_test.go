package revdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/revsync/internal/ot/delta"
	"github.com/marcus/revsync/internal/revision"
)

const obj = "doc-1"

func setupDB(t *testing.T) *DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db, err := New(conn)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func textRev(t *testing.T, base, id int64, d *delta.Delta) revision.Revision {
	t.Helper()
	data, err := d.Bytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return revision.Revision{ObjectID: obj, BaseRevID: base, RevID: id, Bytes: data, MD5: revision.ContentHash(data), UserID: "u"}
}

func TestNew_SchemaVersion(t *testing.T) {
	db := setupDB(t)
	if got := db.SchemaVersion(); got != SchemaVersion {
		t.Fatalf("schema version: got %d, want %d", got, SchemaVersion)
	}
	n, err := db.RunMigrations()
	if err != nil || n != 0 {
		t.Fatalf("second RunMigrations: got %d, %v, want 0", n, err)
	}
}

func TestLocalAndAckRevisions(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	for id := int64(1); id <= 3; id++ {
		if err := db.AddLocalRevision(ctx, textRev(t, id-1, id, delta.New().Insert("x", nil))); err != nil {
			t.Fatalf("AddLocalRevision %d: %v", id, err)
		}
	}
	err := db.AddLocalRevision(ctx, textRev(t, 1, 2, delta.New().Insert("x", nil)))
	if !errors.Is(err, revision.ErrNonMonotonic) {
		t.Fatalf("duplicate id: got %v, want ErrNonMonotonic", err)
	}

	next, err := db.NextLocalRecord(ctx, obj)
	if err != nil || next == nil || next.Revision.RevID != 1 {
		t.Fatalf("NextLocalRecord: got %+v, %v", next, err)
	}

	if err := db.AckRevision(ctx, obj, 1); err != nil {
		t.Fatalf("AckRevision: %v", err)
	}
	if err := db.AckRevision(ctx, obj, 1); err != nil {
		t.Fatalf("second AckRevision: %v", err)
	}
	if err := db.AckRevision(ctx, obj, 99); err != nil {
		t.Fatalf("ack missing: %v", err)
	}
	next, _ = db.NextLocalRecord(ctx, obj)
	if next == nil || next.Revision.RevID != 2 {
		t.Fatalf("next after ack: got %+v, want rev 2", next)
	}
	if n, _ := db.PendingCount(ctx, obj); n != 2 {
		t.Fatalf("pending: got %d, want 2", n)
	}

	rec, err := db.Get(ctx, obj, 1)
	if err != nil || rec == nil || rec.State != revision.StateAck || rec.Revision.UserID != "u" {
		t.Fatalf("Get(1): got %+v, %v", rec, err)
	}
	if rec, _ := db.Get(ctx, obj, 42); rec != nil {
		t.Fatalf("Get(42): got %+v, want nil", rec)
	}

	revs, err := db.RevisionsInRange(ctx, obj, revision.Range{Start: 2, End: 3})
	if err != nil || len(revs) != 2 || revs[0].RevID != 2 || revs[1].RevID != 3 {
		t.Fatalf("RevisionsInRange: got %v, %v", revs, err)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	db.AddLocalRevision(ctx, textRev(t, 0, 1, delta.New().Insert("a", nil)))
	db.AddLocalRevision(ctx, textRev(t, 1, 2, delta.New().Retain(1, nil).Insert("b", nil)))

	snap := textRev(t, 0, 5, delta.New().Insert("hello", nil))
	snap.ObjectID = ""
	if err := db.Reset(ctx, obj, []revision.Revision{snap}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	recs, _ := db.LoadRecords(ctx, obj)
	if len(recs) != 1 || recs[0].Revision.RevID != 5 || recs[0].State != revision.StateAck || recs[0].Revision.ObjectID != obj {
		t.Fatalf("records after reset: got %+v", recs)
	}
}

func TestCompactLaggingRevisions(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	db.AddLocalRevision(ctx, textRev(t, 0, 1, delta.New().Insert("a", nil)))
	db.AddLocalRevision(ctx, textRev(t, 1, 2, delta.New().Retain(1, nil).Insert("b", nil)))
	db.AddLocalRevision(ctx, textRev(t, 2, 3, delta.New().Delete(1).Retain(1, nil)))
	db.AddLocalRevision(ctx, textRev(t, 3, 4, delta.New().Retain(1, nil).Insert("c", nil)))

	if err := db.CompactLaggingRevisions(ctx, obj, 1, revision.DeltaCompactor{}); err != nil {
		t.Fatalf("compact keep 1: %v", err)
	}
	recs, _ := db.LoadRecords(ctx, obj)
	if len(recs) != 2 || recs[0].Revision.RevID != 1 || recs[1].Revision.RevID != 4 || recs[1].Revision.BaseRevID != 1 {
		t.Fatalf("after keep 1: got %+v", recs)
	}

	if err := db.CompactLaggingRevisions(ctx, obj, 0, revision.DeltaCompactor{}); err != nil {
		t.Fatalf("compact all: %v", err)
	}
	recs, _ = db.LoadRecords(ctx, obj)
	if len(recs) != 1 || recs[0].State != revision.StateLocal {
		t.Fatalf("after compact all: got %+v", recs)
	}
	d, err := delta.FromBytes(recs[0].Revision.Bytes)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s, _ := d.Content(); s != "bc" {
		t.Fatalf("content: got %q, want %q", s, "bc")
	}
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	if s, err := db.ReadLastSnapshot(ctx, obj); err != nil || s != nil {
		t.Fatalf("empty ReadLastSnapshot: got %+v, %v", s, err)
	}
	for _, id := range []int64{3, 7, 12} {
		if err := db.WriteSnapshot(ctx, revision.Snapshot{ObjectID: obj, RevID: id, Data: []byte{byte(id)}, Timestamp: 1}); err != nil {
			t.Fatalf("WriteSnapshot %d: %v", id, err)
		}
	}
	tests := []struct {
		at   int64
		want int64
	}{{3, 3}, {6, 3}, {7, 7}, {11, 7}, {100, 12}}
	for _, tt := range tests {
		s, err := db.ReadSnapshot(ctx, obj, tt.at)
		if err != nil || s == nil || s.RevID != tt.want {
			t.Errorf("ReadSnapshot(%d): got %+v, %v, want rev %d", tt.at, s, err, tt.want)
		}
	}
	if s, _ := db.ReadSnapshot(ctx, obj, 2); s != nil {
		t.Fatalf("ReadSnapshot(2): got %+v, want nil", s)
	}
	if s, _ := db.ReadLastSnapshot(ctx, obj); s == nil || s.RevID != 12 {
		t.Fatalf("ReadLastSnapshot: got %+v, want 12", s)
	}
}

func TestObjects(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	if err := db.RegisterObject(ctx, "empty", "text"); err != nil {
		t.Fatalf("RegisterObject: %v", err)
	}
	db.AddLocalRevision(ctx, textRev(t, 0, 1, delta.New().Insert("a", nil)))
	db.AddAckRevision(ctx, textRev(t, 1, 2, delta.New().Retain(1, nil).Insert("b", nil)))

	objs, err := db.Objects(ctx)
	if err != nil {
		t.Fatalf("Objects: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("objects: got %+v, want 2", objs)
	}
	if objs[0].ObjectID != obj || objs[0].Revs != 2 || objs[0].Pending != 1 {
		t.Fatalf("objects[0]: got %+v", objs[0])
	}
	if objs[1].ObjectID != "empty" || objs[1].Revs != 0 {
		t.Fatalf("objects[1]: got %+v", objs[1])
	}
}

func TestManagerOverSQLite(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	m, err := revision.NewManager(revision.ManagerConfig{
		ObjectID:    obj,
		Persistence: db,
		Snapshots:   revision.NewController(obj, db),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Load(ctx, func([]revision.Revision) error { return nil }); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, d := range []*delta.Delta{
		delta.New().Insert("a", nil),
		delta.New().Retain(1, nil).Insert("b", nil),
		delta.New().Delete(1).Retain(1, nil),
	} {
		data, _ := d.Bytes()
		if _, err := m.AddLocalRevision(ctx, data, ""); err != nil {
			t.Fatalf("AddLocalRevision: %v", err)
		}
	}
	m.Close(ctx)

	recs, _ := db.LoadRecords(ctx, obj)
	if len(recs) != 1 || recs[0].Revision.RevID != 3 {
		t.Fatalf("records after close: got %+v", recs)
	}
}

func TestOpen_LocksDataDir(t *testing.T) {
	old := lockTimeout
	lockTimeout = 50 * time.Millisecond
	t.Cleanup(func() { lockTimeout = old })

	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Open(dir); err == nil {
		t.Fatal("second Open: expected lock error")
	}
	if err := db.AddAckRevision(context.Background(), textRev(t, 0, 1, delta.New().Insert("a", nil))); err != nil {
		t.Fatalf("AddAckRevision: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	recs, err := db.LoadRecords(context.Background(), obj)
	if err != nil || len(recs) != 1 {
		t.Fatalf("records after reopen: got %d, %v", len(recs), err)
	}
}
