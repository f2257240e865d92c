package revision

import (
	"bytes"
	"errors"
	"testing"
)

func concat(payloads [][]byte) ([]byte, error) {
	return bytes.Join(payloads, nil), nil
}

func TestMergeRevisions(t *testing.T) {
	if _, err := MergeRevisions(testObject, "u", nil, CompactorFunc(concat)); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("empty: got %v, want ErrEmptyInput", err)
	}

	one := Revision{ObjectID: testObject, BaseRevID: 3, RevID: 4, Bytes: []byte("x"), MD5: "m4", UserID: "other"}
	got, err := MergeRevisions(testObject, "u", []Revision{one}, CompactorFunc(concat))
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if got.UserID != "other" || got.RevID != 4 || string(got.Bytes) != "x" {
		t.Fatalf("single: got %+v, want it unchanged", got)
	}

	revs := []Revision{
		{BaseRevID: 1, RevID: 2, Bytes: []byte("a"), MD5: "m2"},
		{BaseRevID: 2, RevID: 3, Bytes: []byte("b"), MD5: "m3"},
		{BaseRevID: 3, RevID: 4, Bytes: []byte("c"), MD5: "m4"},
	}
	got, err = MergeRevisions(testObject, "u", revs, CompactorFunc(concat))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got.BaseRevID != 1 || got.RevID != 4 || got.MD5 != "m4" || string(got.Bytes) != "abc" || got.UserID != "u" {
		t.Fatalf("merge: got %+v", got)
	}
}

func TestMergeRevisions_CombineError(t *testing.T) {
	revs := []Revision{{RevID: 1, Bytes: []byte("{")}, {RevID: 2, Bytes: []byte("[]")}}
	if _, err := MergeRevisions(testObject, "u", revs, DeltaCompactor{}); err == nil {
		t.Fatal("expected error for undecodable payload")
	}
}

func TestDeltaCompactor_StartsFromFirstPayload(t *testing.T) {
	out, err := DeltaCompactor{}.Combine([][]byte{
		[]byte(`[{"retain":2},{"insert":"x"}]`),
		[]byte(`[{"retain":3},{"insert":"y"}]`),
	})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if want := `[{"retain":2},{"insert":"xy"}]`; string(out) != want {
		t.Fatalf("Combine: got %s, want %s", out, want)
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter(5)
	if got := c.Next(); got != 6 {
		t.Fatalf("Next: got %d, want 6", got)
	}
	c.SetIfGreater(4)
	if c.Value() != 6 {
		t.Fatalf("SetIfGreater(4): got %d, want 6", c.Value())
	}
	c.SetIfGreater(9)
	if c.Value() != 9 {
		t.Fatalf("SetIfGreater(9): got %d, want 9", c.Value())
	}
	c.rollback(8)
	if c.Value() != 9 {
		t.Fatalf("rollback of stale id: got %d, want 9", c.Value())
	}
	c.rollback(9)
	if c.Value() != 8 {
		t.Fatalf("rollback: got %d, want 8", c.Value())
	}
	c.Set(1)
	if c.Value() != 1 {
		t.Fatalf("Set: got %d, want 1", c.Value())
	}
}

func TestRange(t *testing.T) {
	r := Range{Start: 2, End: 4}
	if r.Len() != 3 || len(r.RevIDs()) != 3 || r.RevIDs()[2] != 4 {
		t.Fatalf("range %s: len %d ids %v", r, r.Len(), r.RevIDs())
	}
	if (Range{Start: 5, End: 4}).Valid() {
		t.Fatal("inverted range reported valid")
	}
}
