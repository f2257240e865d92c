package node

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/marcus/revsync/internal/ot/delta"
)

func typesAt(t *testing.T, tree *Tree, p Path) []string {
	t.Helper()
	id, ok := tree.NodeAtPath(p)
	if !ok {
		t.Fatalf("path %s not found", p)
	}
	var out []string
	for _, c := range tree.Children(id) {
		n, _ := tree.Get(c)
		out = append(out, n.Type)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTree_InsertAndResolvePath(t *testing.T) {
	tree := NewTree("root")
	if err := tree.Apply(Insert(Path{0}, NewData("text"))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	id, ok := tree.NodeAtPath(Path{0})
	if !ok {
		t.Fatal("node at [0] not found")
	}
	if got := tree.PathOf(id); !got.Equal(Path{0}) {
		t.Fatalf("PathOf: got %s, want [0]", got)
	}
	n, _ := tree.Get(id)
	if n.Type != "text" {
		t.Fatalf("type: got %q, want %q", n.Type, "text")
	}
}

func TestTree_InsertBeforeExistingSibling(t *testing.T) {
	tree := NewTree("root")
	tree.Apply(Insert(Path{0}, NewData("a"), NewData("c")))
	if err := tree.Apply(Insert(Path{1}, NewData("b"))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := typesAt(t, tree, nil); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Fatalf("children: got %v, want [a b c]", got)
	}
}

func TestTree_InsertCreatesPlaceholders(t *testing.T) {
	tree := NewTree("root")
	if err := tree.Apply(Insert(Path{2, 1}, NewData("text"))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := typesAt(t, tree, nil); !equalStrings(got, []string{PlaceholderType, PlaceholderType, PlaceholderType}) {
		t.Fatalf("root children: got %v", got)
	}
	if got := typesAt(t, tree, Path{2}); !equalStrings(got, []string{PlaceholderType, "text"}) {
		t.Fatalf("[2] children: got %v", got)
	}
	n, ok := tree.GetAtPath(Path{2, 1})
	if !ok || n.Type != "text" {
		t.Fatalf("node at [2,1]: got %+v (ok=%v)", n, ok)
	}
}

func TestTree_InsertRejectsNegativeIndex(t *testing.T) {
	tree := NewTree("root")
	tree.Apply(Insert(Path{0}, NewData("a")))
	for _, p := range []Path{{-1}, {0, -1}, {-1, 0}} {
		if err := tree.Apply(Insert(p, NewData("x"))); !errors.Is(err, ErrPathNotFound) {
			t.Fatalf("insert %s: got %v, want ErrPathNotFound", p, err)
		}
	}
	if got := typesAt(t, tree, nil); !equalStrings(got, []string{"a"}) {
		t.Fatalf("children: got %v, want [a]", got)
	}
}

func TestTree_DeleteSubtree(t *testing.T) {
	tree := NewTree("root")
	parent := NewData("list")
	parent.Children = []Data{NewData("item"), NewData("item")}
	tree.Apply(Insert(Path{0}, parent, NewData("tail")))

	if err := tree.Apply(Delete(Path{0}, parent)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := typesAt(t, tree, nil); !equalStrings(got, []string{"tail"}) {
		t.Fatalf("children: got %v, want [tail]", got)
	}
	if err := tree.Apply(Delete(Path{5}, NewData("x"))); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("delete missing: got %v, want ErrPathNotFound", err)
	}
}

func TestTree_UpdateAttributesAndInvert(t *testing.T) {
	tree := NewTree("root")
	tree.Apply(Insert(Path{0}, Data{Type: "text", Attributes: Attributes{"bold": true}}))

	op := UpdateAttributes(Path{0}, Attributes{"bold": nil, "color": "red"}, Attributes{"bold": true, "color": nil})
	if err := tree.Apply(op); err != nil {
		t.Fatalf("update: %v", err)
	}
	n, _ := tree.GetAtPath(Path{0})
	if !n.Attributes.Equal(Attributes{"color": "red"}) {
		t.Fatalf("attributes: got %v, want {color:red}", n.Attributes)
	}

	if err := tree.Apply(op.Invert()); err != nil {
		t.Fatalf("invert: %v", err)
	}
	n, _ = tree.GetAtPath(Path{0})
	if !n.Attributes.Equal(Attributes{"bold": true}) {
		t.Fatalf("restored: got %v, want {bold:true}", n.Attributes)
	}
}

func TestTree_UpdateBody(t *testing.T) {
	tree := NewTree("root")
	tree.Apply(Insert(Path{0}, NewData("text")))

	change := delta.New().Insert("hello", nil)
	inverted := change.InvertString("")
	if err := tree.Apply(UpdateBody(Path{0}, change, inverted)); err != nil {
		t.Fatalf("update body: %v", err)
	}
	n, _ := tree.GetAtPath(Path{0})
	doc, err := delta.FromBytes(n.Body)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if s, _ := doc.Content(); s != "hello" {
		t.Fatalf("body: got %q, want %q", s, "hello")
	}

	if err := tree.Apply(Operation{Kind: OpUpdate, Path: Path{9}}); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("update missing: got %v, want ErrPathNotFound", err)
	}
}

func TestTree_ApplyTransactionIsAtomic(t *testing.T) {
	tree := NewTree("root")
	tree.Apply(Insert(Path{0}, NewData("a")))

	tx := NewTransaction(
		Insert(Path{1}, NewData("b")),
		Delete(Path{7}, NewData("missing")),
	)
	if err := tree.ApplyTransaction(tx); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("transaction: got %v, want ErrPathNotFound", err)
	}
	if got := typesAt(t, tree, nil); !equalStrings(got, []string{"a"}) {
		t.Fatalf("children after failed tx: got %v, want [a]", got)
	}

	if err := tree.ApplyTransaction(NewTransaction(Insert(Path{1}, NewData("b")))); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := typesAt(t, tree, nil); !equalStrings(got, []string{"a", "b"}) {
		t.Fatalf("children: got %v, want [a b]", got)
	}
}

func TestTransaction_TransformConcurrentInserts(t *testing.T) {
	// both sides start from root: [A]
	base := func() *Tree {
		tr := NewTree("root")
		tr.Apply(Insert(Path{0}, NewData("A")))
		return tr
	}
	txB := NewTransaction(Insert(Path{1}, NewData("B")))
	txC := NewTransaction(Insert(Path{1}, NewData("C")))

	left := base()
	if err := left.ApplyTransaction(txB); err != nil {
		t.Fatalf("apply B: %v", err)
	}
	if err := left.ApplyTransaction(txB.Transform(txC)); err != nil {
		t.Fatalf("apply C': %v", err)
	}

	right := base()
	if err := right.ApplyTransaction(txC); err != nil {
		t.Fatalf("apply C: %v", err)
	}
	// C moved first on this side, so B is transformed with C's priority
	// reversed: B keeps index 1 only if it was applied first.
	if err := right.ApplyTransaction(txC.Transform(txB)); err != nil {
		t.Fatalf("apply B': %v", err)
	}

	if got := typesAt(t, left, nil); !equalStrings(got, []string{"A", "B", "C"}) {
		t.Fatalf("left: got %v, want [A B C]", got)
	}
	if got := typesAt(t, right, nil); !equalStrings(got, []string{"A", "C", "B"}) {
		t.Fatalf("right: got %v, want [A C B]", got)
	}
}

func TestTransaction_TransformAgainstDelete(t *testing.T) {
	// both sides start from root: [list[item, item], tail]
	base := func() *Tree {
		tr := NewTree("root")
		list := NewData("list")
		list.Children = []Data{NewData("item"), NewData("item")}
		tr.Apply(Insert(Path{0}, list, NewData("tail")))
		return tr
	}
	list := NewData("list")
	list.Children = []Data{NewData("item"), NewData("item")}
	del := NewTransaction(Delete(Path{0}, list))

	tests := []struct {
		name  string
		other *Transaction
		want  []string
	}{
		{"same delete", NewTransaction(Delete(Path{0}, list)), []string{"tail"}},
		{"update on deleted node", NewTransaction(UpdateAttributes(Path{0}, Attributes{"bold": true}, Attributes{"bold": nil})), []string{"tail"}},
		{"insert inside deleted subtree", NewTransaction(Insert(Path{0, 1}, NewData("item"))), []string{"tail"}},
		{"delete after deleted node", NewTransaction(Delete(Path{1}, NewData("tail"))), []string{}},
		{"insert at deleted position", NewTransaction(Insert(Path{0}, NewData("head"))), []string{"head", "tail"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := base()
			if err := tree.ApplyTransaction(del); err != nil {
				t.Fatalf("apply delete: %v", err)
			}
			if err := tree.ApplyTransaction(del.Transform(tt.other)); err != nil {
				t.Fatalf("apply transformed: %v", err)
			}
			if got := typesAt(t, tree, nil); !equalStrings(got, tt.want) {
				t.Fatalf("children: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransformOperation_DeleteRange(t *testing.T) {
	del := Delete(Path{1}, NewData("a"), NewData("b"))
	tests := []struct {
		other  Operation
		want   Path
		wantOK bool
	}{
		{UpdateAttributes(Path{0}, nil, nil), Path{0}, true},
		{UpdateAttributes(Path{1}, nil, nil), nil, false},
		{UpdateAttributes(Path{2, 0}, nil, nil), nil, false},
		{UpdateAttributes(Path{3}, nil, nil), Path{1}, true},
		{Insert(Path{2}, NewData("x")), Path{1}, true},
		{Insert(Path{2, 0}, NewData("x")), nil, false},
	}
	for _, tt := range tests {
		got, ok := TransformOperation(del, tt.other)
		if ok != tt.wantOK {
			t.Errorf("transform %s: got ok=%v, want %v", tt.other, ok, tt.wantOK)
			continue
		}
		if ok && !got.Path.Equal(tt.want) {
			t.Errorf("transform %s: got %s, want %s", tt.other, got.Path, tt.want)
		}
	}
}

func TestTransaction_Invert(t *testing.T) {
	tree := NewTree("root")
	tx := NewTransaction(
		Insert(Path{0}, NewData("a")),
		Insert(Path{1}, NewData("b")),
	)
	if err := tree.ApplyTransaction(tx); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := tree.ApplyTransaction(tx.Invert()); err != nil {
		t.Fatalf("invert: %v", err)
	}
	if got := typesAt(t, tree, nil); len(got) != 0 {
		t.Fatalf("children after invert: got %v, want none", got)
	}
}

func TestTransaction_JSON(t *testing.T) {
	tx := NewTransaction(
		Insert(Path{0, 1}, NewData("text")),
		UpdateAttributes(Path{0}, Attributes{"k": "v"}, nil),
	)
	data, err := tx.Bytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := TransactionFromBytes(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back.Operations) != 2 || !back.Operations[0].Path.Equal(Path{0, 1}) {
		t.Fatalf("decoded: got %+v", back.Operations)
	}
	if back.Operations[1].Changeset.Attributes == nil || back.Operations[1].Changeset.Attributes.New["k"] != "v" {
		t.Fatalf("decoded changeset: got %+v", back.Operations[1].Changeset)
	}

	tree := NewTree("root")
	tree.ApplyTransaction(back)
	out, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal tree: %v", err)
	}
	want := `{"type":"root","children":[{"type":"placeholder","attributes":{"k":"v"},"children":[{"type":"placeholder"},{"type":"text"}]}]}`
	if string(out) != want {
		t.Fatalf("tree json:\n got  %s\n want %s", out, want)
	}
}

func TestPath_Transform(t *testing.T) {
	tests := []struct {
		at     Path
		other  Path
		offset int
		want   Path
	}{
		{Path{0, 1}, Path{0, 1}, 1, Path{0, 2}},
		{Path{0, 1}, Path{0, 1}, 5, Path{0, 6}},
		{Path{0, 1}, Path{0, 2}, 1, Path{0, 3}},
		{Path{0, 1}, Path{0, 2, 3, 4}, 1, Path{0, 3, 3, 4}},
		{Path{0, 1, 2}, Path{0, 0, 0, 1, 2}, 1, Path{0, 0, 0, 1, 2}},
		{Path{0, 1, 2}, Path{0, 1}, 1, Path{0, 1}},
		{Path{1, 1}, Path{1, 0}, 1, Path{1, 0}},
		{Path{0, 1}, Path{0, 3}, -1, Path{0, 2}},
	}
	for _, tt := range tests {
		if got := tt.at.Transform(tt.other, tt.offset); !got.Equal(tt.want) {
			t.Errorf("%s.Transform(%s, %d): got %s, want %s", tt.at, tt.other, tt.offset, got, tt.want)
		}
	}
}
