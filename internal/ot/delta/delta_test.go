package delta

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"
)

func TestBuilder_MergesAdjacentOps(t *testing.T) {
	d := New().
		Retain(2, nil).
		Retain(3, nil).
		Insert("ab", nil).
		Insert("c", nil).
		Delete(1).
		Delete(2)

	if len(d.Ops) != 3 {
		t.Fatalf("ops: got %d (%s), want 3", len(d.Ops), d)
	}
	if d.BaseLen != 8 || d.TargetLen != 8 {
		t.Fatalf("lengths: got base=%d target=%d, want 8/8", d.BaseLen, d.TargetLen)
	}
	if d.Ops[1].Text != "abc" {
		t.Errorf("insert text: got %q, want %q", d.Ops[1].Text, "abc")
	}
	if d.Ops[2].N != 3 {
		t.Errorf("delete: got %d, want 3", d.Ops[2].N)
	}
}

func TestBuilder_InsertBeforeTrailingDelete(t *testing.T) {
	d := New().Retain(1, nil).Delete(2).Insert("x", nil)
	want := FromOps(Retain(1, nil), Insert("x", nil), Delete(2))
	if !d.Equal(want) {
		t.Fatalf("got %s, want %s", d, want)
	}
}

func TestBuilder_AttributesPreventMerge(t *testing.T) {
	d := New().Insert("a", Attributes{"bold": true}).Insert("b", nil)
	if len(d.Ops) != 2 {
		t.Fatalf("ops: got %d, want 2", len(d.Ops))
	}
	d.Insert("c", nil)
	if len(d.Ops) != 2 || d.Ops[1].Text != "bc" {
		t.Fatalf("got %s, want [insert(a,bold) insert(bc)]", d)
	}
}

func TestApply(t *testing.T) {
	d := New().Retain(5, nil).Insert(", world", nil).Delete(1)
	got, err := d.Apply("hello!")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "hello, world" {
		t.Fatalf("apply: got %q, want %q", got, "hello, world")
	}

	if _, err := d.Apply("hi"); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("apply short input: got %v, want ErrLengthMismatch", err)
	}
}

func TestApply_UTF16Units(t *testing.T) {
	// "😀" is two UTF-16 code units
	s := "a😀b"
	if n := UTF16Len(s); n != 4 {
		t.Fatalf("UTF16Len: got %d, want 4", n)
	}
	d := New().Retain(1, nil).Delete(2).Retain(1, nil)
	got, err := d.Apply(s)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "ab" {
		t.Fatalf("apply: got %q, want %q", got, "ab")
	}
}

func TestCompose_Basic(t *testing.T) {
	a := New().Insert("a", nil)
	b := New().Retain(1, nil).Insert("b", nil)
	c := New().Delete(1).Retain(1, nil)

	ab, err := a.Compose(b)
	if err != nil {
		t.Fatalf("compose a,b: %v", err)
	}
	abc, err := ab.Compose(c)
	if err != nil {
		t.Fatalf("compose ab,c: %v", err)
	}
	got, err := abc.Content()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if got != "b" {
		t.Fatalf("content: got %q, want %q", got, "b")
	}
}

func TestCompose_LengthMismatch(t *testing.T) {
	a := New().Insert("abc", nil)
	b := New().Retain(5, nil)
	if _, err := a.Compose(b); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("got %v, want ErrLengthMismatch", err)
	}
}

func TestSplitSurrogatePairIsRejected(t *testing.T) {
	emoji := New().Insert("😀", nil)
	half := New().Delete(1).Retain(1, nil)

	if _, err := emoji.Compose(half); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("compose: got %v, want ErrLengthMismatch", err)
	}
	if _, err := half.Apply("😀"); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("apply: got %v, want ErrLengthMismatch", err)
	}
	if _, err := New().Retain(1, nil).Insert("x", nil).Retain(1, nil).Apply("😀"); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("apply retain inside pair: got %v, want ErrLengthMismatch", err)
	}

	for off, want := range []bool{false, false, true, false, false} {
		if got := SplitsSurrogate("a😀b", off); got != want {
			t.Errorf("SplitsSurrogate(a😀b, %d): got %v, want %v", off, got, want)
		}
	}

	got, err := New().Delete(2).Retain(1, nil).Apply("😀b")
	if err != nil || got != "b" {
		t.Fatalf("delete whole pair: got %q, %v, want b", got, err)
	}
}

func TestCompose_AttributeTombstone(t *testing.T) {
	a := New().Insert("ab", Attributes{"bold": true, "color": "red"})
	b := New().Retain(2, Attributes{"bold": nil})

	ab, err := a.Compose(b)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	want := New().Insert("ab", Attributes{"color": "red"})
	if !ab.Equal(want) {
		t.Fatalf("got %s, want %s", ab, want)
	}

	// retain over retain keeps the tombstone so it still clears later
	r1 := New().Retain(2, Attributes{"italic": true})
	rr, err := r1.Compose(b)
	if err != nil {
		t.Fatalf("compose retains: %v", err)
	}
	attrs := rr.Ops[0].Attributes
	if v, ok := attrs["bold"]; !ok || v != nil {
		t.Errorf("bold tombstone: got %v (present=%v), want nil present", v, ok)
	}
	if attrs["italic"] != true {
		t.Errorf("italic: got %v, want true", attrs["italic"])
	}
}

func TestTransform_InsertTieBreak(t *testing.T) {
	a := New().Insert("A", nil)
	b := New().Insert("B", nil)

	aPrime, bPrime, err := Transform(a, b)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	left, _ := a.Compose(bPrime)
	right, _ := b.Compose(aPrime)

	for name, d := range map[string]*Delta{"a∘b'": left, "b∘a'": right} {
		got, err := d.Apply("")
		if err != nil {
			t.Fatalf("%s apply: %v", name, err)
		}
		if got != "AB" {
			t.Errorf("%s: got %q, want %q (left argument wins)", name, got, "AB")
		}
	}

	// swapping the arguments swaps priority
	_, aPrime2, err := Transform(b, a)
	if err != nil {
		t.Fatalf("transform swapped: %v", err)
	}
	swapped, _ := b.Compose(aPrime2)
	got, _ := swapped.Apply("")
	if got != "BA" {
		t.Errorf("swapped: got %q, want %q", got, "BA")
	}
}

func TestTransform_LengthMismatch(t *testing.T) {
	a := New().Retain(3, nil)
	b := New().Retain(4, nil)
	if _, _, err := Transform(a, b); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("got %v, want ErrLengthMismatch", err)
	}
}

func TestTransform_ConflictingFormats(t *testing.T) {
	doc := "hello"
	a := New().Retain(5, Attributes{"color": "red"})
	b := New().Retain(5, Attributes{"color": "blue", "bold": true})

	aPrime, bPrime, err := Transform(a, b)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	base := New().Insert(doc, nil)

	left := mustCompose(t, mustCompose(t, base, a), bPrime)
	right := mustCompose(t, mustCompose(t, base, b), aPrime)
	if !left.Equal(right) {
		t.Fatalf("diverged:\n  a∘b' = %s\n  b∘a' = %s", left, right)
	}
	want := New().Insert(doc, Attributes{"color": "red", "bold": true})
	if !left.Equal(want) {
		t.Fatalf("got %s, want %s", left, want)
	}
}

func TestInvert_RestoresDeletedFormatting(t *testing.T) {
	base := New().Insert("ab", Attributes{"bold": true}).Insert("cd", nil)
	change := New().Retain(1, nil).Delete(2).Retain(1, Attributes{"italic": true})

	after := mustCompose(t, base, change)
	undo := change.Invert(base)
	restored := mustCompose(t, after, undo)
	if !restored.Equal(base) {
		t.Fatalf("got %s, want %s", restored, base)
	}
}

func TestInvertString(t *testing.T) {
	s := "hello world"
	d := New().Insert(s, nil)
	inv := d.InvertString("")
	if inv.BaseLen != d.TargetLen || inv.TargetLen != d.BaseLen {
		t.Fatalf("lengths: got base=%d target=%d, want %d/%d", inv.BaseLen, inv.TargetLen, d.TargetLen, d.BaseLen)
	}
	got, err := inv.Apply(s)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "" {
		t.Fatalf("apply: got %q, want empty", got)
	}
}

func TestSlice(t *testing.T) {
	doc := New().Insert("ab", Attributes{"bold": true}).Insert("cde", nil)
	got := doc.Slice(1, 4)
	want := New().Insert("b", Attributes{"bold": true}).Insert("cd", nil)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestJSON_RoundTripShape(t *testing.T) {
	d := New().Retain(2, Attributes{"bold": true}).Insert("hi", nil).Delete(1)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"retain":2,"attributes":{"bold":true}},{"insert":"hi"},{"delete":1}]`
	if string(data) != want {
		t.Fatalf("json: got %s, want %s", data, want)
	}
	back, err := FromBytes(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !back.Equal(d) {
		t.Fatalf("decoded: got %s, want %s", back, d)
	}
}

func TestJSON_RejectsBadOps(t *testing.T) {
	for _, in := range []string{`[{}]`, `[{"retain":-1}]`, `{"ops":1}`} {
		if _, err := FromBytes([]byte(in)); err == nil {
			t.Errorf("FromBytes(%s): expected error", in)
		}
	}
}

// --- algebraic laws over generated deltas ---

const lawIterations = 300

func TestLaw_ComposeAssociative(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < lawIterations; i++ {
		doc := randomText(r, r.IntN(12))
		a := randomDelta(r, UTF16Len(doc))
		b := randomDelta(r, a.TargetLen)
		c := randomDelta(r, b.TargetLen)

		left := mustCompose(t, mustCompose(t, a, b), c)
		right := mustCompose(t, a, mustCompose(t, b, c))
		if !left.Equal(right) {
			t.Fatalf("iteration %d:\n  (ab)c = %s\n  a(bc) = %s", i, left, right)
		}
	}
}

func TestLaw_TransformCommutativeSquare(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < lawIterations; i++ {
		doc := randomText(r, r.IntN(12))
		n := UTF16Len(doc)
		a := randomDelta(r, n)
		b := randomDelta(r, n)

		aPrime, bPrime, err := Transform(a, b)
		if err != nil {
			t.Fatalf("iteration %d: transform: %v", i, err)
		}
		left := mustCompose(t, a, bPrime)
		right := mustCompose(t, b, aPrime)
		if !left.Equal(right) {
			t.Fatalf("iteration %d: a=%s b=%s\n  a∘b' = %s\n  b∘a' = %s", i, a, b, left, right)
		}

		gotLeft, err := left.Apply(doc)
		if err != nil {
			t.Fatalf("iteration %d: apply: %v", i, err)
		}
		gotRight, _ := right.Apply(doc)
		if gotLeft != gotRight {
			t.Fatalf("iteration %d: documents diverged: %q vs %q", i, gotLeft, gotRight)
		}
	}
}

func TestLaw_InvertRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < lawIterations; i++ {
		base := New().Insert(randomText(r, r.IntN(12)), nil)
		a := randomDelta(r, base.TargetLen)

		undo := a.Invert(base)
		restored := mustCompose(t, mustCompose(t, base, a), undo)
		if !restored.Equal(base) {
			t.Fatalf("iteration %d: a=%s\n  got  %s\n  want %s", i, a, restored, base)
		}
	}
}

func mustCompose(t *testing.T, a, b *Delta) *Delta {
	t.Helper()
	out, err := a.Compose(b)
	if err != nil {
		t.Fatalf("compose %s with %s: %v", a, b, err)
	}
	return out
}

func randomText(r *rand.Rand, n int) string {
	const alphabet = "abcdefgxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.IntN(len(alphabet))]
	}
	return string(b)
}

// randomDelta returns a delta that consumes exactly baseLen units.
func randomDelta(r *rand.Rand, baseLen int) *Delta {
	d := New()
	remaining := baseLen
	for remaining > 0 {
		n := 1 + r.IntN(remaining)
		switch r.IntN(3) {
		case 0:
			d.Insert(randomText(r, 1+r.IntN(3)), nil)
		case 1:
			d.Retain(n, nil)
			remaining -= n
		default:
			d.Delete(n)
			remaining -= n
		}
	}
	if r.IntN(2) == 0 {
		d.Insert(randomText(r, 1+r.IntN(3)), nil)
	}
	return d
}
