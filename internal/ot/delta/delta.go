// Package delta implements the operational-transform algebra over
// insert/retain/delete streams: building, composing, transforming and
// inverting deltas, and applying them to plain text.
//
// Every delta is tied to a base length (the document it applies to) and a
// target length (the document it produces). Compose and Transform refuse
// inputs whose lengths do not line up and return ErrLengthMismatch.
package delta

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLengthMismatch is returned when two deltas, or a delta and a document,
// do not agree on the document length they operate on.
var ErrLengthMismatch = errors.New("delta length mismatch")

// Delta is an ordered list of operations plus the base and target lengths
// the operations imply.
type Delta struct {
	Ops       []Operation
	BaseLen   int
	TargetLen int
}

// New returns an empty delta.
func New() *Delta {
	return &Delta{}
}

// FromOps builds a delta by adding ops in order, merging where possible.
func FromOps(ops ...Operation) *Delta {
	d := New()
	for _, op := range ops {
		d.Add(op)
	}
	return d
}

// Add appends op, merging it with the previous operation when the kinds and
// attributes match. Inserts are kept in front of a trailing delete so that
// equivalent deltas share one canonical form.
func (d *Delta) Add(op Operation) *Delta {
	switch op.Kind {
	case KindDelete:
		return d.Delete(op.N)
	case KindRetain:
		return d.Retain(op.N, op.Attributes)
	default:
		return d.Insert(op.Text, op.Attributes)
	}
}

// Delete appends a delete of n units.
func (d *Delta) Delete(n int) *Delta {
	if n <= 0 {
		return d
	}
	d.BaseLen += n
	if last := len(d.Ops) - 1; last >= 0 && d.Ops[last].Kind == KindDelete {
		d.Ops[last].N += n
		return d
	}
	d.Ops = append(d.Ops, Delete(n))
	return d
}

// Retain appends a retain of n units.
func (d *Delta) Retain(n int, attrs Attributes) *Delta {
	if n <= 0 {
		return d
	}
	d.BaseLen += n
	d.TargetLen += n
	if last := len(d.Ops) - 1; last >= 0 && d.Ops[last].Kind == KindRetain && d.Ops[last].Attributes.Equal(attrs) {
		d.Ops[last].N += n
		return d
	}
	d.Ops = append(d.Ops, Retain(n, attrs))
	return d
}

// Insert appends an insert of s.
func (d *Delta) Insert(s string, attrs Attributes) *Delta {
	if s == "" {
		return d
	}
	d.TargetLen += UTF16Len(s)

	index := len(d.Ops)
	if index > 0 && d.Ops[index-1].Kind == KindDelete {
		// insert goes before the trailing delete
		index--
	}
	if index > 0 {
		prev := &d.Ops[index-1]
		if prev.Kind == KindInsert && prev.Attributes.Equal(attrs) {
			prev.Text += s
			return d
		}
	}
	op := Insert(s, attrs)
	if index == len(d.Ops) {
		d.Ops = append(d.Ops, op)
		return d
	}
	d.Ops = append(d.Ops, Operation{})
	copy(d.Ops[index+1:], d.Ops[index:])
	d.Ops[index] = op
	return d
}

// Clone returns a deep copy of d.
func (d *Delta) Clone() *Delta {
	out := &Delta{BaseLen: d.BaseLen, TargetLen: d.TargetLen}
	out.Ops = make([]Operation, len(d.Ops))
	for i, op := range d.Ops {
		op.Attributes = op.Attributes.Clone()
		out.Ops[i] = op
	}
	return out
}

// IsEmpty reports whether d has no operations.
func (d *Delta) IsEmpty() bool {
	return len(d.Ops) == 0
}

// IsNoop reports whether applying d leaves a document untouched.
func (d *Delta) IsNoop() bool {
	for _, op := range d.Ops {
		if op.Kind != KindRetain || !op.Attributes.IsEmpty() {
			return false
		}
	}
	return true
}

// Equal compares operations and lengths.
func (d *Delta) Equal(other *Delta) bool {
	if d.BaseLen != other.BaseLen || d.TargetLen != other.TargetLen || len(d.Ops) != len(other.Ops) {
		return false
	}
	for i := range d.Ops {
		if !d.Ops[i].Equal(other.Ops[i]) {
			return false
		}
	}
	return true
}

func (d *Delta) String() string {
	parts := make([]string, len(d.Ops))
	for i, op := range d.Ops {
		parts[i] = op.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Extend adds every operation of other to d.
func (d *Delta) Extend(other *Delta) *Delta {
	for _, op := range other.Ops {
		d.Add(op)
	}
	return d
}

// Content returns the text of a document delta, one made only of inserts.
func (d *Delta) Content() (string, error) {
	var b strings.Builder
	for _, op := range d.Ops {
		if op.Kind != KindInsert {
			return "", fmt.Errorf("content of non-document delta: found %s", op.Kind)
		}
		b.WriteString(op.Text)
	}
	return b.String(), nil
}

// Slice returns the operations of a document delta covering the UTF-16
// range [start, end).
func (d *Delta) Slice(start, end int) *Delta {
	out := New()
	it := newIterator(d.Ops)
	index := 0
	for index < end && it.hasNext() {
		var op Operation
		if index < start {
			op = it.next(start - index)
		} else {
			op = it.next(end - index)
			out.Add(op)
		}
		index += op.Len()
	}
	return out
}

// Apply runs d against s and returns the resulting text. The length of s
// must equal d.BaseLen.
func (d *Delta) Apply(s string) (string, error) {
	if n := UTF16Len(s); n != d.BaseLen {
		return "", fmt.Errorf("%w: apply expected base %d, got %d", ErrLengthMismatch, d.BaseLen, n)
	}
	var b strings.Builder
	pos := 0
	for _, op := range d.Ops {
		switch op.Kind {
		case KindRetain:
			kept, ok := sliceUTF16(s, pos, pos+op.N)
			if !ok {
				return "", fmt.Errorf("%w: retain of %d at %d splits a surrogate pair", ErrLengthMismatch, op.N, pos)
			}
			b.WriteString(kept)
			pos += op.N
		case KindDelete:
			if _, ok := sliceUTF16(s, pos, pos+op.N); !ok {
				return "", fmt.Errorf("%w: delete of %d at %d splits a surrogate pair", ErrLengthMismatch, op.N, pos)
			}
			pos += op.N
		case KindInsert:
			b.WriteString(op.Text)
		}
	}
	return b.String(), nil
}

// Compose returns a delta equivalent to applying d and then other.
// other.BaseLen must equal d.TargetLen.
func (d *Delta) Compose(other *Delta) (*Delta, error) {
	if d.TargetLen != other.BaseLen {
		return nil, fmt.Errorf("%w: compose target %d, other base %d", ErrLengthMismatch, d.TargetLen, other.BaseLen)
	}
	out := New()
	it := newIterator(d.Ops)
	otherIt := newIterator(other.Ops)

	for it.hasNext() || otherIt.hasNext() {
		if otherIt.hasNext() && otherIt.peekKind() == KindInsert {
			out.Add(otherIt.nextAll())
			continue
		}
		if it.hasNext() && it.peekKind() == KindDelete {
			out.Add(it.nextAll())
			continue
		}
		if !it.hasNext() || !otherIt.hasNext() {
			return nil, fmt.Errorf("%w: compose ran past the end of a delta", ErrLengthMismatch)
		}

		length := min(it.peekLength(), otherIt.peekLength())
		op := it.next(length)
		otherOp := otherIt.next(length)

		switch {
		case otherOp.Kind == KindRetain && op.Kind == KindRetain:
			out.Retain(length, ComposeAttributes(op.Attributes, otherOp.Attributes, true))
		case otherOp.Kind == KindRetain && op.Kind == KindInsert:
			out.Insert(op.Text, ComposeAttributes(op.Attributes, otherOp.Attributes, false))
		case otherOp.Kind == KindDelete && op.Kind == KindRetain:
			out.Delete(length)
		}
		// insert followed by delete cancels out
	}
	if err := errors.Join(it.err, otherIt.err); err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	return out, nil
}

// Transform takes two deltas produced concurrently from the same document
// and returns (aPrime, bPrime) such that a.Compose(bPrime) equals
// b.Compose(aPrime). When both insert at the same position, a's insert is
// placed first: argument order decides priority.
func Transform(a, b *Delta) (aPrime, bPrime *Delta, err error) {
	if a.BaseLen != b.BaseLen {
		return nil, nil, fmt.Errorf("%w: transform base %d, other base %d", ErrLengthMismatch, a.BaseLen, b.BaseLen)
	}
	aPrime, bPrime = New(), New()
	itA := newIterator(a.Ops)
	itB := newIterator(b.Ops)

	for itA.hasNext() || itB.hasNext() {
		if itA.hasNext() && itA.peekKind() == KindInsert {
			op := itA.nextAll()
			aPrime.Insert(op.Text, op.Attributes)
			bPrime.Retain(op.Len(), nil)
			continue
		}
		if itB.hasNext() && itB.peekKind() == KindInsert {
			op := itB.nextAll()
			aPrime.Retain(op.Len(), nil)
			bPrime.Insert(op.Text, op.Attributes)
			continue
		}
		if !itA.hasNext() || !itB.hasNext() {
			return nil, nil, fmt.Errorf("%w: transform ran past the end of a delta", ErrLengthMismatch)
		}

		length := min(itA.peekLength(), itB.peekLength())
		opA := itA.next(length)
		opB := itB.next(length)

		switch {
		case opA.Kind == KindRetain && opB.Kind == KindRetain:
			aPrime.Retain(length, TransformAttributes(opB.Attributes, opA.Attributes, false))
			bPrime.Retain(length, TransformAttributes(opA.Attributes, opB.Attributes, true))
		case opA.Kind == KindDelete && opB.Kind == KindRetain:
			aPrime.Delete(length)
		case opA.Kind == KindRetain && opB.Kind == KindDelete:
			bPrime.Delete(length)
		}
		// both sides deleted the same range: nothing left to do
	}
	if err := errors.Join(itA.err, itB.err); err != nil {
		return nil, nil, fmt.Errorf("transform: %w", err)
	}
	return aPrime, bPrime, nil
}

// Transform is the method form of Transform with d as the priority side.
func (d *Delta) Transform(other *Delta) (*Delta, *Delta, error) {
	return Transform(d, other)
}

// Invert returns the delta that undoes d. base is the document delta d was
// applied to; its formatting is used to restore deleted and reformatted text.
func (d *Delta) Invert(base *Delta) *Delta {
	inverted := New()
	baseIndex := 0
	for _, op := range d.Ops {
		switch {
		case op.Kind == KindInsert:
			inverted.Delete(op.Len())
		case op.Kind == KindRetain && op.Attributes.IsEmpty():
			inverted.Retain(op.N, nil)
			baseIndex += op.N
		default:
			for _, baseOp := range base.Slice(baseIndex, baseIndex+op.N).Ops {
				if op.Kind == KindDelete {
					inverted.Add(baseOp)
				} else {
					inverted.Retain(baseOp.Len(), InvertAttributes(op.Attributes, baseOp.Attributes))
				}
			}
			baseIndex += op.N
		}
	}
	return inverted
}

// InvertString is Invert for an unformatted base text.
func (d *Delta) InvertString(s string) *Delta {
	return d.Invert(New().Insert(s, nil))
}
