package delta

import (
	"fmt"
	"math"
)

// iterator walks a Delta handing out operations, or pieces of them, of the
// requested length. Past the end it yields an unbounded retain. A cut that
// would split a surrogate pair inside an insert sets err.
type iterator struct {
	ops    []Operation
	index  int
	offset int
	err    error
}

func newIterator(ops []Operation) *iterator {
	return &iterator{ops: ops}
}

func (it *iterator) hasNext() bool {
	return it.index < len(it.ops)
}

func (it *iterator) peekLength() int {
	if !it.hasNext() {
		return math.MaxInt
	}
	return it.ops[it.index].Len() - it.offset
}

func (it *iterator) peekKind() Kind {
	if !it.hasNext() {
		return KindRetain
	}
	return it.ops[it.index].Kind
}

func (it *iterator) nextAll() Operation {
	return it.next(math.MaxInt)
}

func (it *iterator) next(length int) Operation {
	if !it.hasNext() {
		return Operation{Kind: KindRetain, N: length}
	}
	op := it.ops[it.index]
	offset := it.offset
	remaining := op.Len() - offset
	if length >= remaining {
		length = remaining
		it.index++
		it.offset = 0
	} else {
		it.offset += length
	}

	switch op.Kind {
	case KindDelete:
		return Delete(length)
	case KindRetain:
		return Operation{Kind: KindRetain, N: length, Attributes: op.Attributes}
	default:
		if offset == 0 && length == remaining {
			return op
		}
		text, ok := sliceUTF16(op.Text, offset, offset+length)
		if !ok && it.err == nil {
			it.err = fmt.Errorf("%w: cut at %d splits a surrogate pair", ErrLengthMismatch, offset+length)
		}
		return Operation{Kind: KindInsert, Text: text, Attributes: op.Attributes}
	}
}
