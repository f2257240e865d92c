package delta

import (
	"fmt"
	"strconv"
)

// Kind tags an Operation.
type Kind int

const (
	KindDelete Kind = iota
	KindRetain
	KindInsert
)

func (k Kind) String() string {
	switch k {
	case KindDelete:
		return "delete"
	case KindRetain:
		return "retain"
	case KindInsert:
		return "insert"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Operation is one step of a Delta. N is used by delete and retain, Text by
// insert. Lengths are UTF-16 code units.
type Operation struct {
	Kind       Kind
	N          int
	Text       string
	Attributes Attributes
}

// Delete returns a delete of n units.
func Delete(n int) Operation {
	return Operation{Kind: KindDelete, N: n}
}

// Retain returns a retain of n units with optional formatting.
func Retain(n int, attrs Attributes) Operation {
	return Operation{Kind: KindRetain, N: n, Attributes: attrs.Clone()}
}

// Insert returns an insert of s with optional formatting.
func Insert(s string, attrs Attributes) Operation {
	return Operation{Kind: KindInsert, Text: s, Attributes: attrs.Clone()}
}

// Len is the operation length in UTF-16 code units.
func (op Operation) Len() int {
	if op.Kind == KindInsert {
		return UTF16Len(op.Text)
	}
	return op.N
}

func (op Operation) IsInsert() bool { return op.Kind == KindInsert }
func (op Operation) IsRetain() bool { return op.Kind == KindRetain }
func (op Operation) IsDelete() bool { return op.Kind == KindDelete }

// Equal compares kind, length, text and attributes.
func (op Operation) Equal(other Operation) bool {
	if op.Kind != other.Kind {
		return false
	}
	switch op.Kind {
	case KindInsert:
		return op.Text == other.Text && op.Attributes.Equal(other.Attributes)
	case KindRetain:
		return op.N == other.N && op.Attributes.Equal(other.Attributes)
	default:
		return op.N == other.N
	}
}

func (op Operation) String() string {
	switch op.Kind {
	case KindInsert:
		if op.Attributes.IsEmpty() {
			return fmt.Sprintf("insert(%q)", op.Text)
		}
		return fmt.Sprintf("insert(%q, %v)", op.Text, map[string]any(op.Attributes))
	case KindRetain:
		if op.Attributes.IsEmpty() {
			return fmt.Sprintf("retain(%d)", op.N)
		}
		return fmt.Sprintf("retain(%d, %v)", op.N, map[string]any(op.Attributes))
	default:
		return fmt.Sprintf("delete(%d)", op.N)
	}
}
