package node

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/marcus/revsync/internal/ot/delta"
)

// OpKind tags an Operation.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is a single path-addressed tree edit. Insert and Delete carry
// the affected subtrees (Delete keeps them so it can be inverted), Update
// carries a Changeset.
type Operation struct {
	Kind      OpKind    `json:"op"`
	Path      Path      `json:"path"`
	Nodes     []Data    `json:"nodes,omitempty"`
	Changeset Changeset `json:"changeset,omitzero"`
}

// Insert returns an operation inserting nodes at path.
func Insert(path Path, nodes ...Data) Operation {
	return Operation{Kind: OpInsert, Path: path.Clone(), Nodes: nodes}
}

// Delete returns an operation removing len(nodes) siblings starting at path.
func Delete(path Path, nodes ...Data) Operation {
	return Operation{Kind: OpDelete, Path: path.Clone(), Nodes: nodes}
}

// UpdateAttributes returns an operation replacing attribute values at path.
// old must hold the values being replaced so the update can be inverted.
func UpdateAttributes(path Path, newAttrs, old Attributes) Operation {
	return Operation{
		Kind:      OpUpdate,
		Path:      path.Clone(),
		Changeset: Changeset{Attributes: &AttributesChange{New: newAttrs.Clone(), Old: old.Clone()}},
	}
}

// UpdateBody returns an operation editing the text body at path.
func UpdateBody(path Path, change, inverted *delta.Delta) Operation {
	return Operation{
		Kind:      OpUpdate,
		Path:      path.Clone(),
		Changeset: Changeset{Body: &BodyChange{Delta: change, Inverted: inverted}},
	}
}

// Len is the number of sibling slots the operation inserts or removes.
func (op Operation) Len() int {
	if op.Kind == OpUpdate {
		return 0
	}
	return len(op.Nodes)
}

// Invert returns the operation that undoes op.
func (op Operation) Invert() Operation {
	switch op.Kind {
	case OpInsert:
		return Operation{Kind: OpDelete, Path: op.Path.Clone(), Nodes: op.Nodes}
	case OpDelete:
		return Operation{Kind: OpInsert, Path: op.Path.Clone(), Nodes: op.Nodes}
	default:
		return Operation{Kind: OpUpdate, Path: op.Path.Clone(), Changeset: op.Changeset.Invert()}
	}
}

// TransformOperation rewrites other so it applies after op. Inserts and
// deletes shift sibling paths at or after their own path; op wins
// attribute conflicts on the same node. It reports false when op removed
// the node other targets, in which case other no longer applies.
func TransformOperation(op, other Operation) (Operation, bool) {
	out := other
	out.Path = other.Path.Clone()
	switch op.Kind {
	case OpInsert:
		out.Path = op.Path.Transform(other.Path, len(op.Nodes))
	case OpDelete:
		if op.removes(other) {
			return Operation{}, false
		}
		out.Path = op.Path.Transform(other.Path, -len(op.Nodes))
	case OpUpdate:
		if other.Kind == OpUpdate && op.Path.Equal(other.Path) &&
			op.Changeset.Attributes != nil && other.Changeset.Attributes != nil {
			newAttrs := delta.TransformAttributes(op.Changeset.Attributes.New, other.Changeset.Attributes.New, true)
			out.Changeset.Attributes = &AttributesChange{New: newAttrs, Old: other.Changeset.Attributes.Old.Clone()}
		}
	}
	return out, true
}

// removes reports whether the delete op takes away the node other
// addresses, either one of the deleted siblings or a descendant of one.
// An insert at the same depth as the delete only lands between siblings,
// so it survives.
func (op Operation) removes(other Operation) bool {
	p, q := op.Path, other.Path
	if len(p) == 0 || len(p) > len(q) {
		return false
	}
	last := len(p) - 1
	if !slices.Equal(p[:last], q[:last]) {
		return false
	}
	if q[last] < p[last] || q[last] >= p[last]+len(op.Nodes) {
		return false
	}
	return other.Kind != OpInsert || len(q) > len(p)
}

func (op Operation) String() string {
	return fmt.Sprintf("%s%s", op.Kind, op.Path)
}

// Transaction is an ordered list of operations applied atomically.
type Transaction struct {
	Operations []Operation `json:"operations"`
}

// NewTransaction returns a transaction over ops.
func NewTransaction(ops ...Operation) *Transaction {
	return &Transaction{Operations: ops}
}

// Push appends op.
func (tx *Transaction) Push(op Operation) *Transaction {
	tx.Operations = append(tx.Operations, op)
	return tx
}

// Compose returns a transaction performing tx then other.
func (tx *Transaction) Compose(other *Transaction) *Transaction {
	ops := make([]Operation, 0, len(tx.Operations)+len(other.Operations))
	ops = append(ops, tx.Operations...)
	ops = append(ops, other.Operations...)
	return &Transaction{Operations: ops}
}

// Transform rewrites other so it can be applied after tx. Operations of
// other whose target tx deleted are dropped.
func (tx *Transaction) Transform(other *Transaction) *Transaction {
	out := &Transaction{Operations: make([]Operation, 0, len(other.Operations))}
next:
	for _, o := range other.Operations {
		for _, op := range tx.Operations {
			var ok bool
			if o, ok = TransformOperation(op, o); !ok {
				continue next
			}
		}
		out.Operations = append(out.Operations, o)
	}
	return out
}

// Invert returns the transaction that undoes tx.
func (tx *Transaction) Invert() *Transaction {
	out := &Transaction{Operations: make([]Operation, len(tx.Operations))}
	for i, op := range tx.Operations {
		out.Operations[len(tx.Operations)-1-i] = op.Invert()
	}
	return out
}

// Bytes encodes tx as JSON.
func (tx *Transaction) Bytes() ([]byte, error) {
	return json.Marshal(tx)
}

// TransactionFromBytes decodes a JSON encoded transaction.
func TransactionFromBytes(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}
