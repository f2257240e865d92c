package delta

import (
	"encoding/json"
	"fmt"
)

// wireOp is the JSON shape of one operation:
//
//	{"insert":"abc","attributes":{"bold":true}}
//	{"retain":3}
//	{"delete":1}
type wireOp struct {
	Insert     *string    `json:"insert,omitempty"`
	Retain     *int       `json:"retain,omitempty"`
	Delete     *int       `json:"delete,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// MarshalJSON encodes the delta as a JSON array of operations.
func (d *Delta) MarshalJSON() ([]byte, error) {
	ops := make([]wireOp, len(d.Ops))
	for i, op := range d.Ops {
		switch op.Kind {
		case KindInsert:
			text := op.Text
			ops[i] = wireOp{Insert: &text, Attributes: op.Attributes}
		case KindRetain:
			n := op.N
			ops[i] = wireOp{Retain: &n, Attributes: op.Attributes}
		default:
			n := op.N
			ops[i] = wireOp{Delete: &n}
		}
	}
	return json.Marshal(ops)
}

// UnmarshalJSON decodes a JSON array of operations, recomputing lengths.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var ops []wireOp
	if err := json.Unmarshal(data, &ops); err != nil {
		return fmt.Errorf("decode delta: %w", err)
	}
	out := New()
	for i, op := range ops {
		switch {
		case op.Insert != nil:
			out.Insert(*op.Insert, op.Attributes)
		case op.Retain != nil:
			if *op.Retain < 0 {
				return fmt.Errorf("decode delta: op %d: negative retain %d", i, *op.Retain)
			}
			out.Retain(*op.Retain, op.Attributes)
		case op.Delete != nil:
			if *op.Delete < 0 {
				return fmt.Errorf("decode delta: op %d: negative delete %d", i, *op.Delete)
			}
			out.Delete(*op.Delete)
		default:
			return fmt.Errorf("decode delta: op %d has no insert, retain or delete", i)
		}
	}
	*d = *out
	return nil
}

// FromBytes decodes a JSON-encoded delta.
func FromBytes(data []byte) (*Delta, error) {
	d := New()
	if err := json.Unmarshal(data, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Bytes encodes d as JSON.
func (d *Delta) Bytes() ([]byte, error) {
	return json.Marshal(d)
}
