// Package node is the tree-shaped counterpart of package delta: path
// addressed insert, update and delete operations over an arena of nodes.
package node

import (
	"errors"
	"fmt"

	"github.com/marcus/revsync/internal/ot/delta"
)

var (
	ErrEmptyPath    = errors.New("node path is empty")
	ErrPathNotFound = errors.New("node path not found")
)

// PlaceholderType is the node type created to fill gaps when an insert
// targets a path whose ancestors or preceding siblings do not exist yet.
const PlaceholderType = "placeholder"

// Attributes reuse the delta attribute rules: a nil value removes the key.
type Attributes = delta.Attributes

// Node is the payload stored at each arena slot.
type Node struct {
	Type       string     `json:"type"`
	Attributes Attributes `json:"attributes,omitempty"`
	// Body is opaque to the tree. Body changesets treat it as a JSON
	// encoded text delta.
	Body []byte `json:"body,omitempty"`
}

// Data is a node together with its subtree, the unit operations carry.
type Data struct {
	Type       string     `json:"type"`
	Attributes Attributes `json:"attributes,omitempty"`
	Body       []byte     `json:"body,omitempty"`
	Children   []Data     `json:"children,omitempty"`
}

// NewData returns a childless node of the given type.
func NewData(nodeType string) Data {
	return Data{Type: nodeType}
}

// Changeset describes an update to a single node.
type Changeset struct {
	Attributes *AttributesChange `json:"attributes,omitempty"`
	Body       *BodyChange       `json:"body,omitempty"`
}

// AttributesChange records the new values and the values they replaced so
// the change can be inverted.
type AttributesChange struct {
	New Attributes `json:"new"`
	Old Attributes `json:"old"`
}

// BodyChange edits a text body with a delta and keeps its inverse.
type BodyChange struct {
	Delta    *delta.Delta `json:"delta"`
	Inverted *delta.Delta `json:"inverted"`
}

// Invert returns the changeset that undoes c.
func (c Changeset) Invert() Changeset {
	var out Changeset
	if c.Attributes != nil {
		out.Attributes = &AttributesChange{New: c.Attributes.Old.Clone(), Old: c.Attributes.New.Clone()}
	}
	if c.Body != nil {
		out.Body = &BodyChange{Delta: c.Body.Inverted, Inverted: c.Body.Delta}
	}
	return out
}

func (n *Node) apply(c Changeset) error {
	if c.Attributes != nil {
		n.Attributes = delta.ComposeAttributes(n.Attributes, c.Attributes.New, false)
	}
	if c.Body != nil && c.Body.Delta != nil {
		doc := delta.New()
		if len(n.Body) > 0 {
			var err error
			if doc, err = delta.FromBytes(n.Body); err != nil {
				return fmt.Errorf("decode node body: %w", err)
			}
		}
		next, err := doc.Compose(c.Body.Delta)
		if err != nil {
			return fmt.Errorf("apply body change: %w", err)
		}
		body, err := next.Bytes()
		if err != nil {
			return fmt.Errorf("encode node body: %w", err)
		}
		n.Body = body
	}
	return nil
}
