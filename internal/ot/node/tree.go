package node

import (
	"encoding/json"
	"fmt"
	"slices"
)

// NodeID is an arena handle. Handles stay valid until the node is removed.
type NodeID int

type slot struct {
	node     Node
	parent   NodeID
	children []NodeID
	removed  bool
}

// Tree is an arena of nodes rooted at a single root node. Parents and
// children refer to each other by NodeID only.
type Tree struct {
	slots []slot
	root  NodeID
}

// NewTree returns a tree holding only a root of the given type.
func NewTree(rootType string) *Tree {
	t := &Tree{}
	t.root = t.alloc(Node{Type: rootType}, -1)
	return t
}

// FromOperations builds a tree by applying ops to an empty root.
func FromOperations(rootType string, ops []Operation) (*Tree, error) {
	t := NewTree(rootType)
	for _, op := range ops {
		if err := t.Apply(op); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) alloc(n Node, parent NodeID) NodeID {
	t.slots = append(t.slots, slot{node: n, parent: parent})
	return NodeID(len(t.slots) - 1)
}

func (t *Tree) Root() NodeID { return t.root }

// Get returns the node stored at id.
func (t *Tree) Get(id NodeID) (Node, bool) {
	if int(id) < 0 || int(id) >= len(t.slots) || t.slots[id].removed {
		return Node{}, false
	}
	return t.slots[id].node, true
}

// Children returns the child handles of id in order.
func (t *Tree) Children(id NodeID) []NodeID {
	return slices.Clone(t.slots[id].children)
}

// NodeAtPath resolves p to a handle. The empty path is the root.
func (t *Tree) NodeAtPath(p Path) (NodeID, bool) {
	cur := t.root
	for _, idx := range p {
		children := t.slots[cur].children
		if idx < 0 || idx >= len(children) {
			return 0, false
		}
		cur = children[idx]
	}
	return cur, true
}

// GetAtPath returns the node at p.
func (t *Tree) GetAtPath(p Path) (Node, bool) {
	id, ok := t.NodeAtPath(p)
	if !ok {
		return Node{}, false
	}
	return t.Get(id)
}

// PathOf returns the path of a live node.
func (t *Tree) PathOf(id NodeID) Path {
	var rev Path
	for cur := id; cur != t.root; {
		parent := t.slots[cur].parent
		rev = append(rev, slices.Index(t.slots[parent].children, cur))
		cur = parent
	}
	slices.Reverse(rev)
	return rev
}

// Data returns the subtree rooted at id.
func (t *Tree) Data(id NodeID) Data {
	s := t.slots[id]
	d := Data{Type: s.node.Type, Attributes: s.node.Attributes.Clone(), Body: slices.Clone(s.node.Body)}
	for _, child := range s.children {
		d.Children = append(d.Children, t.Data(child))
	}
	return d
}

// MarshalJSON encodes the whole tree from the root.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Data(t.root))
}

// Apply runs a single operation against the tree.
func (t *Tree) Apply(op Operation) error {
	switch op.Kind {
	case OpInsert:
		return t.insert(op.Path, op.Nodes)
	case OpDelete:
		return t.delete(op.Path, len(op.Nodes))
	case OpUpdate:
		return t.update(op.Path, op.Changeset)
	default:
		return fmt.Errorf("apply node operation: unknown kind %q", op.Kind)
	}
}

// ApplyTransaction applies every operation of tx or none of them.
func (t *Tree) ApplyTransaction(tx *Transaction) error {
	scratch := t.clone()
	for i, op := range tx.Operations {
		if err := scratch.Apply(op); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i, op, err)
		}
	}
	*t = *scratch
	return nil
}

func (t *Tree) clone() *Tree {
	out := &Tree{root: t.root, slots: make([]slot, len(t.slots))}
	for i, s := range t.slots {
		s.children = slices.Clone(s.children)
		s.node.Attributes = s.node.Attributes.Clone()
		out.slots[i] = s
	}
	return out
}

// insert places nodes at path, creating placeholder ancestors and
// siblings when the path runs past the current shape of the tree.
func (t *Tree) insert(path Path, nodes []Data) error {
	if path.IsEmpty() {
		return ErrEmptyPath
	}
	if slices.ContainsFunc(path, func(idx int) bool { return idx < 0 }) {
		return fmt.Errorf("insert %s: %w", path, ErrPathNotFound)
	}
	parentPath, index := path.Parent()
	parent := t.root
	for _, idx := range parentPath {
		t.fill(parent, idx+1)
		parent = t.slots[parent].children[idx]
	}
	t.fill(parent, index)

	ids := make([]NodeID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, t.build(n, parent))
	}
	children := t.slots[parent].children
	t.slots[parent].children = slices.Insert(children, index, ids...)
	return nil
}

// fill appends placeholder children until parent has at least n children.
func (t *Tree) fill(parent NodeID, n int) {
	for len(t.slots[parent].children) < n {
		id := t.alloc(Node{Type: PlaceholderType}, parent)
		t.slots[parent].children = append(t.slots[parent].children, id)
	}
}

func (t *Tree) build(d Data, parent NodeID) NodeID {
	id := t.alloc(Node{Type: d.Type, Attributes: d.Attributes.Clone(), Body: slices.Clone(d.Body)}, parent)
	for _, child := range d.Children {
		cid := t.build(child, id)
		t.slots[id].children = append(t.slots[id].children, cid)
	}
	return id
}

func (t *Tree) delete(path Path, count int) error {
	if path.IsEmpty() {
		return ErrEmptyPath
	}
	if _, ok := t.NodeAtPath(path); !ok {
		return fmt.Errorf("delete %s: %w", path, ErrPathNotFound)
	}
	parentPath, index := path.Parent()
	parent, _ := t.NodeAtPath(parentPath)
	children := t.slots[parent].children
	end := min(index+count, len(children))
	for _, id := range children[index:end] {
		t.remove(id)
	}
	t.slots[parent].children = slices.Delete(children, index, end)
	return nil
}

func (t *Tree) remove(id NodeID) {
	for _, child := range t.slots[id].children {
		t.remove(child)
	}
	t.slots[id].removed = true
	t.slots[id].children = nil
}

func (t *Tree) update(path Path, c Changeset) error {
	id, ok := t.NodeAtPath(path)
	if !ok {
		return fmt.Errorf("update %s: %w", path, ErrPathNotFound)
	}
	return t.slots[id].node.apply(c)
}
