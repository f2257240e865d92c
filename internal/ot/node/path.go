package node

import (
	"slices"
	"strconv"
	"strings"
)

// Path addresses a node by child indices starting below the root.
// Path{0} is the first child of the root, Path{0, 1} its second child.
type Path []int

func (p Path) IsEmpty() bool { return len(p) == 0 }

func (p Path) Clone() Path { return slices.Clone(p) }

func (p Path) Equal(other Path) bool { return slices.Equal(p, other) }

// Parent splits p into its parent path and the index within the parent.
func (p Path) Parent() (Path, int) {
	if len(p) == 0 {
		return nil, -1
	}
	return p[:len(p)-1].Clone(), p[len(p)-1]
}

// IsAncestorOf reports whether p is a strict prefix of other.
func (p Path) IsAncestorOf(other Path) bool {
	return len(p) < len(other) && slices.Equal(p, other[:len(p)])
}

// Transform returns where other points after offset nodes were inserted
// (offset > 0) or removed (offset < 0) at p. Paths that do not share p's
// parent, or that sit before p, are unchanged.
func (p Path) Transform(other Path, offset int) Path {
	if len(p) == 0 || len(p) > len(other) {
		return other.Clone()
	}
	last := len(p) - 1
	if !slices.Equal(p[:last], other[:last]) {
		return other.Clone()
	}
	out := other.Clone()
	if p[last] <= other[last] {
		out[last] += offset
		if out[last] < p[last] {
			out[last] = p[last]
		}
	}
	return out
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
