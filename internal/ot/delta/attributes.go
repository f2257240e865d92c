package delta

import (
	"maps"
	"reflect"
)

// Attributes are formatting keys attached to retain and insert operations.
// A nil value is a tombstone: composing it over an existing key removes the
// key instead of storing nil.
type Attributes map[string]any

// IsEmpty reports whether the attribute set carries no keys.
func (a Attributes) IsEmpty() bool {
	return len(a) == 0
}

// Clone returns a shallow copy, or nil for an empty set.
func (a Attributes) Clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	return maps.Clone(a)
}

// Equal compares two attribute sets, treating nil and empty as equal.
func (a Attributes) Equal(b Attributes) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(map[string]any(a), map[string]any(b))
}

// Extend copies every key of other into a, overwriting existing keys.
func (a Attributes) Extend(other Attributes) Attributes {
	if len(other) == 0 {
		return a
	}
	if a == nil {
		a = make(Attributes, len(other))
	}
	maps.Copy(a, other)
	return a
}

// ComposeAttributes merges b over a. When keepNull is false tombstones are
// dropped from the result; retains keep them so they still clear keys when
// the composed delta is applied later.
func ComposeAttributes(a, b Attributes, keepNull bool) Attributes {
	out := make(Attributes, len(a)+len(b))
	maps.Copy(out, b)
	if !keepNull {
		for k, v := range out {
			if v == nil {
				delete(out, k)
			}
		}
	}
	for k, v := range a {
		if _, ok := b[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// TransformAttributes rewrites b so it can be applied after a. With priority
// set, keys a already wrote win and are removed from b.
func TransformAttributes(a, b Attributes, priority bool) Attributes {
	if len(a) == 0 {
		return b.Clone()
	}
	if len(b) == 0 {
		return nil
	}
	if !priority {
		return b.Clone()
	}
	out := make(Attributes)
	for k, v := range b {
		if _, ok := a[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// InvertAttributes returns the attributes that undo attr when applied to
// text formatted with base.
func InvertAttributes(attr, base Attributes) Attributes {
	out := make(Attributes)
	for k, v := range base {
		if av, ok := attr[k]; ok && !reflect.DeepEqual(av, v) {
			out[k] = v
		}
	}
	for k, v := range attr {
		if _, ok := base[k]; !ok && v != nil {
			out[k] = nil
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
