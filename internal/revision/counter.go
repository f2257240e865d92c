package revision

import "sync/atomic"

// Counter is the revision id counter of one object.
type Counter struct {
	v atomic.Int64
}

// NewCounter returns a counter starting at start.
func NewCounter(start int64) *Counter {
	c := &Counter{}
	c.v.Store(start)
	return c
}

// Value returns the current id.
func (c *Counter) Value() int64 { return c.v.Load() }

// Next advances the counter and returns the new id.
func (c *Counter) Next() int64 { return c.v.Add(1) }

// Set overwrites the counter.
func (c *Counter) Set(v int64) { c.v.Store(v) }

// SetIfGreater raises the counter to v when v is ahead of it.
func (c *Counter) SetIfGreater(v int64) {
	for {
		cur := c.v.Load()
		if v <= cur || c.v.CompareAndSwap(cur, v) {
			return
		}
	}
}

// rollback undoes a Next that returned id, unless the counter has moved on.
func (c *Counter) rollback(id int64) {
	c.v.CompareAndSwap(id, id-1)
}
