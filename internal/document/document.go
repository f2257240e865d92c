// Package document is a plain text object whose revisions are JSON encoded
// deltas. Editor ties a Document to a revision.Manager so each edit becomes
// a local revision.
package document

import (
	"errors"
	"fmt"
	"sync"

	"github.com/marcus/revsync/internal/ot/delta"
	"github.com/marcus/revsync/internal/revision"
)

// ErrNothingToUndo is returned by Undo when no local edit is left.
var ErrNothingToUndo = errors.New("nothing to undo")

// Document holds the current text as a document delta.
type Document struct {
	mu  sync.RWMutex
	doc *delta.Delta
}

func New() *Document {
	return &Document{doc: delta.New()}
}

// Build replays revs from an empty document. It satisfies
// revision.ObjectBuilder.
func (d *Document) Build(revs []revision.Revision) error {
	doc, err := Replay(revs)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.doc = doc
	d.mu.Unlock()
	return nil
}

// Replay composes the deltas carried by revs, starting from an empty
// document.
func Replay(revs []revision.Revision) (*delta.Delta, error) {
	doc := delta.New()
	for _, r := range revs {
		change, err := delta.FromBytes(r.Bytes)
		if err != nil {
			return nil, fmt.Errorf("decode revision %d: %w", r.RevID, err)
		}
		if doc, err = doc.Compose(change); err != nil {
			return nil, fmt.Errorf("replay revision %d: %w", r.RevID, err)
		}
	}
	return doc, nil
}

// Delta returns a copy of the document delta.
func (d *Document) Delta() *delta.Delta {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc.Clone()
}

// Text returns the document text.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, _ := d.doc.Content()
	return s
}

// Len is the document length in UTF-16 units.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc.TargetLen
}

// Compose applies change to the document and returns the document as it was
// before.
func (d *Document) Compose(change *delta.Delta) (*delta.Delta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := d.doc.Compose(change)
	if err != nil {
		return nil, err
	}
	prev := d.doc
	d.doc = next
	return prev, nil
}

// InsertDelta builds the change inserting s at index.
func (d *Document) InsertDelta(index int, s string, attrs delta.Attributes) (*delta.Delta, error) {
	n := d.Len()
	if index < 0 || index > n {
		return nil, fmt.Errorf("insert at %d: out of range [0,%d]", index, n)
	}
	if err := d.checkBoundaries(index); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	return delta.New().Retain(index, nil).Insert(s, attrs).Retain(n-index, nil), nil
}

// DeleteDelta builds the change deleting count units at index.
func (d *Document) DeleteDelta(index, count int) (*delta.Delta, error) {
	n := d.Len()
	if index < 0 || count < 0 || index+count > n {
		return nil, fmt.Errorf("delete %d at %d: out of range [0,%d]", count, index, n)
	}
	if err := d.checkBoundaries(index, index+count); err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}
	return delta.New().Retain(index, nil).Delete(count).Retain(n-index-count, nil), nil
}

// FormatDelta builds the change applying attrs to count units at index.
func (d *Document) FormatDelta(index, count int, attrs delta.Attributes) (*delta.Delta, error) {
	n := d.Len()
	if index < 0 || count < 0 || index+count > n {
		return nil, fmt.Errorf("format %d at %d: out of range [0,%d]", count, index, n)
	}
	if err := d.checkBoundaries(index, index+count); err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}
	return delta.New().Retain(index, nil).Retain(count, attrs).Retain(n-index-count, nil), nil
}

// checkBoundaries rejects offsets that land inside a surrogate pair.
func (d *Document) checkBoundaries(offsets ...int) error {
	text := d.Text()
	for _, off := range offsets {
		if delta.SplitsSurrogate(text, off) {
			return fmt.Errorf("%w: offset %d splits a surrogate pair", delta.ErrLengthMismatch, off)
		}
	}
	return nil
}
