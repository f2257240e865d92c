package document

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marcus/revsync/internal/ot/delta"
	"github.com/marcus/revsync/internal/revision"
)

type undoEntry struct {
	change *delta.Delta
	before *delta.Delta
}

// Editor applies edits to a Document and records each one as a local
// revision of its Manager. Edits are serialized so the document and the
// revision log see them in the same order.
type Editor struct {
	doc *Document
	mgr *revision.Manager

	mu   sync.Mutex
	undo []undoEntry
}

// Open loads mgr into a new document.
func Open(ctx context.Context, mgr *revision.Manager) (*Editor, error) {
	doc := New()
	if err := mgr.Load(ctx, doc.Build); err != nil {
		return nil, err
	}
	return &Editor{doc: doc, mgr: mgr}, nil
}

func (e *Editor) Document() *Document        { return e.doc }
func (e *Editor) Manager() *revision.Manager { return e.mgr }
func (e *Editor) Text() string               { return e.doc.Text() }

// Insert inserts s at index and returns the revision id of the edit.
func (e *Editor) Insert(ctx context.Context, index int, s string) (int64, error) {
	change, err := e.doc.InsertDelta(index, s, nil)
	if err != nil {
		return 0, err
	}
	return e.Apply(ctx, change)
}

// Delete removes count units at index.
func (e *Editor) Delete(ctx context.Context, index, count int) (int64, error) {
	change, err := e.doc.DeleteDelta(index, count)
	if err != nil {
		return 0, err
	}
	return e.Apply(ctx, change)
}

// Format sets attrs on count units at index. A nil attribute value removes
// the attribute.
func (e *Editor) Format(ctx context.Context, index, count int, attrs delta.Attributes) (int64, error) {
	change, err := e.doc.FormatDelta(index, count, attrs)
	if err != nil {
		return 0, err
	}
	return e.Apply(ctx, change)
}

// Apply composes change into the document and stores it as a local
// revision. The document is left untouched if the revision cannot be stored.
func (e *Editor) Apply(ctx context.Context, change *delta.Delta) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, before, err := e.apply(ctx, change)
	if err != nil {
		return 0, err
	}
	e.undo = append(e.undo, undoEntry{change: change, before: before})
	return id, nil
}

func (e *Editor) apply(ctx context.Context, change *delta.Delta) (int64, *delta.Delta, error) {
	data, err := change.Bytes()
	if err != nil {
		return 0, nil, fmt.Errorf("encode change: %w", err)
	}
	before, err := e.doc.Compose(change)
	if err != nil {
		return 0, nil, fmt.Errorf("apply change: %w", err)
	}
	id, err := e.mgr.AddLocalRevision(ctx, data, "")
	if err != nil {
		e.restore(before)
		return 0, nil, err
	}
	return id, before, nil
}

// Undo reverts the most recent local edit with a new revision.
func (e *Editor) Undo(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.undo) == 0 {
		return 0, ErrNothingToUndo
	}
	last := e.undo[len(e.undo)-1]
	id, _, err := e.apply(ctx, last.change.Invert(last.before))
	if err != nil {
		return 0, fmt.Errorf("undo: %w", err)
	}
	e.undo = e.undo[:len(e.undo)-1]
	return id, nil
}

// ReceivePushRevision merges revisions pushed by the remote. Revisions
// already stored as acknowledged are skipped. When local revisions are
// pending, the remote change is transformed past them with the remote taking
// priority, and the pending revisions are rebased into one new local
// revision after it so the log replays in order.
func (e *Editor) ReceivePushRevision(ctx context.Context, revs []revision.Revision) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rev := range revs {
		records, err := e.mgr.Records(ctx)
		if err != nil {
			return err
		}
		if known(records, rev) {
			slog.Debug("skip known revision", "object", e.mgr.ObjectID(), "rev", rev.RevID)
			continue
		}
		remote, err := delta.FromBytes(rev.Bytes)
		if err != nil {
			return fmt.Errorf("decode remote revision %d: %w", rev.RevID, err)
		}
		pending, err := pendingDelta(records)
		if err != nil {
			return err
		}
		if pending == nil {
			before, err := e.doc.Compose(remote)
			if err != nil {
				return fmt.Errorf("apply remote revision %d: %w", rev.RevID, err)
			}
			if err := e.mgr.AddRemoteRevision(ctx, rev); err != nil {
				e.restore(before)
				return err
			}
		} else if err := e.rebase(ctx, rev, remote, pending, records); err != nil {
			return err
		}
		// undo history no longer lines up with the document
		e.undo = nil
	}
	return nil
}

func (e *Editor) rebase(ctx context.Context, rev revision.Revision, remote, pending *delta.Delta, records []revision.Record) error {
	remotePrime, pendingPrime, err := delta.Transform(remote, pending)
	if err != nil {
		return fmt.Errorf("transform remote revision %d: %w", rev.RevID, err)
	}
	before, err := e.doc.Compose(remotePrime)
	if err != nil {
		return fmt.Errorf("apply remote revision %d: %w", rev.RevID, err)
	}

	var log []revision.Revision
	for _, r := range records {
		if r.State == revision.StateAck && r.Revision.RevID < rev.RevID {
			log = append(log, r.Revision)
		}
	}
	log = append(log, rev)
	if err := e.mgr.ResetObject(ctx, log); err != nil {
		e.restore(before)
		return err
	}
	if pendingPrime.IsNoop() {
		return nil
	}
	data, err := pendingPrime.Bytes()
	if err != nil {
		return fmt.Errorf("encode rebased changes: %w", err)
	}
	id, err := e.mgr.AddLocalRevision(ctx, data, "")
	if err != nil {
		return fmt.Errorf("store rebased changes: %w", err)
	}
	slog.Debug("rebased pending revisions", "object", e.mgr.ObjectID(), "remote", rev.RevID, "local", id)
	return nil
}

func (e *Editor) restore(doc *delta.Delta) {
	e.doc.mu.Lock()
	e.doc.doc = doc
	e.doc.mu.Unlock()
}

// known reports whether rev is already stored as acknowledged.
func known(records []revision.Record, rev revision.Revision) bool {
	for _, r := range records {
		if r.Revision.RevID == rev.RevID {
			return r.State == revision.StateAck
		}
	}
	return false
}

// pendingDelta composes the unacknowledged local revisions, or returns nil.
func pendingDelta(records []revision.Record) (*delta.Delta, error) {
	var out *delta.Delta
	for _, r := range records {
		if r.State != revision.StateLocal {
			continue
		}
		d, err := delta.FromBytes(r.Revision.Bytes)
		if err != nil {
			return nil, fmt.Errorf("decode pending revision %d: %w", r.Revision.RevID, err)
		}
		if out == nil {
			out = d
			continue
		}
		if out, err = out.Compose(d); err != nil {
			return nil, fmt.Errorf("compose pending revision %d: %w", r.Revision.RevID, err)
		}
	}
	return out, nil
}
