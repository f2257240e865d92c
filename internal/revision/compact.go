package revision

import (
	"fmt"

	"github.com/marcus/revsync/internal/ot/delta"
)

// Compactor combines the payloads of consecutive revisions into one payload
// with the same effect.
type Compactor interface {
	Combine(payloads [][]byte) ([]byte, error)
}

// CompactorFunc adapts a function to Compactor.
type CompactorFunc func(payloads [][]byte) ([]byte, error)

func (f CompactorFunc) Combine(payloads [][]byte) ([]byte, error) { return f(payloads) }

// MergeRevisions folds an ordered run of revisions into one. A single
// revision is returned unchanged. The merged revision takes its base id
// from the first revision and its id and hash from the last.
func MergeRevisions(objectID, userID string, revs []Revision, c Compactor) (Revision, error) {
	switch len(revs) {
	case 0:
		return Revision{}, ErrEmptyInput
	case 1:
		return revs[0], nil
	}
	payloads := make([][]byte, len(revs))
	for i, r := range revs {
		payloads[i] = r.Bytes
	}
	data, err := c.Combine(payloads)
	if err != nil {
		return Revision{}, fmt.Errorf("combine %d revisions of %s: %w", len(revs), objectID, err)
	}
	first, last := revs[0], revs[len(revs)-1]
	return Revision{
		ObjectID:  objectID,
		BaseRevID: first.BaseRevID,
		RevID:     last.RevID,
		Bytes:     data,
		MD5:       last.MD5,
		UserID:    userID,
	}, nil
}

// DeltaCompactor composes JSON encoded text deltas.
type DeltaCompactor struct{}

func (DeltaCompactor) Combine(payloads [][]byte) ([]byte, error) {
	var acc *delta.Delta
	for i, p := range payloads {
		d, err := delta.FromBytes(p)
		if err != nil {
			return nil, fmt.Errorf("payload %d: %w", i, err)
		}
		if acc == nil {
			acc = d
			continue
		}
		if acc, err = acc.Compose(d); err != nil {
			return nil, fmt.Errorf("payload %d: %w", i, err)
		}
	}
	if acc == nil {
		acc = delta.New()
	}
	return acc.Bytes()
}
