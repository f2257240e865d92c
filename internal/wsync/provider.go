package wsync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/marcus/revsync/internal/revision"
)

// Source says where the provider takes its next message from.
type Source int

const (
	// SourceCustom serves the front of the ad-hoc FIFO.
	SourceCustom Source = iota
	// SourceRevision serves pending revisions, or a ping.
	SourceRevision
)

func (s Source) String() string {
	if s == SourceCustom {
		return "custom"
	}
	return "revision"
}

// RevisionSource is the view of the revision manager the provider needs.
type RevisionSource interface {
	NextSyncRevision(ctx context.Context) (*revision.Revision, error)
	AckRevision(ctx context.Context, revID int64) error
	RevID() int64
}

// Provider picks the next outbound message. Ad-hoc messages wait in a FIFO
// and leave it only when the server acks the front one.
type Provider struct {
	objectID string
	source   RevisionSource

	mu      sync.Mutex
	current Source
	queue   []ClientRevisionWSData
}

func NewProvider(objectID string, source RevisionSource) *Provider {
	return &Provider{objectID: objectID, source: source, current: SourceCustom}
}

// PushData appends d to the FIFO.
func (p *Provider) PushData(d ClientRevisionWSData) {
	p.mu.Lock()
	p.queue = append(p.queue, d)
	p.mu.Unlock()
}

// PushRevisions queues revs as one push message.
func (p *Provider) PushRevisions(revs []revision.Revision) {
	p.PushData(FromRevisions(p.objectID, revs))
}

// Source reports the current source.
func (p *Provider) Source() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Pending returns a copy of the FIFO.
func (p *Provider) Pending() []ClientRevisionWSData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ClientRevisionWSData(nil), p.queue...)
}

// Next returns the message to send this tick, or nil to skip it. Switching
// source always costs one empty tick.
func (p *Provider) Next(ctx context.Context) (*ClientRevisionWSData, error) {
	p.mu.Lock()
	switch p.current {
	case SourceCustom:
		if len(p.queue) == 0 {
			p.current = SourceRevision
			p.mu.Unlock()
			return nil, nil
		}
		front := p.queue[0]
		p.mu.Unlock()
		return &front, nil
	default:
		if len(p.queue) > 0 {
			p.current = SourceCustom
			p.mu.Unlock()
			return nil, nil
		}
		p.mu.Unlock()
	}

	rev, err := p.source.NextSyncRevision(ctx)
	if err != nil {
		return nil, err
	}
	var d ClientRevisionWSData
	if rev != nil {
		d = FromRevisions(p.objectID, []revision.Revision{*rev})
	} else {
		d = Ping(p.objectID, p.source.RevID())
	}
	return &d, nil
}

// AckData handles a server ack. In custom mode the FIFO front is popped when
// its id matches; a mismatch is logged and ignored. In revision mode the id
// is parsed and acked on the revision source.
func (p *Provider) AckData(ctx context.Context, id string, _ ServerDataType) error {
	p.mu.Lock()
	if p.current == SourceCustom {
		defer p.mu.Unlock()
		if len(p.queue) == 0 {
			return nil
		}
		if want := p.queue[0].ID(); want != id {
			slog.Warn("ack does not match queued message", "object", p.objectID, "want", want, "got", id)
			return nil
		}
		p.queue = p.queue[1:]
		return nil
	}
	p.mu.Unlock()

	revID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: ack id %q of %s", ErrMalformed, id, p.objectID)
	}
	return p.source.AckRevision(ctx, revID)
}
