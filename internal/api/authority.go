package api

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/marcus/revsync/internal/revision"
	"github.com/marcus/revsync/internal/wsync"
)

// Store is the durable log the authority appends accepted revisions to.
type Store interface {
	LoadRecords(ctx context.Context, objectID string) ([]revision.Record, error)
	AddAckRevision(ctx context.Context, rev revision.Revision) error
	RevisionsInRange(ctx context.Context, objectID string, r revision.Range) ([]revision.Revision, error)
	RegisterObject(ctx context.Context, objectID, kind string) error
}

// Hub tracks the connections and log head of every object being synced.
// Revisions are accepted strictly in order: a revision is appended only when
// its base is the current head.
type Hub struct {
	store   Store
	metrics *Metrics
	// notify, when set, is told about every batch of accepted revisions.
	notify func(objectID string, revs []revision.Revision)

	mu      sync.Mutex
	objects map[string]*object
}

type object struct {
	id string

	// mu serializes appends and head reads
	mu     sync.Mutex
	head   int64
	loaded bool
	conns  map[*Conn]struct{}
}

func NewHub(store Store, metrics *Metrics) *Hub {
	return &Hub{store: store, metrics: metrics, objects: make(map[string]*object)}
}

func (h *Hub) object(id string) *object {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[id]
	if !ok {
		obj = &object{id: id, conns: make(map[*Conn]struct{})}
		h.objects[id] = obj
	}
	return obj
}

// load reads the head of obj from the store once. Callers hold obj.mu.
func (h *Hub) load(ctx context.Context, obj *object) error {
	if obj.loaded {
		return nil
	}
	records, err := h.store.LoadRecords(ctx, obj.id)
	if err != nil {
		return fmt.Errorf("load %s: %w", obj.id, err)
	}
	for _, r := range records {
		obj.head = max(obj.head, r.Revision.RevID)
	}
	if err := h.store.RegisterObject(ctx, obj.id, "text"); err != nil {
		return err
	}
	obj.loaded = true
	return nil
}

// Head returns the highest accepted revision id of objectID.
func (h *Hub) Head(ctx context.Context, objectID string) (int64, error) {
	obj := h.object(objectID)
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if err := h.load(ctx, obj); err != nil {
		return 0, err
	}
	return obj.head, nil
}

// Revisions returns every accepted revision of objectID.
func (h *Hub) Revisions(ctx context.Context, objectID string) ([]revision.Revision, error) {
	head, err := h.Head(ctx, objectID)
	if err != nil {
		return nil, err
	}
	if head == 0 {
		return nil, nil
	}
	return h.store.RevisionsInRange(ctx, objectID, revision.Range{Start: 1, End: head})
}

func (h *Hub) join(ctx context.Context, c *Conn) error {
	obj := h.object(c.objectID)
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if err := h.load(ctx, obj); err != nil {
		return err
	}
	joined := wsync.ServerUserConnect(obj.id, wsync.NewDocumentUser{UserID: c.userID, DocID: obj.id, RevID: obj.head})
	for other := range obj.conns {
		other.enqueue(joined)
	}
	obj.conns[c] = struct{}{}
	return nil
}

func (h *Hub) leave(c *Conn) {
	obj := h.object(c.objectID)
	obj.mu.Lock()
	delete(obj.conns, c)
	obj.mu.Unlock()
}

// closeAll closes every open connection.
func (h *Hub) closeAll() {
	h.mu.Lock()
	objs := make([]*object, 0, len(h.objects))
	for _, obj := range h.objects {
		objs = append(objs, obj)
	}
	h.mu.Unlock()
	for _, obj := range objs {
		obj.mu.Lock()
		for c := range obj.conns {
			c.close()
		}
		obj.mu.Unlock()
	}
}

func (h *Hub) handle(ctx context.Context, c *Conn, msg wsync.ClientRevisionWSData) error {
	obj := h.object(c.objectID)
	obj.mu.Lock()
	defer obj.mu.Unlock()

	switch msg.Type {
	case wsync.ClientPushRev:
		return h.push(ctx, obj, c, msg)
	case wsync.ClientPing:
		return h.ping(ctx, obj, c, msg.RevID)
	case wsync.ClientPullRev:
		revs, err := h.store.RevisionsInRange(ctx, obj.id, *msg.Range)
		if err != nil {
			return err
		}
		c.enqueue(wsync.ServerPush(obj.id, revs))
	case wsync.ClientAck:
		slog.Debug("client ack", "object", obj.id, "conn", c.id, "rev", msg.RevID)
	}
	return nil
}

// push appends the revisions of msg that extend the head. The message is
// acked once every revision in it is stored; a gap is answered with a pull
// and a stale base with the revisions the client is missing.
func (h *Hub) push(ctx context.Context, obj *object, c *Conn, msg wsync.ClientRevisionWSData) error {
	var accepted []revision.Revision
	complete := true
	for _, rev := range msg.Revisions {
		rev.ObjectID = obj.id
		switch {
		case rev.RevID <= obj.head:
			stored, err := h.store.RevisionsInRange(ctx, obj.id, revision.Range{Start: rev.RevID, End: rev.RevID})
			if err != nil {
				return err
			}
			if len(stored) == 1 && stored[0].MD5 == rev.MD5 {
				// already stored
				break
			}
			// same id, different content: the client has to rebase
			missing, err := h.store.RevisionsInRange(ctx, obj.id, revision.Range{Start: rev.BaseRevID + 1, End: obj.head})
			if err != nil {
				return err
			}
			c.enqueue(wsync.ServerPush(obj.id, missing))
			complete = false
		case rev.BaseRevID > obj.head:
			h.metrics.RecordPull()
			c.enqueue(wsync.ServerPull(obj.id, revision.Range{Start: obj.head + 1, End: rev.BaseRevID}))
			complete = false
		case rev.BaseRevID < obj.head:
			missing, err := h.store.RevisionsInRange(ctx, obj.id, revision.Range{Start: rev.BaseRevID + 1, End: obj.head})
			if err != nil {
				return err
			}
			c.enqueue(wsync.ServerPush(obj.id, missing))
			complete = false
		default:
			if rev.IsEmpty() {
				return fmt.Errorf("revision %d: %w", rev.RevID, revision.ErrEmptyRevision)
			}
			if err := h.store.AddAckRevision(ctx, rev); err != nil {
				return err
			}
			obj.head = rev.RevID
			accepted = append(accepted, rev)
		}
		if !complete {
			break
		}
	}

	if len(accepted) > 0 {
		h.metrics.RecordRevisions(int64(len(accepted)))
		pushed := wsync.ServerPush(obj.id, accepted)
		for other := range obj.conns {
			if other != c {
				other.enqueue(pushed)
			}
		}
		if h.notify != nil {
			h.notify(obj.id, accepted)
		}
		slog.Debug("revisions accepted", "object", obj.id, "conn", c.id, "count", len(accepted), "head", obj.head)
	}
	if complete && msg.ID() != "" {
		id, err := strconv.ParseInt(msg.ID(), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: push id %q", wsync.ErrMalformed, msg.ID())
		}
		c.enqueue(wsync.ServerAckRev(obj.id, id))
	}
	return nil
}

// ping compares the client's rev id with the head and asks for, or sends,
// whatever is missing on either side.
func (h *Hub) ping(ctx context.Context, obj *object, c *Conn, revID int64) error {
	switch {
	case revID > obj.head:
		h.metrics.RecordPull()
		c.enqueue(wsync.ServerPull(obj.id, revision.Range{Start: obj.head + 1, End: revID}))
	case revID < obj.head:
		missing, err := h.store.RevisionsInRange(ctx, obj.id, revision.Range{Start: revID + 1, End: obj.head})
		if err != nil {
			return err
		}
		c.enqueue(wsync.ServerPush(obj.id, missing))
	}
	return nil
}
