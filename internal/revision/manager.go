package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Status is the lifecycle phase of a Manager.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusReady
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

const (
	defaultQueueSize      = 64
	defaultMergeThreshold = 100
)

// ManagerConfig configures a Manager. ObjectID and Persistence are required.
type ManagerConfig struct {
	ObjectID    string
	UserID      string
	Persistence Persistence
	// Snapshots enables restore-from-snapshot and GenerateSnapshot.
	Snapshots *Controller
	// Compactor merges payloads; DeltaCompactor when nil.
	Compactor Compactor
	// Cloud is consulted on Load when the local log is empty.
	Cloud CloudService
	// QueueSize bounds the local edit queue.
	QueueSize int
	// MergeLagging compacts pending revisions behind the one in flight once
	// more than MergeThreshold are waiting.
	MergeLagging   bool
	MergeThreshold int
}

type localRequest struct {
	ctx   context.Context
	data  []byte
	md5   string
	reply chan localResult
}

type localResult struct {
	id  int64
	err error
}

// Manager is the single authority over one object's revision ids. Local
// edits are serialized through one worker goroutine so ids are assigned in
// submission order.
type Manager struct {
	objectID       string
	userID         string
	store          Persistence
	snapshots      *Controller
	compactor      Compactor
	cloud          CloudService
	mergeLagging   bool
	mergeThreshold int

	counter *Counter
	status  atomic.Int32

	mu     sync.RWMutex
	closed bool
	queue  chan localRequest
	done   chan struct{}

	// highest id written by the worker or by a reset
	lastLocal atomic.Int64
}

// NewManager returns a Manager and starts its local edit worker. Call Load
// before submitting revisions and Close when done.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.ObjectID == "" {
		return nil, errors.New("new revision manager: object id is required")
	}
	if cfg.Persistence == nil {
		return nil, errors.New("new revision manager: persistence is required")
	}
	if cfg.Compactor == nil {
		cfg.Compactor = DeltaCompactor{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = defaultMergeThreshold
	}
	m := &Manager{
		objectID:       cfg.ObjectID,
		userID:         cfg.UserID,
		store:          cfg.Persistence,
		snapshots:      cfg.Snapshots,
		compactor:      cfg.Compactor,
		cloud:          cfg.Cloud,
		mergeLagging:   cfg.MergeLagging,
		mergeThreshold: cfg.MergeThreshold,
		counter:        NewCounter(0),
		queue:          make(chan localRequest, cfg.QueueSize),
		done:           make(chan struct{}),
	}
	go m.run()
	return m, nil
}

func (m *Manager) ObjectID() string { return m.objectID }

func (m *Manager) Status() Status { return Status(m.status.Load()) }

// Counter exposes the id counter of the object.
func (m *Manager) Counter() *Counter { return m.counter }

// RevID returns the highest assigned revision id.
func (m *Manager) RevID() int64 { return m.counter.Value() }

// NextRevIDPair returns the current id and the id the next revision gets.
func (m *Manager) NextRevIDPair() (int64, int64) {
	cur := m.counter.Value()
	return cur, cur + 1
}

// Load reads the stored log, falling back to the cloud service when it is
// empty, and hands the revisions to build. When build fails and a snapshot
// exists, the log is reset to the snapshot and build runs again on it.
func (m *Manager) Load(ctx context.Context, build ObjectBuilder) error {
	if !m.status.CompareAndSwap(int32(StatusUninitialized), int32(StatusLoading)) {
		return fmt.Errorf("load %s: manager is %s", m.objectID, m.Status())
	}
	if err := m.load(ctx, build); err != nil {
		m.status.Store(int32(StatusUninitialized))
		return err
	}
	m.status.Store(int32(StatusReady))
	return nil
}

func (m *Manager) load(ctx context.Context, build ObjectBuilder) error {
	records, err := m.store.LoadRecords(ctx, m.objectID)
	if err != nil {
		return fmt.Errorf("load records of %s: %w", m.objectID, err)
	}

	var revs []Revision
	if len(records) == 0 && m.cloud != nil {
		revs, err = m.cloud.FetchObject(ctx, m.userID, m.objectID)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", m.objectID, err)
		}
		if len(revs) > 0 {
			if err := m.store.Reset(ctx, m.objectID, revs); err != nil {
				return fmt.Errorf("store fetched revisions of %s: %w", m.objectID, err)
			}
			slog.Info("fetched object from cloud", "object", m.objectID, "revisions", len(revs))
		}
	} else {
		pending := 0
		for _, r := range records {
			revs = append(revs, r.Revision)
			if r.State == StateLocal {
				pending++
			}
		}
		if pending > 0 {
			slog.Debug("pending local revisions", "object", m.objectID, "count", pending)
		}
	}

	m.counter.Set(maxRevID(revs))
	m.lastLocal.Store(m.counter.Value())

	if err := build(revs); err != nil {
		return m.restore(ctx, build, err)
	}
	return nil
}

func (m *Manager) restore(ctx context.Context, build ObjectBuilder, buildErr error) error {
	if m.snapshots == nil {
		return fmt.Errorf("build %s: %w", m.objectID, buildErr)
	}
	snap, err := m.snapshots.ReadLastSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("build %s: %w; read snapshot: %w", m.objectID, buildErr, err)
	}
	if snap == nil {
		return fmt.Errorf("build %s: %w", m.objectID, buildErr)
	}
	slog.Warn("restoring from snapshot", "object", m.objectID, "rev", snap.RevID, "err", buildErr)

	rev := Revision{
		ObjectID:  m.objectID,
		BaseRevID: snap.BaseRevID,
		RevID:     snap.RevID,
		Bytes:     snap.Data,
		MD5:       ContentHash(snap.Data),
		UserID:    m.userID,
	}
	if err := m.store.Reset(ctx, m.objectID, []Revision{rev}); err != nil {
		return fmt.Errorf("reset %s to snapshot %d: %w", m.objectID, snap.RevID, err)
	}
	m.counter.Set(snap.RevID)
	m.lastLocal.Store(snap.RevID)
	if err := build([]Revision{rev}); err != nil {
		return fmt.Errorf("build %s from snapshot %d: %w", m.objectID, snap.RevID, err)
	}
	return nil
}

func (m *Manager) ready() error {
	switch m.Status() {
	case StatusReady:
		return nil
	case StatusClosing, StatusClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// AddLocalRevision queues a local edit and waits for the worker to assign
// its id and persist it. An empty md5 is computed from data.
func (m *Manager) AddLocalRevision(ctx context.Context, data []byte, md5 string) (int64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyRevision
	}
	if err := m.ready(); err != nil {
		return 0, err
	}
	if md5 == "" {
		md5 = ContentHash(data)
	}
	req := localRequest{ctx: ctx, data: data, md5: md5, reply: make(chan localResult, 1)}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return 0, ErrClosed
	}
	select {
	case m.queue <- req:
		m.mu.RUnlock()
	case <-ctx.Done():
		m.mu.RUnlock()
		return 0, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.id, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for req := range m.queue {
		id, err := m.persistLocal(req.ctx, req.data, req.md5)
		req.reply <- localResult{id: id, err: err}
	}
}

// persistLocal assigns the next id and then writes the revision. A failed
// write gives the id back.
func (m *Manager) persistLocal(ctx context.Context, data []byte, md5 string) (int64, error) {
	id := m.counter.Next()
	if last := m.lastLocal.Load(); id <= last {
		m.counter.rollback(id)
		return 0, fmt.Errorf("assign %d after %d: %w", id, last, ErrNonMonotonic)
	}
	rev := Revision{
		ObjectID:  m.objectID,
		BaseRevID: id - 1,
		RevID:     id,
		Bytes:     data,
		MD5:       md5,
		UserID:    m.userID,
	}
	if err := m.store.AddLocalRevision(ctx, rev); err != nil {
		m.counter.rollback(id)
		return 0, fmt.Errorf("persist revision %d of %s: %w", id, m.objectID, err)
	}
	m.lastLocal.Store(id)

	if m.mergeLagging {
		m.compactLagging(ctx)
	}
	return id, nil
}

// compactLagging keeps the oldest pending revision, which may be in flight,
// and merges the rest once they exceed the threshold.
func (m *Manager) compactLagging(ctx context.Context) {
	n, err := m.store.PendingCount(ctx, m.objectID)
	if err != nil {
		slog.Warn("count pending revisions", "object", m.objectID, "err", err)
		return
	}
	if n-1 <= m.mergeThreshold {
		return
	}
	if err := m.store.CompactLaggingRevisions(ctx, m.objectID, 1, m.compactor); err != nil {
		slog.Warn("compact lagging revisions", "object", m.objectID, "err", err)
		return
	}
	slog.Debug("compacted lagging revisions", "object", m.objectID, "count", n-1)
}

// AddRemoteRevision stores a revision received from the remote as
// acknowledged and advances the counter to at least its id.
func (m *Manager) AddRemoteRevision(ctx context.Context, rev Revision) error {
	if rev.IsEmpty() {
		return ErrEmptyRevision
	}
	if err := m.ready(); err != nil {
		return err
	}
	if rev.ObjectID == "" {
		rev.ObjectID = m.objectID
	}
	if rev.MD5 == "" {
		rev.MD5 = ContentHash(rev.Bytes)
	}
	if err := m.store.AddAckRevision(ctx, rev); err != nil {
		return fmt.Errorf("persist remote revision %d of %s: %w", rev.RevID, m.objectID, err)
	}
	m.counter.SetIfGreater(rev.RevID)
	return nil
}

// AckRevision marks a pending revision acknowledged. Acking a missing or
// already acknowledged revision does nothing.
func (m *Manager) AckRevision(ctx context.Context, revID int64) error {
	if err := m.store.AckRevision(ctx, m.objectID, revID); err != nil {
		return fmt.Errorf("ack revision %d of %s: %w", revID, m.objectID, err)
	}
	return nil
}

// NextSyncRevision returns the oldest pending revision, or nil.
func (m *Manager) NextSyncRevision(ctx context.Context) (*Revision, error) {
	rec, err := m.store.NextLocalRecord(ctx, m.objectID)
	if err != nil {
		return nil, fmt.Errorf("next sync revision of %s: %w", m.objectID, err)
	}
	if rec == nil {
		return nil, nil
	}
	rev := rec.Revision
	return &rev, nil
}

// RevisionsInRange reads stored revisions whose ids fall in r.
func (m *Manager) RevisionsInRange(ctx context.Context, r Range) ([]Revision, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("revisions of %s: invalid range %s", m.objectID, r)
	}
	revs, err := m.store.RevisionsInRange(ctx, m.objectID, r)
	if err != nil {
		return nil, fmt.Errorf("revisions %s of %s: %w", r, m.objectID, err)
	}
	return revs, nil
}

// Revision returns the stored revision with the given id, or nil.
func (m *Manager) Revision(ctx context.Context, revID int64) (*Revision, error) {
	rec, err := m.store.Get(ctx, m.objectID, revID)
	if err != nil {
		return nil, fmt.Errorf("revision %d of %s: %w", revID, m.objectID, err)
	}
	if rec == nil {
		return nil, nil
	}
	rev := rec.Revision
	return &rev, nil
}

// Records returns every stored record of the object.
func (m *Manager) Records(ctx context.Context) ([]Record, error) {
	return m.store.LoadRecords(ctx, m.objectID)
}

// ResetObject replaces the log with revs and moves the counter to the
// highest of their ids. Every revision in revs is stored as acknowledged.
func (m *Manager) ResetObject(ctx context.Context, revs []Revision) error {
	if err := m.store.Reset(ctx, m.objectID, revs); err != nil {
		return fmt.Errorf("reset %s: %w", m.objectID, err)
	}
	id := maxRevID(revs)
	m.counter.Set(id)
	m.lastLocal.Store(id)
	return nil
}

// GenerateSnapshot compacts the whole log and writes it as a snapshot at the
// current revision id.
func (m *Manager) GenerateSnapshot(ctx context.Context) (*Snapshot, error) {
	if m.snapshots == nil {
		return nil, fmt.Errorf("snapshot %s: no snapshot cache configured", m.objectID)
	}
	records, err := m.store.LoadRecords(ctx, m.objectID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", m.objectID, err)
	}
	revs := make([]Revision, len(records))
	for i, r := range records {
		revs[i] = r.Revision
	}
	merged, err := MergeRevisions(m.objectID, m.userID, revs, m.compactor)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", m.objectID, err)
	}
	revID := m.counter.Value()
	if err := m.snapshots.WriteSnapshot(ctx, revID, merged.Bytes, merged.BaseRevID); err != nil {
		return nil, fmt.Errorf("write snapshot %d of %s: %w", revID, m.objectID, err)
	}
	slog.Info("snapshot written", "object", m.objectID, "rev", revID, "revisions", len(revs))
	return &Snapshot{ObjectID: m.objectID, RevID: revID, BaseRevID: merged.BaseRevID, Data: merged.Bytes}, nil
}

// MaybeSnapshot generates a snapshot when at least threshold revisions have
// been assigned since the last one. It returns nil when none was written.
func (m *Manager) MaybeSnapshot(ctx context.Context, threshold int64) (*Snapshot, error) {
	if m.snapshots == nil || threshold <= 0 {
		return nil, nil
	}
	last, err := m.snapshots.ReadLastSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read snapshot of %s: %w", m.objectID, err)
	}
	var lastRev int64
	if last != nil {
		lastRev = last.RevID
	}
	if m.counter.Value()-lastRev < threshold {
		return nil, nil
	}
	return m.GenerateSnapshot(ctx)
}

// Close stops the worker after it drains queued edits and compacts the
// remaining pending revisions into one. Compaction failures are logged.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	prev := Status(m.status.Swap(int32(StatusClosing)))
	close(m.queue)
	m.mu.Unlock()

	<-m.done

	if prev == StatusReady {
		if err := m.store.CompactLaggingRevisions(ctx, m.objectID, 0, m.compactor); err != nil {
			slog.Warn("compact on close", "object", m.objectID, "err", err)
		}
	}
	m.status.Store(int32(StatusClosed))
}

func maxRevID(revs []Revision) int64 {
	var id int64
	for _, r := range revs {
		id = max(id, r.RevID)
	}
	return id
}
