package wsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const inboundBuffer = 1000

// ConnectState is the transport state broadcast to subscribers.
type ConnectState int

const (
	ConnectStateInit ConnectState = iota
	ConnectStateConnecting
	ConnectStateConnected
	ConnectStateDisconnected
)

func (s ConnectState) String() string {
	switch s {
	case ConnectStateConnecting:
		return "connecting"
	case ConnectStateConnected:
		return "connected"
	case ConnectStateDisconnected:
		return "disconnected"
	default:
		return "init"
	}
}

// Revisions is what the sync manager needs from a revision manager.
type Revisions interface {
	RevisionSource
	RevisionReader
}

// Config configures a Manager. ObjectID, Revisions and Sender are required.
type Config struct {
	ObjectID  string
	Revisions Revisions
	Sender    Sender
	// Consumer overrides the default ObjectConsumer built from Hooks.
	Consumer     StreamConsumer
	Hooks        Hooks
	PingInterval time.Duration
	Metrics      *Metrics
}

// Manager runs the sink and stream of one object and stops them together.
type Manager struct {
	objectID string
	provider *Provider
	sink     *Sink
	stream   *Stream
	inbound  chan ServerRevisionWSData

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	group   *errgroup.Group
	subs    map[int]chan ConnectState
	nextSub int
	state   ConnectState
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.ObjectID == "" {
		return nil, errors.New("new ws manager: object id is required")
	}
	if cfg.Revisions == nil || cfg.Sender == nil {
		return nil, errors.New("new ws manager: revisions and sender are required")
	}
	m := &Manager{
		objectID: cfg.ObjectID,
		provider: NewProvider(cfg.ObjectID, cfg.Revisions),
		inbound:  make(chan ServerRevisionWSData, inboundBuffer),
		stop:     make(chan struct{}),
		subs:     make(map[int]chan ConnectState),
	}
	consumer := cfg.Consumer
	if consumer == nil {
		consumer = NewObjectConsumer(cfg.ObjectID, cfg.Revisions, m.provider, cfg.Hooks)
	}
	m.sink = NewSink(cfg.ObjectID, m.provider, cfg.Sender, cfg.PingInterval, m.stop, cfg.Metrics)
	m.stream = NewStream(cfg.ObjectID, consumer, m.inbound, m.stop, cfg.Metrics)
	return m, nil
}

func (m *Manager) ObjectID() string { return m.objectID }

// Provider is the outbound provider, for queuing ad-hoc messages.
func (m *Manager) Provider() *Provider { return m.provider }

// Start launches the sink and stream loops. Calling it again is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.sink.Run(gctx) })
	g.Go(func() error { return m.stream.Run(gctx) })
	m.group = g
	slog.Debug("ws sync started", "object", m.objectID)
}

// Stop signals both loops to exit. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		slog.Debug("ws sync stopping", "object", m.objectID)
	})
}

// Stopped is closed once Stop has been called.
func (m *Manager) Stopped() <-chan struct{} { return m.stop }

// Wait blocks until both loops have exited. A loop ended by Stop reports no
// error.
func (m *Manager) Wait() error {
	m.mu.Lock()
	g := m.group
	m.mu.Unlock()
	if g == nil {
		return nil
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ReceiveWSData hands a server message to the stream. Messages are handled
// in the order they are received.
func (m *Manager) ReceiveWSData(ctx context.Context, msg ServerRevisionWSData) error {
	select {
	case <-m.stop:
		return ErrStopped
	default:
	}
	select {
	case m.inbound <- msg:
		return nil
	case <-m.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectStateChanged records a transport state change and broadcasts it.
// Slow subscribers miss states rather than block the transport.
func (m *Manager) ConnectStateChanged(state ConnectState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	for _, ch := range m.subs {
		select {
		case ch <- state:
		default:
		}
	}
	slog.Debug("ws connect state", "object", m.objectID, "state", state.String())
}

// ConnectState returns the last broadcast state.
func (m *Manager) ConnectState() ConnectState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SubscribeState returns a channel of connect state changes and a function
// that ends the subscription.
func (m *Manager) SubscribeState() (<-chan ConnectState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan ConnectState, 8)
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}
