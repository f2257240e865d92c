package wsync

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPingInterval is the sink tick used when none is configured.
const DefaultPingInterval = 2 * time.Second

// Sender transmits client messages to the server.
type Sender interface {
	Send(ctx context.Context, msg ClientRevisionWSData) error
}

// Sink sends whatever the provider returns on every tick. A tick with
// nothing to send is skipped; send failures are logged and retried on the
// next tick because nothing leaves the provider until it is acked.
type Sink struct {
	objectID string
	provider *Provider
	sender   Sender
	interval time.Duration
	stop     <-chan struct{}
	metrics  *Metrics
}

func NewSink(objectID string, provider *Provider, sender Sender, interval time.Duration, stop <-chan struct{}, metrics *Metrics) *Sink {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &Sink{
		objectID: objectID,
		provider: provider,
		sender:   sender,
		interval: interval,
		stop:     stop,
		metrics:  metrics,
	}
}

// Run ticks until stop is closed or ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			slog.Debug("ws sink stopped", "object", s.objectID)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				slog.Warn("ws sink tick", "object", s.objectID, "err", err)
			}
		}
	}
}

// Tick sends at most one message and reports whether it sent one.
func (s *Sink) Tick(ctx context.Context) (bool, error) {
	msg, err := s.provider.Next(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	if err := s.sender.Send(ctx, *msg); err != nil {
		return false, err
	}
	s.metrics.messageSent(msg.Type)
	slog.Debug("ws sent", "object", s.objectID, "type", msg.Type, "id", msg.ID())
	return true, nil
}
