package wsync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/marcus/revsync/internal/revision"
)

// StreamConsumer handles decoded server messages for one object.
type StreamConsumer interface {
	ReceivePushRevision(ctx context.Context, revs []revision.Revision) error
	PullRevisionsInRange(ctx context.Context, r revision.Range) error
	ReceiveAck(ctx context.Context, id string, t ServerDataType) error
	ReceiveNewUserConnect(ctx context.Context, u NewDocumentUser) error
}

// Stream reads server messages in arrival order and dispatches them to its
// consumer. Messages that cannot be decoded, and consumer failures, are
// logged and dropped so one bad message never ends the session.
type Stream struct {
	objectID string
	consumer StreamConsumer
	inbound  <-chan ServerRevisionWSData
	stop     <-chan struct{}
	metrics  *Metrics
}

func NewStream(objectID string, consumer StreamConsumer, inbound <-chan ServerRevisionWSData, stop <-chan struct{}, metrics *Metrics) *Stream {
	return &Stream{
		objectID: objectID,
		consumer: consumer,
		inbound:  inbound,
		stop:     stop,
		metrics:  metrics,
	}
}

// Run dispatches inbound messages until stop is closed, ctx is done or the
// inbound channel is closed.
func (s *Stream) Run(ctx context.Context) error {
	for {
		select {
		case <-s.stop:
			slog.Debug("ws stream stopped", "object", s.objectID)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.inbound:
			if !ok {
				return nil
			}
			if err := s.Handle(ctx, msg); err != nil {
				slog.Warn("ws message dropped", "object", s.objectID, "type", msg.Type, "err", err)
			}
		}
	}
}

// Handle dispatches one message.
func (s *Stream) Handle(ctx context.Context, msg ServerRevisionWSData) error {
	if msg.ObjectID != "" && msg.ObjectID != s.objectID {
		s.metrics.malformedMessage()
		return fmt.Errorf("%w: message for object %q", ErrMalformed, msg.ObjectID)
	}
	s.metrics.messageReceived(msg.Type)

	switch msg.Type {
	case ServerPushRev:
		revs, err := DecodeRevisions(msg.Data)
		if err != nil {
			s.metrics.malformedMessage()
			return err
		}
		return s.consumer.ReceivePushRevision(ctx, revs)
	case ServerPullRev:
		r, err := DecodeRange(msg.Data)
		if err != nil {
			s.metrics.malformedMessage()
			return err
		}
		return s.consumer.PullRevisionsInRange(ctx, r)
	case ServerAck:
		id, err := DecodeRevID(msg.Data)
		if err != nil {
			s.metrics.malformedMessage()
			return err
		}
		return s.consumer.ReceiveAck(ctx, strconv.FormatInt(id, 10), msg.Type)
	case UserConnect:
		u, err := DecodeNewUser(msg.Data)
		if err != nil {
			s.metrics.malformedMessage()
			return err
		}
		return s.consumer.ReceiveNewUserConnect(ctx, u)
	default:
		s.metrics.malformedMessage()
		return fmt.Errorf("%w: unknown server type %q", ErrMalformed, msg.Type)
	}
}
