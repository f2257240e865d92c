package wsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marcus/revsync/internal/revision"
)

// RevisionReader reads stored revisions by id range.
type RevisionReader interface {
	RevisionsInRange(ctx context.Context, r revision.Range) ([]revision.Revision, error)
}

// Hooks receive the schema specific parts of the protocol. Nil hooks are
// skipped.
type Hooks struct {
	// OnPush merges revisions pushed by the server into the live object.
	OnPush func(ctx context.Context, revs []revision.Revision) error
	// OnUserConnect is told when a collaborator joins.
	OnUserConnect func(ctx context.Context, u NewDocumentUser)
}

// ObjectConsumer is the default StreamConsumer. Pull requests are answered
// from the revision log through the provider FIFO and acks go to the
// provider.
type ObjectConsumer struct {
	objectID string
	reader   RevisionReader
	provider *Provider
	hooks    Hooks
}

func NewObjectConsumer(objectID string, reader RevisionReader, provider *Provider, hooks Hooks) *ObjectConsumer {
	return &ObjectConsumer{objectID: objectID, reader: reader, provider: provider, hooks: hooks}
}

func (c *ObjectConsumer) ReceivePushRevision(ctx context.Context, revs []revision.Revision) error {
	if len(revs) == 0 {
		return nil
	}
	if c.hooks.OnPush == nil {
		slog.Debug("push ignored, no handler", "object", c.objectID, "revisions", len(revs))
		return nil
	}
	return c.hooks.OnPush(ctx, revs)
}

// PullRevisionsInRange queues the stored revisions in r, in id order, as one
// push message.
func (c *ObjectConsumer) PullRevisionsInRange(ctx context.Context, r revision.Range) error {
	revs, err := c.reader.RevisionsInRange(ctx, r)
	if err != nil {
		return fmt.Errorf("pull %s: %w", r, err)
	}
	if len(revs) == 0 {
		slog.Warn("pull matched no revisions", "object", c.objectID, "range", r.String())
		return nil
	}
	if len(revs) != r.Len() {
		slog.Warn("pull range partly missing", "object", c.objectID, "range", r.String(), "found", len(revs))
	}
	c.provider.PushRevisions(revs)
	return nil
}

func (c *ObjectConsumer) ReceiveAck(ctx context.Context, id string, t ServerDataType) error {
	return c.provider.AckData(ctx, id, t)
}

func (c *ObjectConsumer) ReceiveNewUserConnect(ctx context.Context, u NewDocumentUser) error {
	slog.Info("user connected", "object", c.objectID, "user", u.UserID, "rev", u.RevID)
	if c.hooks.OnUserConnect != nil {
		c.hooks.OnUserConnect(ctx, u)
	}
	return nil
}
