// Package sync opens one text object for editing and keeps it in sync with
// the authority: a revision manager over local storage, an editor on top of
// it, and a ws sync manager driving a reconnecting websocket.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/revsync/internal/document"
	"github.com/marcus/revsync/internal/revision"
	"github.com/marcus/revsync/internal/syncclient"
	"github.com/marcus/revsync/internal/wsync"
)

// Config describes one object session. ObjectID and Store are required;
// without ServerURL the session works offline.
type Config struct {
	ObjectID  string
	UserID    string
	Store     revision.Persistence
	Snapshots revision.SnapshotDiskCache
	// Cloud is consulted when the local log is empty.
	Cloud        revision.CloudService
	ServerURL    string
	PingInterval time.Duration
	Metrics      *wsync.Metrics
	// SnapshotThreshold writes a snapshot on Close once this many revisions
	// were added since the last one. Zero disables it.
	SnapshotThreshold int64
	MergeLagging      bool
	// OnUserConnect is told when a collaborator joins.
	OnUserConnect func(u wsync.NewDocumentUser)
}

// Session is an open object.
type Session struct {
	cfg    Config
	revs   *revision.Manager
	editor *document.Editor

	ws     *wsync.Manager
	conn   *syncclient.WSConn
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Open loads the object from cfg.Store, restoring from a snapshot when the
// log cannot be rebuilt.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	var snaps *revision.Controller
	if cfg.Snapshots != nil {
		snaps = revision.NewController(cfg.ObjectID, cfg.Snapshots)
	}
	revs, err := revision.NewManager(revision.ManagerConfig{
		ObjectID:     cfg.ObjectID,
		UserID:       cfg.UserID,
		Persistence:  cfg.Store,
		Snapshots:    snaps,
		Cloud:        cfg.Cloud,
		MergeLagging: cfg.MergeLagging,
	})
	if err != nil {
		return nil, err
	}
	editor, err := document.Open(ctx, revs)
	if err != nil {
		revs.Close(ctx)
		return nil, fmt.Errorf("open %s: %w", cfg.ObjectID, err)
	}
	return &Session{cfg: cfg, revs: revs, editor: editor}, nil
}

func (s *Session) Editor() *document.Editor     { return s.editor }
func (s *Session) Revisions() *revision.Manager { return s.revs }

// WS returns the ws sync manager, nil until Start.
func (s *Session) WS() *wsync.Manager { return s.ws }

// Start connects to the authority and starts syncing. It is a no-op
// without a server URL.
func (s *Session) Start(ctx context.Context) error {
	if s.cfg.ServerURL == "" || s.ws != nil {
		return nil
	}
	wsURL, err := syncclient.WebSocketURL(s.cfg.ServerURL, s.cfg.ObjectID, s.cfg.UserID)
	if err != nil {
		return err
	}
	s.conn = syncclient.NewWSConn(wsURL)
	s.ws, err = wsync.NewManager(wsync.Config{
		ObjectID:     s.cfg.ObjectID,
		Revisions:    s.revs,
		Sender:       s.conn,
		PingInterval: s.cfg.PingInterval,
		Metrics:      s.cfg.Metrics,
		Hooks: wsync.Hooks{
			OnPush: s.editor.ReceivePushRevision,
			OnUserConnect: func(_ context.Context, u wsync.NewDocumentUser) {
				if s.cfg.OnUserConnect != nil {
					s.cfg.OnUserConnect(u)
				}
			},
		},
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.ws.Start(runCtx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.conn.Run(gctx, s.ws) })
	g.Go(func() error {
		// stop the connection when the sync loops stop
		select {
		case <-s.ws.Stopped():
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	s.group = g
	return nil
}

// Synced reports whether every local revision has been acknowledged.
func (s *Session) Synced(ctx context.Context) (bool, error) {
	rev, err := s.revs.NextSyncRevision(ctx)
	if err != nil {
		return false, err
	}
	return rev == nil, nil
}

// WaitSynced blocks until every local revision is acknowledged or ctx is
// done.
func (s *Session) WaitSynced(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		ok, err := s.Synced(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops syncing, writes a snapshot when due, and closes the revision
// manager, which compacts what is still pending.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if s.ws != nil {
		s.ws.Stop()
		if err := s.ws.Wait(); err != nil {
			errs = append(errs, err)
		}
		s.cancel()
		if err := s.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.cfg.SnapshotThreshold > 0 {
		if snap, err := s.revs.MaybeSnapshot(ctx, s.cfg.SnapshotThreshold); err != nil {
			slog.Warn("snapshot on close", "object", s.cfg.ObjectID, "err", err)
		} else if snap != nil {
			slog.Debug("snapshot on close", "object", s.cfg.ObjectID, "rev", snap.RevID)
		}
	}
	s.revs.Close(ctx)
	return errors.Join(errs...)
}
