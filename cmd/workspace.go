package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcus/revsync/internal/revdb"
	"github.com/marcus/revsync/internal/snapstore"
	"github.com/marcus/revsync/internal/suggest"
	revsync "github.com/marcus/revsync/internal/sync"
	"github.com/marcus/revsync/internal/syncclient"
	"github.com/marcus/revsync/internal/syncconfig"
)

// objectKind is the only object type the CLI creates.
const objectKind = "text"

// workspace is the local store of the CLI: the SQLite revision log and the
// badger snapshot cache, both under one data directory.
type workspace struct {
	dir   string
	db    *revdb.DB
	snaps *snapstore.Store
}

// dataDirFor resolves the data directory: --data-dir flag, then config.
func dataDirFor(cmd *cobra.Command) (string, error) {
	if cmd != nil {
		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			return dir, nil
		}
	}
	return syncconfig.GetDataDir()
}

func openWorkspace(dir string) (*workspace, error) {
	db, err := revdb.Open(dir)
	if err != nil {
		return nil, err
	}
	cfg := snapstore.Config{Path: filepath.Join(dir, "snapshots")}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		cfg.Logger = slog.Default().With("component", "badger")
	}
	snaps, err := snapstore.Open(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &workspace{dir: dir, db: db, snaps: snaps}, nil
}

func workspaceFor(cmd *cobra.Command) (*workspace, error) {
	dir, err := dataDirFor(cmd)
	if err != nil {
		return nil, err
	}
	return openWorkspace(dir)
}

func (w *workspace) Close() error {
	return errors.Join(w.snaps.Close(), w.db.Close())
}

// sessionOptions selects how an object is opened.
type sessionOptions struct {
	// ServerURL enables cloud fetch and websocket sync when set.
	ServerURL string
	UserID    string
}

// openObject opens objectID for editing, registering it when new.
func (w *workspace) openObject(ctx context.Context, objectID string, opts sessionOptions) (*revsync.Session, error) {
	if objectID == "" {
		return nil, fmt.Errorf("object id is required")
	}
	if err := w.db.RegisterObject(ctx, objectID, objectKind); err != nil {
		return nil, err
	}
	userID := opts.UserID
	if userID == "" {
		id, err := syncconfig.GetUserID()
		if err != nil {
			return nil, fmt.Errorf("resolve user: %w", err)
		}
		userID = id
	}
	cfg := revsync.Config{
		ObjectID:          objectID,
		UserID:            userID,
		Store:             w.db,
		Snapshots:         w.snaps,
		PingInterval:      syncconfig.GetPingInterval(),
		SnapshotThreshold: int64(syncconfig.GetSnapshotThreshold()),
		MergeLagging:      syncconfig.GetMergeLagging(),
	}
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
		cfg.Cloud = syncclient.New(opts.ServerURL, userID)
	}
	return revsync.Open(ctx, cfg)
}

// requireObject fails with suggestions when objectID is not in the store.
func (w *workspace) requireObject(ctx context.Context, objectID string) error {
	objects, err := w.db.Objects(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, len(objects))
	for i, o := range objects {
		if o.ObjectID == objectID {
			return nil
		}
		ids[i] = o.ObjectID
	}
	return fmt.Errorf("%w: %s%s", errUnknownObject, objectID, suggest.Hint(suggest.Closest(objectID, ids)))
}

var errUnknownObject = errors.New("no such object")

// withObject opens objectID offline, runs fn and closes everything. Unless
// create is set the object must already exist.
func withObject(cmd *cobra.Command, objectID string, create bool, fn func(s *revsync.Session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := workspaceFor(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	if !create {
		if err := ws.requireObject(ctx, objectID); err != nil {
			return err
		}
	}
	s, err := ws.openObject(ctx, objectID, sessionOptions{})
	if err != nil {
		return err
	}
	runErr := fn(s)
	if err := s.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
