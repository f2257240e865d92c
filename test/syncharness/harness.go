// Package syncharness drives several revsync clients against one in-process
// authority so tests can check that they converge.
package syncharness

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/revsync/internal/api"
	"github.com/marcus/revsync/internal/revdb"
	"github.com/marcus/revsync/internal/revision"
	revsync "github.com/marcus/revsync/internal/sync"
	"github.com/marcus/revsync/internal/syncclient"
	"github.com/marcus/revsync/internal/wsync"
)

// SimulatedClient is one device with its own on-disk revision store.
type SimulatedClient struct {
	UserID  string
	DataDir string
	DB      *revdb.DB
	Session *revsync.Session
	Online  bool
}

// Harness orchestrates multi-client sync testing.
type Harness struct {
	t          *testing.T
	ObjectID   string
	Authority  *httptest.Server
	Store      *revdb.DB
	server     *api.Server
	Clients    map[string]*SimulatedClient
	clientKeys []string
	Timeout    time.Duration
}

// NewHarness starts an authority backed by in-memory SQLite and opens
// numClients online sessions on objectID, named client-A, client-B, ...
func NewHarness(t *testing.T, numClients int, objectID string) *Harness {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open authority db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	store, err := revdb.New(conn)
	if err != nil {
		t.Fatalf("init authority db: %v", err)
	}
	cfg := api.LoadConfig()
	cfg.RateLimitConnect = 10000
	cfg.RateLimitMessages = 1000000
	srv, err := api.NewServer(cfg, store)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())

	h := &Harness{
		t:         t,
		ObjectID:  objectID,
		Authority: ts,
		Store:     store,
		server:    srv,
		Clients:   make(map[string]*SimulatedClient),
		Timeout:   10 * time.Second,
	}
	t.Cleanup(h.close)

	for i := 0; i < numClients; i++ {
		name := fmt.Sprintf("client-%c", 'A'+i)
		dir := t.TempDir()
		db, err := revdb.Open(dir)
		if err != nil {
			t.Fatalf("open %s store: %v", name, err)
		}
		c := &SimulatedClient{UserID: name, DataDir: dir, DB: db}
		h.Clients[name] = c
		h.clientKeys = append(h.clientKeys, name)
		if err := h.open(c, true); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}
	return h
}

func (h *Harness) close() {
	ctx := context.Background()
	for _, name := range h.clientKeys {
		c := h.Clients[name]
		if c.Session != nil {
			c.Session.Close(ctx)
		}
		c.DB.Close()
	}
	h.server.Shutdown(ctx)
	h.Authority.CloseClientConnections()
	h.Authority.Close()
	h.Store.Close()
}

// Names returns the client names in creation order.
func (h *Harness) Names() []string {
	return append([]string(nil), h.clientKeys...)
}

func (h *Harness) open(c *SimulatedClient, online bool) error {
	ctx := context.Background()
	cfg := revsync.Config{
		ObjectID:     h.ObjectID,
		UserID:       c.UserID,
		Store:        c.DB,
		Snapshots:    c.DB,
		PingInterval: 10 * time.Millisecond,
		MergeLagging: true,
	}
	if online {
		cfg.ServerURL = h.Authority.URL
		cfg.Cloud = syncclient.New(h.Authority.URL, c.UserID)
	}
	s, err := revsync.Open(ctx, cfg)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		s.Close(ctx)
		return err
	}
	c.Session = s
	c.Online = online
	return nil
}

func (h *Harness) client(name string) *SimulatedClient {
	c, ok := h.Clients[name]
	if !ok {
		h.t.Fatalf("unknown client %q", name)
	}
	return c
}

// Restart closes the client's session and reopens it on the same store.
func (h *Harness) Restart(name string, online bool) error {
	c := h.client(name)
	if err := c.Session.Close(context.Background()); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	c.Session = nil
	return h.open(c, online)
}

// GoOffline reopens the client without a server. Edits made while offline
// stay pending until GoOnline.
func (h *Harness) GoOffline(name string) error { return h.Restart(name, false) }

// GoOnline reopens the client against the authority.
func (h *Harness) GoOnline(name string) error { return h.Restart(name, true) }

// Insert inserts s at index on the named client.
func (h *Harness) Insert(name string, index int, s string) error {
	_, err := h.client(name).Session.Editor().Insert(context.Background(), index, s)
	return err
}

// Delete removes count units at index on the named client.
func (h *Harness) Delete(name string, index, count int) error {
	_, err := h.client(name).Session.Editor().Delete(context.Background(), index, count)
	return err
}

// Text returns the client's current text.
func (h *Harness) Text(name string) string {
	return h.client(name).Session.Editor().Text()
}

// RevID returns the client's newest revision id.
func (h *Harness) RevID(name string) int64 {
	return h.client(name).Session.Revisions().RevID()
}

// AuthorityHead returns the newest revision id stored by the authority.
func (h *Harness) AuthorityHead() int64 {
	records, err := h.Store.LoadRecords(context.Background(), h.ObjectID)
	if err != nil {
		h.t.Fatalf("authority records: %v", err)
	}
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].Revision.RevID
}

// WaitConnected blocks until every online client reports Connected.
func (h *Harness) WaitConnected() {
	h.t.Helper()
	h.waitFor("clients connected", func() bool {
		for _, name := range h.clientKeys {
			c := h.Clients[name]
			if c.Online && c.Session.WS().ConnectState() != wsync.ConnectStateConnected {
				return false
			}
		}
		return true
	})
}

// WaitConverged blocks until every online client has no pending revisions
// and sits at the authority's head with the same text.
func (h *Harness) WaitConverged() {
	h.t.Helper()
	h.waitFor("convergence", func() bool { return h.converged() == "" })
}

func (h *Harness) converged() string {
	ctx := context.Background()
	head := h.AuthorityHead()
	var text string
	first := ""
	for _, name := range h.clientKeys {
		c := h.Clients[name]
		if !c.Online {
			continue
		}
		if ok, err := c.Session.Synced(ctx); err != nil || !ok {
			return name + " has pending revisions"
		}
		if id := c.Session.Revisions().RevID(); id != head {
			return fmt.Sprintf("%s at rev %d, authority at %d", name, id, head)
		}
		if first == "" {
			first, text = name, h.Text(name)
			continue
		}
		if got := h.Text(name); got != text {
			return h.Diff(first, name)
		}
	}
	return ""
}

// AssertConverged fails the test unless every online client matches.
func (h *Harness) AssertConverged() {
	h.t.Helper()
	if msg := h.converged(); msg != "" {
		h.t.Fatalf("clients diverged: %s", msg)
	}
}

// Diff describes how two clients' texts differ.
func (h *Harness) Diff(a, b string) string {
	ta, tb := h.Text(a), h.Text(b)
	if ta == tb {
		return ""
	}
	i := 0
	for i < len(ta) && i < len(tb) && ta[i] == tb[i] {
		i++
	}
	return fmt.Sprintf("%s and %s differ at byte %d:\n  %s: %q\n  %s: %q", a, b, i, a, ta, b, tb)
}

// AuthorityLog renders the authority's stored revisions, oldest first.
func (h *Harness) AuthorityLog() string {
	records, err := h.Store.LoadRecords(context.Background(), h.ObjectID)
	if err != nil {
		return err.Error()
	}
	var sb strings.Builder
	for _, r := range records {
		fmt.Fprintf(&sb, "#%d base=%d user=%s %s\n", r.Revision.RevID, r.Revision.BaseRevID, r.Revision.UserID, r.Revision.Bytes)
	}
	return sb.String()
}

// Pending returns the client's unacknowledged revision count.
func (h *Harness) Pending(name string) int {
	n, err := h.client(name).DB.PendingCount(context.Background(), h.ObjectID)
	if err != nil {
		h.t.Fatalf("pending %s: %v", name, err)
	}
	return n
}

// Records returns the client's stored log.
func (h *Harness) Records(name string) []revision.Record {
	records, err := h.client(name).DB.LoadRecords(context.Background(), h.ObjectID)
	if err != nil {
		h.t.Fatalf("records %s: %v", name, err)
	}
	return records
}

func (h *Harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(h.Timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s: %s\nauthority log:\n%s", what, h.converged(), h.AuthorityLog())
}
