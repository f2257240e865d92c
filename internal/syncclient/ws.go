package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/revsync/internal/wsync"
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("websocket not connected")

const (
	writeTimeout = 10 * time.Second
	minBackoff   = 250 * time.Millisecond
	maxBackoff   = 10 * time.Second
)

// Receiver gets what the connection reads and its state changes.
// wsync.Manager implements it.
type Receiver interface {
	ReceiveWSData(ctx context.Context, msg wsync.ServerRevisionWSData) error
	ConnectStateChanged(state wsync.ConnectState)
}

// WebSocketURL returns the websocket endpoint of objectID on the server at
// baseURL.
func WebSocketURL(baseURL, objectID, userID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	rawBase := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + objectID
	u.RawPath = rawBase + "/ws/" + url.PathEscape(objectID)
	q := url.Values{}
	if userID != "" {
		q.Set("user", userID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WSConn is a reconnecting websocket to one object's endpoint. It
// implements wsync.Sender.
type WSConn struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSConn(wsURL string) *WSConn {
	return &WSConn{
		url:    wsURL,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Send writes msg as one JSON frame.
func (c *WSConn) Send(_ context.Context, msg wsync.ClientRevisionWSData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Connected reports whether a connection is open.
func (c *WSConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run dials, reads until the connection drops, and redials with capped
// backoff until ctx is done.
func (c *WSConn) Run(ctx context.Context, r Receiver) error {
	backoff := minBackoff
	for {
		r.ConnectStateChanged(wsync.ConnectStateConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			r.ConnectStateChanged(wsync.ConnectStateDisconnected)
			slog.Debug("dial failed", "url", c.url, "err", err, "retry", backoff.String())
		} else {
			backoff = minBackoff
			c.setConn(conn)
			r.ConnectStateChanged(wsync.ConnectStateConnected)
			slog.Info("connected", "url", c.url)

			err = c.readLoop(ctx, conn, r)
			c.setConn(nil)
			conn.Close()
			r.ConnectStateChanged(wsync.ConnectStateDisconnected)
			if ctx.Err() == nil {
				slog.Warn("connection lost", "url", c.url, "err", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *WSConn) readLoop(ctx context.Context, conn *websocket.Conn, r Receiver) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := wsync.DecodeServerData(data)
		if err != nil {
			slog.Warn("malformed server message dropped", "url", c.url, "err", err)
			continue
		}
		if err := r.ReceiveWSData(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *WSConn) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Close closes the current connection, if any. Run redials unless its
// context is done.
func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
