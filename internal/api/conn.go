package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/marcus/revsync/internal/wsync"
)

const sendBuffer = 64

// Conn is one client websocket bound to one object.
type Conn struct {
	id       string
	objectID string
	userID   string
	ws       *websocket.Conn
	hub      *Hub
	cfg      Config
	limiter  *rate.Limiter
	metrics  *Metrics

	send      chan wsync.ServerRevisionWSData
	done      chan struct{}
	closeOnce sync.Once
}

// messageLimiter allows RateLimitMessages per minute with a burst of one
// minute's worth.
func messageLimiter(perMinute int) *rate.Limiter {
	perMinute = max(perMinute, 1)
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
}

func newConn(ws *websocket.Conn, hub *Hub, objectID, userID string, cfg Config, metrics *Metrics) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		objectID: objectID,
		userID:   userID,
		ws:       ws,
		hub:      hub,
		cfg:      cfg,
		limiter:  messageLimiter(cfg.RateLimitMessages),
		metrics:  metrics,
		send:     make(chan wsync.ServerRevisionWSData, sendBuffer),
		done:     make(chan struct{}),
	}
}

// enqueue queues msg for the write loop. When the queue is full the message
// is dropped; the client's next ping recovers whatever it missed.
func (c *Conn) enqueue(msg wsync.ServerRevisionWSData) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		slog.Warn("send queue full, message dropped", "conn", c.id, "object", c.objectID, "type", msg.Type)
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// serve runs the read and write loops until the connection ends.
func (c *Conn) serve(ctx context.Context) {
	c.metrics.ConnectionOpened()
	defer c.metrics.ConnectionClosed()

	if err := c.hub.join(ctx, c); err != nil {
		slog.Error("join object", "conn", c.id, "object", c.objectID, "err", err)
		c.close()
		return
	}
	defer c.hub.leave(c)

	go c.writeLoop()
	c.readLoop(ctx)
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.close()
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("read message", "conn", c.id, "object", c.objectID, "err", err)
			}
			return
		}
		c.metrics.RecordMessage()
		if !c.limiter.Allow() {
			c.metrics.RecordRateLimited()
			slog.Warn("message rate limited", "conn", c.id, "object", c.objectID)
			continue
		}
		msg, err := wsync.DecodeClientData(data)
		if err != nil {
			c.metrics.RecordMalformed()
			slog.Warn("malformed message dropped", "conn", c.id, "object", c.objectID, "err", err)
			continue
		}
		if msg.ObjectID != c.objectID {
			c.metrics.RecordMalformed()
			slog.Warn("message for another object dropped", "conn", c.id, "object", c.objectID, "got", msg.ObjectID)
			continue
		}
		if err := c.hub.handle(ctx, c, msg); err != nil {
			level := slog.LevelError
			if errors.Is(err, wsync.ErrMalformed) {
				level = slog.LevelWarn
			}
			slog.Log(ctx, level, "handle message", "conn", c.id, "object", c.objectID, "type", msg.Type, "err", err)
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				slog.Warn("write message", "conn", c.id, "object", c.objectID, "err", err)
				c.close()
				return
			}
		}
	}
}
