// Package api is the development sync authority. It accepts websocket
// connections per object, appends revisions that extend the object's log,
// acks them, and fans them out to the other connections.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcus/revsync/internal/revision"
	"github.com/marcus/revsync/internal/webhook"
)

// Server is the HTTP and websocket server of the authority.
type Server struct {
	config      Config
	http        *http.Server
	hub         *Hub
	registry    *prometheus.Registry
	metrics     *Metrics
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	webhooks    *webhook.Notifier
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store Store) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("new server: store is required")
	}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := &Server{
		config:      cfg,
		hub:         NewHub(store, metrics),
		registry:    reg,
		metrics:     metrics,
		rateLimiter: NewRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	if cfg.WebhookURL != "" {
		s.webhooks = webhook.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookQueue, func(error) {
			metrics.RecordWebhookFailure()
		})
		s.hub.notify = s.webhooks.Notify
	}

	s.http = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Hub returns the connection hub.
func (s *Server) Hub() *Hub { return s.hub }

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server and closes all websocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.closeAll()
	s.rateLimiter.Close()
	if s.webhooks != nil {
		s.webhooks.Close()
	}
	return err
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Objects
	mux.HandleFunc("GET /v1/objects/{id}/revisions", s.handleObjectRevisions)
	mux.HandleFunc("GET /ws/{id}", s.handleWebSocket)

	return chain(mux,
		recoveryMiddleware,
		requestIDMiddleware,
		loggerMiddleware,
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		connectRateLimitMiddleware(s.rateLimiter, s.config.RateLimitConnect, s.metrics),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// ObjectRevisionsResponse is the body of GET /v1/objects/{id}/revisions.
type ObjectRevisionsResponse struct {
	ObjectID  string              `json:"object_id"`
	RevID     int64               `json:"rev_id"`
	Revisions []revision.Revision `json:"revisions"`
}

func (s *Server) handleObjectRevisions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "missing object id")
		return
	}
	revs, err := s.hub.Revisions(r.Context(), id)
	if err != nil {
		logFor(r.Context()).Error("object revisions", "object", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read revisions")
		return
	}
	if revs == nil {
		revs = []revision.Revision{}
	}
	var head int64
	if n := len(revs); n > 0 {
		head = revs[n-1].RevID
	}
	writeJSON(w, http.StatusOK, ObjectRevisionsResponse{ObjectID: id, RevID: head, Revisions: revs})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "missing object id")
		return
	}
	userID := r.URL.Query().Get("user")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		logFor(r.Context()).Warn("websocket upgrade", "object", id, "err", err)
		return
	}
	c := newConn(ws, s.hub, id, userID, s.config, s.metrics)
	logFor(r.Context()).Info("client connected", "object", id, "user", userID, "conn", c.id)
	c.serve(context.WithoutCancel(r.Context()))
	logFor(r.Context()).Info("client disconnected", "object", id, "conn", c.id)
}
