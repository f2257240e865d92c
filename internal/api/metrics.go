package api

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects in-memory authority metrics using atomic counters.
type Metrics struct {
	startTime         time.Time
	requests          atomic.Int64
	serverErrors      atomic.Int64
	clientErrors      atomic.Int64
	connections       atomic.Int64
	messages          atomic.Int64
	malformed         atomic.Int64
	revisionsAccepted atomic.Int64
	pullsRequested    atomic.Int64
	rateLimited       atomic.Int64
	webhookFailures   atomic.Int64
}

// MetricsSnapshot is a point-in-time view of authority metrics.
type MetricsSnapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Requests          int64   `json:"requests"`
	ServerErrors      int64   `json:"server_errors"`
	ClientErrors      int64   `json:"client_errors"`
	Connections       int64   `json:"connections"`
	Messages          int64   `json:"messages"`
	Malformed         int64   `json:"malformed"`
	RevisionsAccepted int64   `json:"revisions_accepted"`
	PullsRequested    int64   `json:"pulls_requested"`
	RateLimited       int64   `json:"rate_limited"`
	WebhookFailures   int64   `json:"webhook_failures"`
}

// NewMetrics creates a Metrics instance. When reg is non-nil the counters are
// also exported to it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{startTime: time.Now()}
	if reg == nil {
		return m
	}
	f := promauto.With(reg)
	counter := func(name, help string, v *atomic.Int64) {
		f.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(v.Load())
		})
	}
	counter("revsync_authority_requests_total", "HTTP requests served", &m.requests)
	counter("revsync_authority_server_errors_total", "HTTP 5xx responses", &m.serverErrors)
	counter("revsync_authority_client_errors_total", "HTTP 4xx responses", &m.clientErrors)
	counter("revsync_authority_messages_total", "Websocket messages received", &m.messages)
	counter("revsync_authority_malformed_total", "Websocket messages dropped as malformed", &m.malformed)
	counter("revsync_authority_revisions_accepted_total", "Revisions appended to object logs", &m.revisionsAccepted)
	counter("revsync_authority_pulls_requested_total", "Pull requests sent to clients", &m.pullsRequested)
	counter("revsync_authority_rate_limited_total", "Requests and messages rejected by rate limits", &m.rateLimited)
	counter("revsync_authority_webhook_failures_total", "Webhook deliveries that failed or were dropped", &m.webhookFailures)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "revsync_authority_connections",
		Help: "Open websocket connections",
	}, func() float64 { return float64(m.connections.Load()) })
	return m
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// ConnectionOpened and ConnectionClosed track open websocket connections.
func (m *Metrics) ConnectionOpened() { m.connections.Add(1) }
func (m *Metrics) ConnectionClosed() { m.connections.Add(-1) }

// RecordMessage increments the inbound websocket message counter.
func (m *Metrics) RecordMessage() {
	m.messages.Add(1)
}

// RecordMalformed increments the dropped message counter.
func (m *Metrics) RecordMalformed() {
	m.malformed.Add(1)
}

// RecordRevisions adds n to the accepted revisions counter.
func (m *Metrics) RecordRevisions(n int64) {
	m.revisionsAccepted.Add(n)
}

// RecordPull increments the pull request counter.
func (m *Metrics) RecordPull() {
	m.pullsRequested.Add(1)
}

// RecordRateLimited increments the rate limited counter.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Add(1)
}

// RecordWebhookFailure increments the failed webhook delivery counter.
func (m *Metrics) RecordWebhookFailure() {
	m.webhookFailures.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
		Requests:          m.requests.Load(),
		ServerErrors:      m.serverErrors.Load(),
		ClientErrors:      m.clientErrors.Load(),
		Connections:       m.connections.Load(),
		Messages:          m.messages.Load(),
		Malformed:         m.malformed.Load(),
		RevisionsAccepted: m.revisionsAccepted.Load(),
		PullsRequested:    m.pullsRequested.Load(),
		RateLimited:       m.rateLimited.Load(),
		WebhookFailures:   m.webhookFailures.Load(),
	}
}
