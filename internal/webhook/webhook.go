// Package webhook posts signed notifications about accepted revisions.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marcus/revsync/internal/revision"
)

const (
	// TimestampHeader carries the unix time the body was signed at.
	TimestampHeader = "X-Revsync-Timestamp"
	// SignatureHeader is "sha256=" + hex HMAC of "<timestamp>.<body>".
	SignatureHeader = "X-Revsync-Signature"
)

// Payload is the webhook POST body.
type Payload struct {
	ObjectID  string            `json:"object_id"`
	Timestamp string            `json:"timestamp"`
	Head      int64             `json:"head"`
	Revisions []RevisionPayload `json:"revisions"`
}

// RevisionPayload describes one accepted revision. The payload bytes are not
// included; receivers fetch them from the revisions endpoint.
type RevisionPayload struct {
	RevID     int64  `json:"rev_id"`
	BaseRevID int64  `json:"base_rev_id"`
	UserID    string `json:"user_id,omitempty"`
	MD5       string `json:"md5"`
	Size      int    `json:"size"`
}

// BuildPayload describes revs accepted on objectID.
func BuildPayload(objectID string, revs []revision.Revision) Payload {
	p := Payload{
		ObjectID:  objectID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Revisions: make([]RevisionPayload, len(revs)),
	}
	for i, r := range revs {
		p.Revisions[i] = RevisionPayload{
			RevID:     r.RevID,
			BaseRevID: r.BaseRevID,
			UserID:    r.UserID,
			MD5:       r.MD5,
			Size:      len(r.Bytes),
		}
		p.Head = max(p.Head, r.RevID)
	}
	return p
}

// Sign returns the signature header value for body signed at unixTS.
func Sign(secret, unixTS string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unixTS))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Dispatch performs a synchronous HTTP POST to url.
// Returns nil on success (2xx status).
func Dispatch(ctx context.Context, client *http.Client, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "revsync-webhook/1")

	unixTS := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(TimestampHeader, unixTS)
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, unixTS, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Notifier delivers payloads from a bounded queue on one goroutine so the
// authority never waits on the receiver. Payloads are dropped when the
// queue is full.
type Notifier struct {
	url     string
	secret  string
	client  *http.Client
	queue   chan Payload
	onError func(error)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewNotifier starts a notifier posting to url. onError, if set, is called
// for every failed or dropped delivery.
func NewNotifier(url, secret string, queueSize int, onError func(error)) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		queue:   make(chan Payload, max(queueSize, 1)),
		onError: onError,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go n.run(ctx)
	return n
}

// Notify queues a notification for revs accepted on objectID.
func (n *Notifier) Notify(objectID string, revs []revision.Revision) {
	if len(revs) == 0 {
		return
	}
	select {
	case n.queue <- BuildPayload(objectID, revs):
	default:
		n.fail(fmt.Errorf("webhook queue full, dropped %s@%d", objectID, revs[len(revs)-1].RevID))
	}
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-n.queue:
			if err := Dispatch(ctx, n.client, n.url, n.secret, p); err != nil {
				n.fail(err)
			}
		}
	}
}

func (n *Notifier) fail(err error) {
	slog.Warn("webhook", "err", err)
	if n.onError != nil {
		n.onError(err)
	}
}

// Close stops delivery. Queued payloads are discarded.
func (n *Notifier) Close() {
	n.once.Do(func() {
		n.cancel()
		<-n.done
	})
}
