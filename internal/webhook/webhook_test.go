package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/revsync/internal/revision"
)

func TestBuildPayload(t *testing.T) {
	revs := []revision.Revision{
		{ObjectID: "doc", BaseRevID: 3, RevID: 4, Bytes: []byte(`[{"insert":"a"}]`), MD5: "m4", UserID: "alice"},
		{ObjectID: "doc", BaseRevID: 4, RevID: 5, Bytes: []byte(`[{"delete":1}]`), MD5: "m5"},
	}

	p := BuildPayload("doc", revs)

	if p.ObjectID != "doc" {
		t.Errorf("ObjectID = %q, want doc", p.ObjectID)
	}
	if p.Head != 5 {
		t.Errorf("Head = %d, want 5", p.Head)
	}
	if len(p.Revisions) != 2 {
		t.Fatalf("len(Revisions) = %d, want 2", len(p.Revisions))
	}
	if p.Revisions[0].UserID != "alice" || p.Revisions[0].Size != 16 {
		t.Errorf("Revisions[0] = %+v", p.Revisions[0])
	}
	if p.Revisions[1].BaseRevID != 4 || p.Revisions[1].MD5 != "m5" {
		t.Errorf("Revisions[1] = %+v", p.Revisions[1])
	}
}

func TestBuildPayload_Empty(t *testing.T) {
	p := BuildPayload("empty", nil)
	if p.ObjectID != "empty" {
		t.Errorf("ObjectID = %q", p.ObjectID)
	}
	if len(p.Revisions) != 0 || p.Head != 0 {
		t.Errorf("got %d revisions head %d, want none", len(p.Revisions), p.Head)
	}
}

func TestDispatch_Success(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	payload := Payload{
		ObjectID:  "doc",
		Timestamp: "2026-02-18T10:00:00Z",
		Revisions: []RevisionPayload{{RevID: 1}},
	}

	if err := Dispatch(context.Background(), srv.Client(), srv.URL, "", payload); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotHeaders.Get("Content-Type"))
	}
	if gotHeaders.Get(TimestampHeader) == "" {
		t.Error("timestamp header missing")
	}
	if gotHeaders.Get(SignatureHeader) != "" {
		t.Error("signature should be absent without secret")
	}

	var p Payload
	if err := json.Unmarshal(gotBody, &p); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if len(p.Revisions) != 1 {
		t.Errorf("body revisions = %d, want 1", len(p.Revisions))
	}
}

func TestDispatch_WithSecret(t *testing.T) {
	secret := "test-hmac-key"
	var gotBody []byte
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	if err := Dispatch(context.Background(), srv.Client(), srv.URL, secret, Payload{ObjectID: "doc"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	sig := gotHeaders.Get(SignatureHeader)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature prefix wrong: %q", sig)
	}

	// Verify HMAC
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gotHeaders.Get(TimestampHeader)))
	mac.Write([]byte("."))
	mac.Write(gotBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if sig != expected {
		t.Errorf("signature mismatch:\n  got:  %s\n  want: %s", sig, expected)
	}
}

func TestDispatch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	err := Dispatch(context.Background(), srv.Client(), srv.URL, "", Payload{})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("error = %q, want to contain 'status 500'", err.Error())
	}
}

func TestNotifier_Delivers(t *testing.T) {
	got := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		json.NewDecoder(r.Body).Decode(&p)
		got <- p
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "", 4, nil)
	defer n.Close()
	n.Notify("doc", nil)
	n.Notify("doc", []revision.Revision{{RevID: 7, BaseRevID: 6}})

	select {
	case p := <-got:
		if p.ObjectID != "doc" || p.Head != 7 {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestNotifier_ReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var failures atomic.Int64
	failed := make(chan error, 1)
	n := NewNotifier(srv.URL, "", 1, func(err error) {
		failures.Add(1)
		select {
		case failed <- err:
		default:
		}
	})
	defer n.Close()
	n.Notify("doc", []revision.Revision{{RevID: 1}})

	select {
	case err := <-failed:
		if err == nil || !strings.Contains(err.Error(), "status 502") {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("failure not reported")
	}
	if failures.Load() == 0 {
		t.Error("expected at least one failure")
	}
}

func TestNotifier_CloseIsIdempotent(t *testing.T) {
	n := NewNotifier("http://127.0.0.1:0", "", 1, nil)
	n.Close()
	n.Close()
	// Notify after Close only queues and must not block.
	n.Notify("doc", []revision.Revision{{RevID: 1}})
}
