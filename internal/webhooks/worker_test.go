package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"routerisk/internal/model"
	"routerisk/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	payload := []byte(`{"jobId":"j1"}`)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "u1", "", EventJobCompleted, srv.URL, "secret", payload)
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce()

	if gotType != EventJobCompleted {
		t.Fatalf("event type header: %q", gotType)
	}
	if gotSig != SignHMAC("secret", gotBody) {
		t.Fatalf("signature mismatch: %q", gotSig)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_FailAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 1}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), "u1", "", EventJobFailed, srv.URL, "", []byte(`{}`))
	w.processOnce()
	if len(rs.fails) == 0 {
		t.Fatalf("expected fail recorded")
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second {
		t.Fatalf("first backoff: %s", nextBackoff(0))
	}
	if nextBackoff(3) != 8*time.Second {
		t.Fatalf("fourth backoff: %s", nextBackoff(3))
	}
	if nextBackoff(11) != 2048*time.Second {
		t.Fatalf("backoff below cap: %s", nextBackoff(11))
	}
	if nextBackoff(12) != time.Hour {
		t.Fatalf("backoff crossing cap: %s", nextBackoff(12))
	}
	if nextBackoff(20) != time.Hour {
		t.Fatalf("capped backoff: %s", nextBackoff(20))
	}
}

func TestPublisherFinishedEnqueues(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	sub, err := st.CreateSubscription(ctx, store.Subscription{
		OwnerID: "u1", URL: "https://example.com/hook",
		Events: []string{EventJobCompleted}, Secret: "s",
	})
	if err != nil {
		t.Fatal(err)
	}
	// Subscribed to completed only; cancelled events must not enqueue.
	p := NewPublisher(st)
	p.Finished(model.Summary{JobID: "j1", ResultID: "r1", OwnerID: "u1", Status: model.StatusCancelled})
	if due, _ := st.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("unexpected deliveries: %+v", due)
	}

	p.Finished(model.Summary{JobID: "j1", ResultID: "r1", OwnerID: "u1", Status: model.StatusCompleted, TotalItems: 3})
	due, err := st.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("deliveries: %v %+v", err, due)
	}
	if due[0].EventType != EventJobCompleted || due[0].URL != sub.URL {
		t.Fatalf("delivery: %+v", due[0])
	}
}
