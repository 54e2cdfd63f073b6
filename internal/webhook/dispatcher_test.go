package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vigilo/vigilo/internal/database"
)

type memRecorder struct {
	mu       sync.Mutex
	attempts []database.WebhookDeliveryAttempt
}

func (r *memRecorder) RecordDeliveryAttempt(attempt *database.WebhookDeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *memRecorder) all() []database.WebhookDeliveryAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]database.WebhookDeliveryAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

func testDispatcher(recorder AttemptRecorder) *Dispatcher {
	d := NewDispatcher(recorder, false)
	d.initialDelay = 10 * time.Millisecond
	return d
}

func testPayload() Payload {
	return Payload{
		EventID:     "evt-1",
		Timestamp:   time.Now(),
		Source:      "Front Door",
		Description: "A person at the door.",
		Confidence:  85,
		Categories:  []string{"person"},
		RuleName:    "any-person",
	}
}

func TestDispatcher_Deliver_SucceedsFirstAttempt(t *testing.T) {
	var received int
	var contentType, token string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received++
		contentType = r.Header.Get("Content-Type")
		token = r.Header.Get("X-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := &memRecorder{}
	d := testDispatcher(recorder)

	target := Target{URL: server.URL, Headers: map[string]string{"X-Token": "secret"}}
	if err := d.Deliver(context.Background(), target, testPayload()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if received != 1 {
		t.Errorf("server received %d requests, want 1", received)
	}
	if contentType != "application/json" {
		t.Errorf("content type = %q", contentType)
	}
	if token != "secret" {
		t.Error("custom header not sent")
	}

	attempts := recorder.all()
	if len(attempts) != 1 {
		t.Fatalf("recorded %d attempts, want 1", len(attempts))
	}
	if !attempts[0].Succeeded || attempts[0].StatusCode != 200 {
		t.Errorf("attempt record = %+v", attempts[0])
	}
}

func TestDispatcher_Deliver_RetriesThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := &memRecorder{}
	d := testDispatcher(recorder)

	if err := d.Deliver(context.Background(), Target{URL: server.URL}, testPayload()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	attempts := recorder.all()
	if len(attempts) != 3 {
		t.Fatalf("recorded %d attempts, want 3", len(attempts))
	}
	for i, a := range attempts {
		if a.Attempt != i+1 {
			t.Errorf("attempt %d numbered %d", i, a.Attempt)
		}
	}
	if attempts[0].Succeeded || attempts[1].Succeeded || !attempts[2].Succeeded {
		t.Errorf("success flags wrong: %+v", attempts)
	}
}

func TestDispatcher_Deliver_StopsAtAttemptCap(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	recorder := &memRecorder{}
	d := testDispatcher(recorder)

	err := d.Deliver(context.Background(), Target{URL: server.URL}, testPayload())
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Deliver() error = %v, want ErrDeliveryFailed", err)
	}

	if calls != 3 {
		t.Errorf("server received %d requests, want 3", calls)
	}
	attempts := recorder.all()
	if len(attempts) != 3 {
		t.Fatalf("recorded %d attempts, want 3", len(attempts))
	}
	last := attempts[2]
	if last.Succeeded || last.StatusCode != http.StatusBadGateway {
		t.Errorf("final attempt record = %+v", last)
	}
}

func TestDispatcher_Deliver_DelaysDouble(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	recorder := &memRecorder{}
	d := NewDispatcher(recorder, false)
	d.initialDelay = 50 * time.Millisecond

	start := time.Now()
	d.Deliver(context.Background(), Target{URL: server.URL}, testPayload())
	elapsed := time.Since(start)

	// 50ms + 100ms between the three attempts
	if elapsed < 150*time.Millisecond {
		t.Errorf("elapsed %v, want at least 150ms of backoff", elapsed)
	}
}

func TestDispatcher_Deliver_ContextCancelStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	recorder := &memRecorder{}
	d := NewDispatcher(recorder, false)
	d.initialDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := d.Deliver(ctx, Target{URL: server.URL}, testPayload())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Deliver() error = %v, want context.Canceled", err)
	}
	if len(recorder.all()) != 1 {
		t.Errorf("recorded %d attempts, want 1 before cancellation", len(recorder.all()))
	}
}

func TestDispatcher_CheckTarget_Production(t *testing.T) {
	d := NewDispatcher(&memRecorder{}, true)

	tests := []struct {
		name string
		url  string
	}{
		{name: "plain HTTP", url: "http://example.com/hook"},
		{name: "loopback", url: "https://127.0.0.1/hook"},
		{name: "private network", url: "https://10.0.0.5/hook"},
		{name: "localhost", url: "https://localhost/hook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Deliver(context.Background(), Target{URL: tt.url}, testPayload())
			if !errors.Is(err, ErrTargetRejected) {
				t.Errorf("Deliver(%s) error = %v, want ErrTargetRejected", tt.url, err)
			}
		})
	}

	// No attempts recorded for rejected targets
	if len(d.recorder.(*memRecorder).all()) != 0 {
		t.Error("rejected targets must not produce delivery attempts")
	}
}

func TestDispatcher_CheckTarget_DevelopmentAllowsLocal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := testDispatcher(&memRecorder{})
	if err := d.Deliver(context.Background(), Target{URL: server.URL}, testPayload()); err != nil {
		t.Fatalf("development mode rejected local target: %v", err)
	}
}
