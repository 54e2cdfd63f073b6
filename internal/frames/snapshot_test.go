package frames

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSnapshotClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	client := NewSnapshotClient(time.Second, 3)
	data, err := client.Fetch(context.Background(), "src-1", server.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestSnapshotClient_Fetch_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewSnapshotClient(time.Second, 3)
	if _, err := client.Fetch(context.Background(), "src-1", server.URL); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestSnapshotClient_Fetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewSnapshotClient(20*time.Millisecond, 3)
	_, err := client.Fetch(context.Background(), "src-1", server.URL)
	if !errors.Is(err, ErrSnapshotTimeout) {
		t.Fatalf("Fetch() error = %v, want ErrSnapshotTimeout", err)
	}
}

func TestSnapshotClient_Fetch_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewSnapshotClient(time.Second, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Fetch(ctx, "src-1", server.URL); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
