package frames

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrSnapshotTimeout indicates a snapshot fetch exceeded its deadline.
// Callers retry once, then skip the trigger.
var ErrSnapshotTimeout = errors.New("snapshot fetch timed out")

// Fetcher retrieves a single still image from a source
type Fetcher interface {
	Fetch(ctx context.Context, sourceUUID, snapshotURL string) ([]byte, error)
}

// SnapshotClient fetches on-demand snapshots over HTTP. Concurrent
// fetches against one source are limited by a per-source semaphore so a
// single controller is never overwhelmed.
type SnapshotClient struct {
	httpClient  *http.Client
	timeout     time.Duration
	concurrency int

	mu         sync.Mutex
	semaphores map[string]chan struct{}
}

// NewSnapshotClient creates a snapshot client with the given per-fetch
// timeout and per-source concurrency limit
func NewSnapshotClient(timeout time.Duration, concurrency int) *SnapshotClient {
	if concurrency < 1 {
		concurrency = 3
	}
	return &SnapshotClient{
		httpClient:  &http.Client{Timeout: timeout},
		timeout:     timeout,
		concurrency: concurrency,
		semaphores:  make(map[string]chan struct{}),
	}
}

func (c *SnapshotClient) semaphore(sourceUUID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	sem, ok := c.semaphores[sourceUUID]
	if !ok {
		sem = make(chan struct{}, c.concurrency)
		c.semaphores[sourceUUID] = sem
	}
	return sem
}

// Fetch retrieves one snapshot image from the source
func (c *SnapshotClient) Fetch(ctx context.Context, sourceUUID, snapshotURL string) ([]byte, error) {
	sem := c.semaphore(sourceUUID)

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-sem }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snapshotURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create snapshot request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("snapshot from %s: %w", sourceUUID, ErrSnapshotTimeout)
		}
		return nil, fmt.Errorf("snapshot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot from %s: bad status %s", sourceUUID, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("snapshot from %s: %w", sourceUUID, ErrSnapshotTimeout)
		}
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}

	return data, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
