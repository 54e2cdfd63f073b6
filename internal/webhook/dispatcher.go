package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/vigilo/vigilo/internal/database"
)

// ErrDeliveryFailed indicates the attempt cap was reached without a
// 2xx response
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// ErrTargetRejected indicates the target URL violates the security
// policy (non-HTTPS or private-network address in production mode)
var ErrTargetRejected = errors.New("webhook target rejected by security policy")

// Payload is the JSON body posted to webhook targets
type Payload struct {
	EventID     string    `json:"eventId"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	Confidence  int       `json:"confidence"`
	Categories  []string  `json:"categories"`
	RuleName    string    `json:"ruleName"`
}

// Target identifies a webhook endpoint with optional extra headers
type Target struct {
	URL     string
	Headers map[string]string
}

// AttemptRecorder persists webhook delivery attempts
type AttemptRecorder interface {
	RecordDeliveryAttempt(attempt *database.WebhookDeliveryAttempt) error
}

// Dispatcher delivers outbound HTTP notifications with retry. Every
// attempt is recorded; attempts stop at success or at the cap.
type Dispatcher struct {
	httpClient   *http.Client
	recorder     AttemptRecorder
	maxAttempts  int
	initialDelay time.Duration
	production   bool
}

// NewDispatcher creates a dispatcher. In production mode non-HTTPS and
// private-network targets are rejected outright.
func NewDispatcher(recorder AttemptRecorder, production bool) *Dispatcher {
	return &Dispatcher{
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		recorder:     recorder,
		maxAttempts:  3,
		initialDelay: time.Second,
		production:   production,
	}
}

// Deliver posts the payload to the target, retrying on failure with
// doubling delays (1s, 2s) up to 3 total attempts
func (d *Dispatcher) Deliver(ctx context.Context, target Target, payload Payload) error {
	if err := d.checkTarget(ctx, target.URL); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	delay := d.initialDelay
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		statusCode, attemptErr := d.post(ctx, target, body)

		record := &database.WebhookDeliveryAttempt{
			EventUUID:  payload.EventID,
			RuleName:   payload.RuleName,
			TargetURL:  target.URL,
			Attempt:    attempt,
			StatusCode: statusCode,
			Succeeded:  attemptErr == nil,
		}
		if attemptErr != nil {
			record.Error = attemptErr.Error()
		}
		if err := d.recorder.RecordDeliveryAttempt(record); err != nil {
			log.Printf("Failed to record webhook attempt: %v", err)
		}

		if attemptErr == nil {
			return nil
		}
		lastErr = attemptErr
		log.Printf("Webhook attempt %d/%d to %s failed: %v", attempt, d.maxAttempts, target.URL, attemptErr)
	}

	return fmt.Errorf("%w after %d attempts to %s: %v", ErrDeliveryFailed, d.maxAttempts, target.URL, lastErr)
}

// post performs one delivery attempt and returns the HTTP status (0 on
// network error)
func (d *Dispatcher) post(ctx context.Context, target Target, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("non-2xx response: %s", resp.Status)
	}
	return resp.StatusCode, nil
}

// checkTarget enforces the request-forgery policy: production targets
// must be HTTPS and must not resolve to loopback, private or
// link-local addresses
func (d *Dispatcher) checkTarget(ctx context.Context, rawURL string) error {
	if !d.production {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrTargetRejected, err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not https", ErrTargetRejected, parsed.Scheme)
	}

	host := parsed.Hostname()
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %s: %v", ErrTargetRejected, host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: %s resolves to non-public address %s", ErrTargetRejected, host, ip)
		}
	}
	return nil
}
