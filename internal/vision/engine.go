package vision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/vigilo/vigilo/internal/config"
	"github.com/vigilo/vigilo/internal/frames"
)

// Result is the engine's outcome for one frame set. When every
// provider fails the result is flagged unavailable instead of the
// pipeline erroring out.
type Result struct {
	Description  string
	Confidence   int
	Categories   []string
	ProviderUsed string
	Unavailable  bool
	ErrorReason  string
}

// Engine runs an ordered provider fallback chain with per-call
// timeouts and bounded retries
type Engine struct {
	providers   []Provider
	callTimeout time.Duration
	retries     int
	retryDelay  time.Duration
}

// NewEngine creates an engine over the given ordered providers
func NewEngine(providers []Provider, callTimeout time.Duration, retriesPerProvider int, retryDelay time.Duration) *Engine {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	if retriesPerProvider < 0 {
		retriesPerProvider = 2
	}
	return &Engine{
		providers:   providers,
		callTimeout: callTimeout,
		retries:     retriesPerProvider,
		retryDelay:  retryDelay,
	}
}

// NewEngineFromConfig builds the provider chain from configuration,
// preserving the configured order
func NewEngineFromConfig(cfg config.VisionConfig) *Engine {
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		switch pc.Kind {
		case "anthropic":
			providers = append(providers, NewAnthropicProvider(pc.Name, pc.BaseURL, pc.Model, pc.APIKey))
		default:
			providers = append(providers, NewOpenAIProvider(pc.Name, pc.BaseURL, pc.Model, pc.APIKey))
		}
	}
	return NewEngine(providers, cfg.CallTimeoutDuration(), cfg.RetriesPerCall, cfg.RetryDelay())
}

// Describe tries each provider in order until one succeeds. Timeouts
// and transient errors are retried per provider before advancing; an
// authentication error skips the provider immediately. Exhaustion
// yields an unavailable result, never an error.
func (e *Engine) Describe(ctx context.Context, frameSet *frames.FrameSet, promptCtx PromptContext) *Result {
	if len(e.providers) == 0 {
		return unavailable("no vision providers configured")
	}

	var failures []string
	for _, provider := range e.providers {
		desc, err := e.tryProvider(ctx, provider, frameSet, promptCtx)
		if err == nil {
			return &Result{
				Description:  desc.Text,
				Confidence:   desc.Confidence,
				Categories:   desc.Categories,
				ProviderUsed: provider.Name(),
			}
		}

		log.Printf("Vision provider %s failed: %v", provider.Name(), err)
		failures = append(failures, fmt.Sprintf("%s: %v", provider.Name(), err))

		if ctx.Err() != nil {
			break
		}
	}

	return unavailable(strings.Join(failures, "; "))
}

// tryProvider runs one provider with its timeout and retry budget
func (e *Engine) tryProvider(ctx context.Context, provider Provider, frameSet *frames.FrameSet, promptCtx PromptContext) (*Description, error) {
	var lastErr error

	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 && e.retryDelay > 0 {
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		desc, err := provider.Describe(callCtx, frameSet, promptCtx)
		cancel()

		if err == nil {
			return desc, nil
		}
		lastErr = err

		// Bad credentials won't improve on retry
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

func unavailable(reason string) *Result {
	return &Result{
		Description: "Description unavailable",
		Unavailable: true,
		ErrorReason: reason,
	}
}
