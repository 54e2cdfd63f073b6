package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vigilo/vigilo/internal/frames"
)

// PromptContext is passed to providers to improve description
// relevance
type PromptContext struct {
	SourceName      string
	Timestamp       time.Time
	TriggerCategory string
}

// Description is a provider's semantic description of a frame set
type Description struct {
	Text       string   `json:"description"`
	Confidence int      `json:"confidence"` // 0-100
	Categories []string `json:"categories"`
}

// Provider is one external vision AI adapter in the fallback chain
type Provider interface {
	Name() string
	Describe(ctx context.Context, frameSet *frames.FrameSet, promptCtx PromptContext) (*Description, error)
}

// Provider failure modes. Authentication errors skip the provider
// without retrying; the rest are retried before advancing the chain.
var (
	ErrRateLimited  = errors.New("provider rate limited")
	ErrUnauthorized = errors.New("provider authentication failed")
)

// statusError maps an HTTP status to the matching provider error
func statusError(provider string, statusCode int, body string) error {
	switch statusCode {
	case 401, 403:
		return fmt.Errorf("%s: %w", provider, ErrUnauthorized)
	case 429:
		return fmt.Errorf("%s: %w", provider, ErrRateLimited)
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", provider, statusCode, truncate(body, 200))
	}
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// systemPrompt instructs the model to return a strict JSON result
const systemPrompt = `You are a security camera analyst. Describe what is happening in the provided frames, which were captured in chronological order from a single camera.

Respond with ONLY a JSON object, no other text:
{"description": "<one or two factual sentences>", "confidence": <0-100>, "categories": ["<zero or more of: motion, person, vehicle, package, animal, doorbell-ring>"]}

RULES:
- Only describe what is visible - do NOT invent details
- confidence reflects how certain you are of the description
- categories lists every detection category that applies`

// userPrompt renders the per-event context for the model
func userPrompt(promptCtx PromptContext, frameCount int) string {
	return fmt.Sprintf(
		"Camera: %s\nTime: %s\nTrigger: %s\nFrames attached: %d",
		promptCtx.SourceName,
		promptCtx.Timestamp.Format("Monday 15:04:05"),
		promptCtx.TriggerCategory,
		frameCount,
	)
}

// maxFramesPerRequest caps how many stills are attached to one call
const maxFramesPerRequest = 8

// requestFrames returns at most maxFramesPerRequest frames, preferring
// the highest-scored ones while preserving chronological order
func requestFrames(frameSet *frames.FrameSet) []frames.Frame {
	if len(frameSet.Frames) <= maxFramesPerRequest {
		return frameSet.Frames
	}
	return frames.SelectAdaptive(frameSet.Frames, maxFramesPerRequest, 1.0)
}

// parseDescription extracts the JSON result from a model reply,
// tolerating surrounding prose or markdown fences
func parseDescription(raw string) (*Description, error) {
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model reply: %s", truncate(raw, 120))
	}

	var desc Description
	if err := json.Unmarshal([]byte(raw[start:end+1]), &desc); err != nil {
		return nil, fmt.Errorf("parse model reply: %w", err)
	}

	if desc.Text == "" {
		return nil, errors.New("model reply missing description")
	}
	if desc.Confidence < 0 {
		desc.Confidence = 0
	}
	if desc.Confidence > 100 {
		desc.Confidence = 100
	}
	return &desc, nil
}
