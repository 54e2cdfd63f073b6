package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vigilo/vigilo/internal/frames"
)

// AnthropicProvider describes frames through the Anthropic messages API
type AnthropicProvider struct {
	name       string
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewAnthropicProvider creates an Anthropic provider adapter
func NewAnthropicProvider(name, baseURL, model, apiKey string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicProvider{
		name:       name,
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Name returns the configured provider name
func (p *AnthropicProvider) Name() string {
	return p.name
}

type anthropicContentBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Describe sends the frames to the messages endpoint and parses the
// JSON reply
func (p *AnthropicProvider) Describe(ctx context.Context, frameSet *frames.FrameSet, promptCtx PromptContext) (*Description, error) {
	selected := requestFrames(frameSet)

	blocks := make([]anthropicContentBlock, 0, len(selected)+1)
	for _, frame := range selected {
		blocks = append(blocks, anthropicContentBlock{
			Type: "image",
			Source: &anthropicImageSource{
				Type:      "base64",
				MediaType: "image/jpeg",
				Data:      base64.StdEncoding.EncodeToString(frame.Data),
			},
		})
	}
	blocks = append(blocks, anthropicContentBlock{
		Type: "text",
		Text: userPrompt(promptCtx, len(selected)),
	})

	reqBody := anthropicRequest{
		Model:     p.model,
		MaxTokens: 300,
		System:    systemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: blocks},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(p.name, resp.StatusCode, string(body))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%s: parse response: %w", p.name, err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%s: API error: %s", p.name, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("%s: empty response content", p.name)
	}

	return parseDescription(apiResp.Content[0].Text)
}
