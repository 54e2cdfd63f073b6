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

// OpenAIProvider describes frames through an OpenAI-compatible
// chat-completions endpoint with vision support
type OpenAIProvider struct {
	name       string
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIProvider creates an OpenAI-compatible provider adapter.
// baseURL defaults to the OpenAI API when empty.
func NewOpenAIProvider(name, baseURL, model, apiKey string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		name:       name,
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{}, // per-call timeout comes from the context
	}
}

// Name returns the configured provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Describe sends the frames to the chat-completions endpoint and
// parses the JSON reply
func (p *OpenAIProvider) Describe(ctx context.Context, frameSet *frames.FrameSet, promptCtx PromptContext) (*Description, error) {
	selected := requestFrames(frameSet)

	parts := []openAIContentPart{
		{Type: "text", Text: userPrompt(promptCtx, len(selected))},
	}
	for _, frame := range selected {
		parts = append(parts, openAIContentPart{
			Type: "image_url",
			ImageURL: &openAIImageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame.Data),
			},
		})
	}

	reqBody := openAIRequest{
		Model: p.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: parts},
		},
		MaxTokens:   300,
		Temperature: 0.2,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

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

	var apiResp openAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%s: parse response: %w", p.name, err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%s: API error: %s", p.name, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response", p.name)
	}

	return parseDescription(apiResp.Choices[0].Message.Content)
}
