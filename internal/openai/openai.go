package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	modelpkg "github.com/stupiduntilnot/relaybot/internal/model"
)

const providerName = "openai"

// Client is a minimal OpenAI-compatible chat completions client.
type Client struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewClient creates an OpenAI client.
func NewClient(apiKey, url, model string, timeout time.Duration) *Client {
	return &Client{
		apiKey: apiKey,
		url:    url,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (c *Client) Name() string { return providerName }

// Generate sends the prompt as a single user message. The composed prompt
// already carries the persona, so no system message is added.
func (c *Client) Generate(ctx context.Context, prompt string) (modelpkg.CompletionResponse, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		code := modelpkg.ErrCodeNetworkError
		if errors.Is(err, context.DeadlineExceeded) {
			code = modelpkg.ErrCodeTimeout
		}
		return modelpkg.CompletionResponse{}, &modelpkg.ProviderError{
			Code: code, Message: "openai request failed: " + err.Error(), Provider: providerName, Err: err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return modelpkg.CompletionResponse{}, &modelpkg.ProviderError{
			Code: modelpkg.ErrCodeNetworkError, Message: "failed reading openai response", Provider: providerName, Err: err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return modelpkg.CompletionResponse{}, &modelpkg.ProviderError{
			Code:     modelpkg.CodeForStatus(resp.StatusCode),
			Message:  fmt.Sprintf("openai non-success status=%d body=%s", resp.StatusCode, truncate(string(body), 400)),
			Provider: providerName,
			Status:   resp.StatusCode,
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return modelpkg.CompletionResponse{}, &modelpkg.ProviderError{
			Code:     modelpkg.ErrCodeMalformedResponse,
			Message:  "failed to parse openai response: " + truncate(string(body), 400),
			Provider: providerName,
			Err:      err,
		}
	}

	result := modelpkg.CompletionResponse{}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	if len(parsed.Choices) == 0 {
		return result, modelpkg.NewProviderError(providerName, modelpkg.ErrCodeMalformedResponse, "openai response has no choices")
	}
	result.Content = parsed.Choices[0].Message.Content
	return result, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
