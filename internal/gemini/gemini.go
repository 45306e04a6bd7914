// Package gemini adapts the Google Gen AI SDK to the model.Provider contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	modelpkg "github.com/stupiduntilnot/relaybot/internal/model"
)

const providerName = "gemini"

// DefaultModel is the model the relay talks to unless configured otherwise.
const DefaultModel = "gemini-2.5-flash-lite"

// Config configures a Gemini client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // optional override, used by tests
	Timeout time.Duration
}

// Client sends single-prompt generation requests to Gemini.
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a Gemini client for the Gemini API backend.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: gc, model: model}, nil
}

func (c *Client) Name() string { return providerName }

// Model returns the model identifier requests are sent to.
func (c *Client) Model() string { return c.model }

// Generate sends prompt as one user content and returns the concatenated text
// parts of the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string) (modelpkg.CompletionResponse, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return modelpkg.CompletionResponse{}, classify(err)
	}
	return extract(resp)
}

func extract(resp *genai.GenerateContentResponse) (modelpkg.CompletionResponse, error) {
	if resp == nil {
		return modelpkg.CompletionResponse{}, modelpkg.NewProviderError(providerName, modelpkg.ErrCodeMalformedResponse, "empty response")
	}
	result := modelpkg.CompletionResponse{}
	if u := resp.UsageMetadata; u != nil {
		result.InputTokens = int(u.PromptTokenCount)
		result.OutputTokens = int(u.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 {
		msg := "response has no candidates"
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			msg = fmt.Sprintf("prompt blocked: %s", fb.BlockReason)
		}
		return result, modelpkg.NewProviderError(providerName, modelpkg.ErrCodeMalformedResponse, msg)
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return result, modelpkg.NewProviderError(providerName, modelpkg.ErrCodeMalformedResponse,
			fmt.Sprintf("candidate has no content (finish_reason=%s)", cand.FinishReason))
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	result.Content = b.String()
	return result, nil
}

func classify(err error) *modelpkg.ProviderError {
	pe := &modelpkg.ProviderError{Code: modelpkg.ErrCodeUnknown, Message: err.Error(), Provider: providerName, Err: err}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		applyAPIError(pe, apiErr)
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		applyAPIError(pe, *apiErrPtr)
	case errors.Is(err, context.DeadlineExceeded):
		pe.Code = modelpkg.ErrCodeTimeout
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			pe.Code = modelpkg.ErrCodeNetworkError
			if netErr.Timeout() {
				pe.Code = modelpkg.ErrCodeTimeout
			}
		}
	}
	return pe
}

func applyAPIError(pe *modelpkg.ProviderError, apiErr genai.APIError) {
	pe.Status = apiErr.Code
	pe.Code = modelpkg.CodeForStatus(apiErr.Code)
	if apiErr.Message != "" {
		pe.Message = apiErr.Message
	}
	if apiErr.Status == "RESOURCE_EXHAUSTED" && strings.Contains(strings.ToLower(apiErr.Message), "quota") {
		pe.Code = modelpkg.ErrCodeQuotaExceeded
	}
	if apiErr.Status == "UNAUTHENTICATED" || apiErr.Status == "PERMISSION_DENIED" {
		pe.Code = modelpkg.ErrCodeAuthFailed
	}
}
