// Package openai is the chat-completions implementation of backend.Generator.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/schemaforge/schemaforge/internal/backend"
	"github.com/schemaforge/schemaforge/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 30 * time.Second

	// defaultRetryAfterSeconds is reported when the upstream gives no
	// Retry-After hint of its own.
	defaultRetryAfterSeconds = 5
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds each generation call.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Client calls the chat-completions API and implements backend.Generator.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

var _ backend.Generator = (*Client)(nil)

// NewClient creates a generation client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate runs one bounded completion call. Timeouts surface as LLM_TIMEOUT
// and transport or API failures as LLM_ERROR; the caller counts both against
// the circuit breaker.
func (c *Client) Generate(ctx context.Context, req *backend.GenerationRequest) (*backend.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	wireReq := &ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.SystemPrompt != "" {
		wireReq.Messages = append(wireReq.Messages, ChatCompletionMessage{Role: "system", Content: req.SystemPrompt})
	}
	wireReq.Messages = append(wireReq.Messages, ChatCompletionMessage{Role: "user", Content: req.UserPrompt})

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.ErrLLMTimeout(
				fmt.Sprintf("generation backend timed out after %s", c.timeout),
				defaultRetryAfterSeconds,
			).WithCause(err)
		}
		return nil, domain.ErrLLMError("generation backend unreachable", defaultRetryAfterSeconds).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrLLMError("failed to read backend response", defaultRetryAfterSeconds).WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		retryAfter := retryAfterSeconds(resp)
		if apiErr, perr := ParseErrorResponse(respBody); perr == nil && apiErr != nil {
			return nil, domain.ErrLLMError(
				fmt.Sprintf("generation backend error: %s", apiErr.Message), retryAfter,
			).WithCause(apiErr)
		}
		return nil, domain.ErrLLMError(
			fmt.Sprintf("generation backend returned status %d", resp.StatusCode), retryAfter)
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.ErrLLMError("failed to decode backend response", defaultRetryAfterSeconds).WithCause(err)
	}
	if len(result.Choices) == 0 {
		return nil, domain.ErrLLMError("generation backend returned no choices", defaultRetryAfterSeconds)
	}

	return &backend.GenerationResult{
		Text:             result.Choices[0].Message.Content,
		Model:            result.Model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "schemaforge/1.0")
}

// retryAfterSeconds honors an upstream Retry-After hint when present.
func retryAfterSeconds(resp *http.Response) int {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultRetryAfterSeconds
}
