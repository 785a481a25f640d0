// Package anthropic is the messages-API implementation of backend.Generator.
package anthropic

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
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	defaultTimeout = 30 * time.Second

	// defaultRetryAfterSeconds is reported when the upstream gives no
	// Retry-After hint of its own.
	defaultRetryAfterSeconds = 5

	// minMaxTokens is the floor applied when a version config leaves
	// MaxTokens unset; the messages API rejects requests without it.
	minMaxTokens = 1024

	// Overloaded (529) responses are retried in place with exponential
	// backoff before the failure surfaces to the circuit breaker.
	maxOverloadRetries = 2
	baseBackoff        = 500 * time.Millisecond
	maxBackoff         = 5 * time.Second
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

// Client calls the messages API and implements backend.Generator.
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

// Generate runs one bounded messages call. Timeouts surface as LLM_TIMEOUT
// and transport or API failures as LLM_ERROR; the caller counts both against
// the circuit breaker. Overloaded responses are retried here because they
// resolve on a much shorter horizon than the breaker cooldown.
func (c *Client) Generate(ctx context.Context, req *backend.GenerationRequest) (*backend.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	wireReq := &MessagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.SystemPrompt,
		Messages:    []Message{{Role: "user", Content: req.UserPrompt}},
		Temperature: req.Temperature,
	}
	if wireReq.MaxTokens <= 0 {
		wireReq.MaxTokens = minMaxTokens
	}

	var lastErr error
	for attempt := 0; attempt <= maxOverloadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.ErrLLMTimeout(
					fmt.Sprintf("generation backend timed out after %s", c.timeout),
					defaultRetryAfterSeconds,
				).WithCause(ctx.Err())
			case <-time.After(backoffDelay(attempt)):
			}
		}

		result, err := c.createMessage(ctx, wireReq)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isOverloaded(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) createMessage(ctx context.Context, wireReq *MessagesRequest) (*backend.GenerationResult, error) {
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
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

	var result MessagesResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.ErrLLMError("failed to decode backend response", defaultRetryAfterSeconds).WithCause(err)
	}
	text := result.Text()
	if text == "" {
		return nil, domain.ErrLLMError("generation backend returned no text content", defaultRetryAfterSeconds)
	}

	return &backend.GenerationResult{
		Text:             text,
		Model:            result.Model,
		PromptTokens:     result.Usage.InputTokens,
		CompletionTokens: result.Usage.OutputTokens,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("User-Agent", "schemaforge/1.0")
}

// isOverloaded reports whether the error chain carries the API's overloaded
// signal.
func isOverloaded(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == "overloaded_error"
}

// backoffDelay doubles per attempt from baseBackoff, capped at maxBackoff.
func backoffDelay(attempt int) time.Duration {
	delay := baseBackoff << (attempt - 1)
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
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
