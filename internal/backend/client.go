// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend implements the chat-completion client for the
// OpenAI-compatible model providers the relay talks to.
//
// The relay consumes three logical backend roles (primary generation,
// web-augmented research, and an optional formatting editor) that all
// share the same request/response shape. Each role is a separately
// configured Client instance.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/chatrelay/internal/history"
)

// Configuration constants for backend API access.
const (
	// DefaultTimeout is the default timeout for blocking API requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize caps the response body read to bound memory use.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

var (
	// sharedHTTPClient serves blocking requests with connection pooling.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient serves streaming requests. No client
	// timeout: stream lifetime is controlled via context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// Error variables for common backend failures.
var (
	// ErrNotConfigured indicates the backend has no API key or URL.
	ErrNotConfigured = errors.New("backend not configured")

	// ErrAuthFailed indicates an invalid or expired API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrInsufficientCredits indicates the account balance is exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrMalformedResponse indicates the provider returned an
	// unparseable or empty completion.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// APIError represents a structured error response from a provider.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// RateLimitError carries the provider's Retry-After hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to match ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// WebSearchOptions enables provider-side search augmentation on backends
// that support it (the research role).
type WebSearchOptions struct {
	// MaxResults bounds how many search results the provider may use.
	MaxResults int `json:"max_results,omitempty"`
}

// Options are per-call generation parameters.
type Options struct {
	Temperature float64
	MaxTokens   int
	WebSearch   *WebSearchOptions
}

// ChatRequest is the wire request for the chat completions endpoint.
type ChatRequest struct {
	Model       string            `json:"model"`
	Messages    []history.Turn    `json:"messages"`
	Stream      bool              `json:"stream"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	WebSearch   *WebSearchOptions `json:"web_search_options,omitempty"`
}

// ChatResponse is the wire response for a blocking completion.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      history.Turn `json:"message"`
		FinishReason string       `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// apiErrorResponse is the provider's error envelope.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Config configures one backend role.
type Config struct {
	// Role is a label for logs ("primary", "research", "editor").
	Role string

	// BaseURL is the provider base, e.g. "https://api.example.com/v1".
	BaseURL string

	// APIKey authenticates requests. Empty means not configured.
	APIKey string

	// Model is the model identifier sent with every request.
	Model string

	// MaxRetries overrides DefaultMaxRetries when > 0.
	MaxRetries int
}

// Client talks to one OpenAI-compatible provider endpoint.
type Client struct {
	role       string
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
}

// NewClient creates a client for one backend role.
func NewClient(cfg Config) *Client {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	return &Client{
		role:       cfg.Role,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		maxRetries: retries,
	}
}

// Role returns the configured role label.
func (c *Client) Role() string {
	return c.role
}

// IsConfigured reports whether the client has enough configuration to
// make requests.
func (c *Client) IsConfigured() bool {
	return c != nil && c.apiKey != "" && c.baseURL != "" && c.model != ""
}

// setHeaders applies common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// calculateBackoff returns the exponential backoff delay for an attempt.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// Complete performs a blocking chat completion with retry on transient
// failures. Ordered turns are forwarded unchanged.
func (c *Client) Complete(ctx context.Context, turns []history.Turn, opts Options) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	reqBody := ChatRequest{
		Model:       c.model,
		Messages:    turns,
		Stream:      false,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		WebSearch:   opts.WebSearch,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			log.Debug().Str("backend", c.role).Int("attempt", attempt).
				Dur("delay", delay).Msg("retrying backend call")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		content, err := c.completeOnce(ctx, bodyBytes)
		if err == nil {
			return content, nil
		}
		if !isRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// completeOnce performs a single blocking completion attempt.
func (c *Client) completeOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.handleErrorResponse(resp, respBody)
	}

	var parsed ChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	content := parsed.GetContent()
	if content == "" {
		return "", ErrMalformedResponse
	}
	return content, nil
}

// handleErrorResponse maps a non-200 response to a typed error.
func (c *Client) handleErrorResponse(resp *http.Response, body []byte) error {
	var apiErr apiErrorResponse
	message := string(body)
	code := ""
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
		code = apiErr.Error.Code
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthFailed, message)
	case http.StatusTooManyRequests:
		return rateLimitFromResponse(resp)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrInsufficientCredits, message)
	default:
		return &APIError{Code: code, Message: message, Status: resp.StatusCode}
	}
}

// rateLimitFromResponse parses the Retry-After header, when present,
// into a RateLimitError.
func rateLimitFromResponse(resp *http.Response) error {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return ErrRateLimited
	}
	if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
		return &RateLimitError{RetryAfter: seconds}
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Until(t)}
	}
	return ErrRateLimited
}

// isRetryable reports whether an error can be retried. Client errors
// (auth, credits, bad request) are terminal; rate limits and server or
// network failures are transient.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return true
}
