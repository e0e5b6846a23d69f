// Package llm names listening eras through a chat-completion provider, with
// strict response validation and deterministic fallbacks.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared by all providers.
var (
	// ErrRateLimited is returned when the provider rejects a call for rate
	// limiting; the call is retried with backoff.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnauthorized is returned for credential failures; never retried.
	ErrUnauthorized = errors.New("invalid or missing API credential")
)

// ChatOptions tune a single completion call.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// Provider is a chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, prompt string, opts ChatOptions) (string, error)
	Name() string  // "openai", "anthropic"
	Model() string // model identifier for logs
}

// apiError is a non-sentinel provider failure carrying the HTTP status.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.status, e.body)
}

// retryable reports whether an error is worth another attempt: transport
// errors, timeouts, rate limits, and server-side failures. Authoritative
// failures (auth, malformed request) are not retried.
func retryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.status >= 500
	}
	// url.Error from the HTTP client implements net.Error, so this covers
	// connection failures and client-side timeouts.
	var netErr net.Error
	return errors.As(err, &netErr)
}
