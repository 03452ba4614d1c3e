// Package providers implements the agent.LLMProvider interface for the
// Anthropic and OpenAI APIs: streaming responses, retry logic, tool calling,
// and format conversion.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderError is a classified failure from an LLM provider.
type ProviderError struct {
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s model=%s status=%d: %v", e.Provider, e.Model, e.Status, e.Cause)
	}
	return fmt.Sprintf("%s model=%s: %v", e.Provider, e.Model, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// isRetryable classifies transient failures: rate limits, server errors,
// timeouts, and network resets. Auth and malformed-request errors are
// permanent and never retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "rate_limit", "too many requests",
		"500", "502", "503", "504", "overloaded",
		"timeout", "connection reset", "connection refused", "no such host",
		"unexpected eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
