package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// GenerationError reports a failed provider call with enough detail to
// decide whether a retry makes sense.
type GenerationError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient: rate limits and
// server-side errors are, client errors are not.
func (e *GenerationError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err wraps a retryable GenerationError.
func IsRetryable(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Retryable()
}

// IsRateLimited reports whether err wraps a 429 from the provider.
func IsRateLimited(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.StatusCode == http.StatusTooManyRequests
}
