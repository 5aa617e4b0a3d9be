package providers

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider is returned by New for an unrecognized provider name.
var ErrUnknownProvider = errors.New("unknown provider")

// ProviderError wraps a transport or API failure from an LLM back-end.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 for network-level failures
	Message    string
	RetryAfter float64 // seconds, from Retry-After header (0 = absent)
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient (rate limit, server
// error, or network-level).
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}
