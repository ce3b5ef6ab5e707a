package summarizer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors.
var (
	ErrQuotaExceeded       = errors.New("summarizer: tier quota exceeded")
	ErrRateLimited         = errors.New("summarizer: rate limited by provider")
	ErrAuthFailed          = errors.New("summarizer: authentication failed")
	ErrInvalidRequest      = errors.New("summarizer: invalid request")
	ErrProviderUnavailable = errors.New("summarizer: provider connection failed")
	ErrEmptyResponse       = errors.New("summarizer: empty response")
	ErrNoTiers             = errors.New("summarizer: no tiers configured")
	ErrNilQuotaState       = errors.New("summarizer: quota state is required")
)

// APIError is a non-2xx response from a generative-text service.
type APIError struct {
	Provider   string
	StatusCode int
	// Status is the service's symbolic status, e.g. RESOURCE_EXHAUSTED.
	Status  string
	Message string

	// RetryDelay is the structured retry hint from the payload. Zero means absent.
	RetryDelay time.Duration
	QuotaIDs   []string
	Body       string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "summarizer: %s: %d", e.Provider, e.StatusCode)
	if e.Status != "" {
		b.WriteString(" " + e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if len(e.QuotaIDs) > 0 {
		b.WriteString(" [" + strings.Join(e.QuotaIDs, ", ") + "]")
	}
	if e.Message == "" && e.Body != "" {
		b.WriteString(": " + e.Body)
	}
	return b.String()
}

// Unwrap maps the status code onto a sentinel so errors.Is works.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return ErrAuthFailed
	case e.StatusCode == http.StatusBadRequest:
		return ErrInvalidRequest
	case e.StatusCode >= 500:
		return ErrProviderUnavailable
	default:
		return nil
	}
}

// TierError wraps an attempt failure with ladder context.
type TierError struct {
	Err      error
	Provider string
	Tier     string
	Attempt  int
}

func (e *TierError) Error() string {
	return fmt.Sprintf("summarizer: provider=%s tier=%s attempt=%d: %v",
		e.Provider, e.Tier, e.Attempt, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error should not be retried on any tier.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest)
}

// IsRetryable returns true if the error can be retried on the same or another tier.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrQuotaExceeded)
}
