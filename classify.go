package summarizer

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Signal is the normalized view of a failed call that classification runs on.
type Signal struct {
	// Message is the lowercased error text.
	Message string
	// Raw is the error text as produced.
	Raw        string
	StatusCode int
	TypeName   string
	RetryDelay time.Duration
	// Transport is set when the request never got an HTTP response.
	Transport bool
}

var retryDelayPattern = regexp.MustCompile(`(?i)"?retry_?delay"?\s*[:=]\s*"?(\d+(?:\.\d+)?)\s*s`)

var (
	dailyTokens = []string{"requests per day", "rpd"}
	rateTokens  = []string{
		"resource_exhausted", "quota", "rate limit", "rate_limit", "overload",
		"unavailable", "too_many_requests", "limit_exceeded", "requests per minute", "rpm",
	}
)

// SignalFromError extracts the classification inputs from err.
func SignalFromError(err error) Signal {
	if err == nil {
		return Signal{}
	}
	raw := err.Error()
	s := Signal{
		Message:  strings.ToLower(raw),
		Raw:      raw,
		TypeName: fmt.Sprintf("%T", err),
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		s.StatusCode = apiErr.StatusCode
		s.RetryDelay = apiErr.RetryDelay
		s.TypeName = fmt.Sprintf("%T", apiErr)
	} else if errors.Is(err, ErrProviderUnavailable) {
		s.Transport = true
	}
	return s
}

// Classify assigns err one of the attempt outcomes.
func Classify(err error) Attempt {
	return ClassifySignal(SignalFromError(err))
}

// ClassifySignal is the pure classification function. First match wins:
// daily exhaustion, then transient rate limiting, then unavailability, then fatal.
func ClassifySignal(s Signal) Attempt {
	msg := s.Message
	if msg == "" && s.Raw != "" {
		msg = strings.ToLower(s.Raw)
	}

	if isDailyExhausted(msg) {
		return Attempt{Outcome: OutcomeDailyExhausted, Message: s.Raw}
	}

	if s.StatusCode == http.StatusTooManyRequests || strings.Contains(msg, "429") || containsAny(msg, rateTokens) {
		return Attempt{
			Outcome:    OutcomeRateLimited,
			RetryAfter: retryHint(s),
			Message:    s.Raw,
		}
	}

	if s.StatusCode >= 500 || s.Transport {
		return Attempt{Outcome: OutcomeUnavailable, Message: s.Raw}
	}

	return Attempt{Outcome: OutcomeFatal, Message: s.Raw}
}

func isDailyExhausted(msg string) bool {
	if containsAny(msg, dailyTokens) {
		return true
	}
	if !strings.Contains(msg, "quota") {
		return false
	}
	if strings.Contains(msg, "day") || strings.Contains(msg, "daily") {
		return true
	}
	return strings.Contains(msg, "exceed") && strings.Contains(msg, "today")
}

func retryHint(s Signal) time.Duration {
	if s.RetryDelay > 0 {
		return s.RetryDelay
	}
	return ParseRetryDelay(s.Raw)
}

// ParseRetryDelay finds a `retryDelay: "<n>s"` hint in free text. Returns 0 if none.
func ParseRetryDelay(text string) time.Duration {
	m := retryDelayPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
