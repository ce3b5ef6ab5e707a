package summarizer_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ineyio/summarizer"
)

func TestClassify_DailyExhausted(t *testing.T) {
	messages := []string{
		"Quota exceeded: 250 Requests Per Day for gemini-2.5-flash",
		"limit RPD reached",
		"You exceeded your daily quota",
		"quota for this model resets every day",
		"Quota exceeded, try again after today's reset",
		"429 RESOURCE_EXHAUSTED: requests per day limit hit",
	}
	for _, msg := range messages {
		t.Run(msg, func(t *testing.T) {
			a := summarizer.Classify(errors.New(msg))
			assert.Equal(t, summarizer.OutcomeDailyExhausted, a.Outcome)
			assert.Equal(t, msg, a.Message)
		})
	}
}

func TestClassify_RateLimited(t *testing.T) {
	messages := []string{
		"HTTP 429 Too Many Requests",
		"RESOURCE_EXHAUSTED",
		"rate limit reached for requests",
		"error code: rate_limit",
		"The model is overloaded. Please try again later.",
		"503 Service Unavailable",
		"TOO_MANY_REQUESTS",
		"LIMIT_EXCEEDED",
		"exceeded requests per minute",
		"RPM limit",
		"quota exceeded for metric",
	}
	for _, msg := range messages {
		t.Run(msg, func(t *testing.T) {
			a := summarizer.Classify(errors.New(msg))
			assert.Equal(t, summarizer.OutcomeRateLimited, a.Outcome)
			assert.Zero(t, a.RetryAfter)
		})
	}
}

func TestClassify_RetryDelayFromText(t *testing.T) {
	err := errors.New(`429 RESOURCE_EXHAUSTED {"retryDelay": "23s"}`)
	a := summarizer.Classify(err)
	assert.Equal(t, summarizer.OutcomeRateLimited, a.Outcome)
	assert.Equal(t, 23*time.Second, a.RetryAfter)
}

func TestClassify_RetryDelayFromAPIError(t *testing.T) {
	err := &summarizer.APIError{
		Provider:   "gemini",
		StatusCode: 429,
		Status:     "RESOURCE_EXHAUSTED",
		RetryDelay: 9 * time.Second,
	}
	a := summarizer.Classify(fmt.Errorf("wrapped: %w", err))
	assert.Equal(t, summarizer.OutcomeRateLimited, a.Outcome)
	assert.Equal(t, 9*time.Second, a.RetryAfter)
}

func TestClassify_StatusCode429WithoutKeywords(t *testing.T) {
	s := summarizer.Signal{StatusCode: 429, Raw: "slow down", Message: "slow down"}
	assert.Equal(t, summarizer.OutcomeRateLimited, summarizer.ClassifySignal(s).Outcome)
}

func TestClassify_Unavailable(t *testing.T) {
	transport := fmt.Errorf("%w: dial tcp: connection refused", summarizer.ErrProviderUnavailable)
	assert.Equal(t, summarizer.OutcomeUnavailable, summarizer.Classify(transport).Outcome)

	server := &summarizer.APIError{Provider: "gemini", StatusCode: 500, Message: "internal error"}
	assert.Equal(t, summarizer.OutcomeUnavailable, summarizer.Classify(server).Outcome)
}

func TestClassify_Fatal(t *testing.T) {
	messages := []string{
		"API key not valid. Please pass a valid API key.",
		"invalid argument: contents is empty",
		"unexpected EOF",
	}
	for _, msg := range messages {
		t.Run(msg, func(t *testing.T) {
			a := summarizer.Classify(errors.New(msg))
			assert.Equal(t, summarizer.OutcomeFatal, a.Outcome)
			assert.Equal(t, msg, a.Message)
		})
	}
}

func TestClassifySignal_IsPure(t *testing.T) {
	s := summarizer.Signal{Raw: "Requests Per Day exceeded", Message: "requests per day exceeded"}
	first := summarizer.ClassifySignal(s)
	second := summarizer.ClassifySignal(s)
	assert.Equal(t, first, second)
}

func TestParseRetryDelay(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"retryDelay": "17s"`, 17 * time.Second},
		{`retry_delay=4s`, 4 * time.Second},
		{`retryDelay: "1.5s"`, 1500 * time.Millisecond},
		{`no hint here`, 0},
		{`"retryDelay": "0s"`, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, summarizer.ParseRetryDelay(tt.in), tt.in)
	}
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, summarizer.IsFatal(summarizer.ErrAuthFailed))
	assert.True(t, summarizer.IsFatal(summarizer.ErrInvalidRequest))
	assert.False(t, summarizer.IsFatal(summarizer.ErrRateLimited))

	assert.True(t, summarizer.IsRetryable(summarizer.ErrRateLimited))
	assert.True(t, summarizer.IsRetryable(summarizer.ErrProviderUnavailable))
	assert.True(t, summarizer.IsRetryable(summarizer.ErrQuotaExceeded))
	assert.False(t, summarizer.IsRetryable(summarizer.ErrAuthFailed))

	wrapped := &summarizer.TierError{
		Err:      &summarizer.APIError{Provider: "gemini", StatusCode: 403},
		Provider: "gemini",
		Tier:     "gemini-2.5-flash",
		Attempt:  1,
	}
	assert.ErrorIs(t, wrapped, summarizer.ErrAuthFailed)
	assert.Contains(t, wrapped.Error(), "tier=gemini-2.5-flash")
}

func TestAPIError_Message(t *testing.T) {
	err := &summarizer.APIError{
		Provider:   "gemini",
		StatusCode: 429,
		Status:     "RESOURCE_EXHAUSTED",
		Message:    "Quota exceeded",
		QuotaIDs:   []string{"GenerateRequestsPerDayPerProjectPerModel-FreeTier"},
	}
	assert.Equal(t,
		"summarizer: gemini: 429 RESOURCE_EXHAUSTED: Quota exceeded [GenerateRequestsPerDayPerProjectPerModel-FreeTier]",
		err.Error())
	assert.Equal(t, summarizer.OutcomeDailyExhausted, summarizer.Classify(err).Outcome)
}
