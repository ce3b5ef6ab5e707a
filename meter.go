package summarizer

import "time"

// Meter observes engine events for monitoring/logging.
type Meter interface {
	// OnAttempt is called after each call against a tier.
	OnAttempt(event AttemptEvent)

	// OnBackoff is called before waiting out a rate limit.
	OnBackoff(event BackoffEvent)

	// OnResult is called once per Summarize call.
	OnResult(event ResultEvent)

	// OnDailyExhausted is called when the shared quota state flips to exhausted.
	OnDailyExhausted(event ExhaustedEvent)
}

// AttemptEvent describes one call against one tier.
type AttemptEvent struct {
	RequestID       string
	TaskName        string
	Provider        string
	Tier            string
	TierIndex       int
	Attempt         int
	Outcome         Outcome
	Duration        time.Duration
	EstimatedTokens int64
	Usage           Usage
	Error           error
}

// BackoffEvent describes a wait before retrying the same tier.
type BackoffEvent struct {
	RequestID string
	TaskName  string
	Tier      string
	Retry     int
	Wait      time.Duration
	// Hinted is true when the wait came from the service's retry hint.
	Hinted bool
}

// ResultEvent describes how a Summarize call ended.
type ResultEvent struct {
	RequestID string
	TaskName  string
	Tier      string
	Fallback  bool
	Reason    FallbackReason
	Detail    string
	Attempts  int
	Duration  time.Duration
}

// ExhaustedEvent describes the transition into the daily-exhausted state.
type ExhaustedEvent struct {
	RequestID string
	Tier      string
	Message   string
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnAttempt(AttemptEvent)          {}
func (noopMeter) OnBackoff(BackoffEvent)          {}
func (noopMeter) OnResult(ResultEvent)            {}
func (noopMeter) OnDailyExhausted(ExhaustedEvent) {}
