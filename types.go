package summarizer

import "time"

// FieldEntry is one labeled piece of task content.
type FieldEntry struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// PromptPayload is the task name plus its ordered field entries.
type PromptPayload struct {
	TaskName string
	Fields   []FieldEntry
}

// ModelTier is one generative model with its own quota bucket.
type ModelTier struct {
	ID         string `yaml:"id"`
	DailyQuota int64  `yaml:"daily_quota"`
	RPMQuota   int64  `yaml:"rpm_quota"`
	Rank       int    `yaml:"rank"`
}

// Outcome tags the result of a single generative call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeDailyExhausted
	OutcomeUnavailable
	OutcomeFatal
	// OutcomeTierQuotaExhausted is produced by the local tier budget, never by the classifier.
	OutcomeTierQuotaExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeDailyExhausted:
		return "daily_exhausted"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeTierQuotaExhausted:
		return "tier_quota_exhausted"
	default:
		return "unknown"
	}
}

// Attempt is the classified result of one call against one tier.
type Attempt struct {
	Outcome Outcome
	Text    string

	// RetryAfter is the service-supplied wait. Zero means unset.
	RetryAfter time.Duration
	Message    string
}

// FallbackReason explains why a Result carries no summary.
type FallbackReason string

const (
	ReasonNone              FallbackReason = ""
	ReasonNoContent         FallbackReason = "no-content"
	ReasonDisabled          FallbackReason = "disabled"
	ReasonDailyExhausted    FallbackReason = "daily-exhausted"
	ReasonAllTiersExhausted FallbackReason = "all-tiers-exhausted"
	ReasonFatal             FallbackReason = "fatal"
	ReasonEmptyResponse     FallbackReason = "empty-response"
	ReasonCanceled          FallbackReason = "canceled"
)

// Result is the outcome of one Summarize call: either a summary or the
// fallback signal telling the caller to use the original content.
type Result struct {
	Summary  string
	Fallback bool
	Reason   FallbackReason
	Detail   string

	// Tier is the model that produced Summary.
	Tier     string
	Attempts int

	// Original is the rendered field block to display on fallback.
	Original string
}

// Text returns the summary, or the original content when the result is a fallback.
func (r Result) Text() string {
	if r.Fallback {
		return r.Original
	}
	return r.Summary
}

// RetryContext tracks one request's position on the tier ladder.
type RetryContext struct {
	RequestID         string
	TierIndex         int
	AttemptWithinTier int
	TotalAttempts     int
}
