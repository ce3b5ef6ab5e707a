package meter

import (
	"log/slog"

	"github.com/ineyio/summarizer"
)

// LogMeter logs engine events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ summarizer.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAttempt(e summarizer.AttemptEvent) {
	if e.Outcome == summarizer.OutcomeSuccess {
		m.Logger.Info("attempt",
			"request_id", e.RequestID,
			"task", e.TaskName,
			"provider", e.Provider,
			"tier", e.Tier,
			"attempt", e.Attempt,
			"duration_ms", e.Duration.Milliseconds(),
			"estimated_tokens", e.EstimatedTokens,
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
		)
		return
	}
	m.Logger.Warn("attempt_error",
		"request_id", e.RequestID,
		"task", e.TaskName,
		"provider", e.Provider,
		"tier", e.Tier,
		"attempt", e.Attempt,
		"outcome", e.Outcome.String(),
		"duration_ms", e.Duration.Milliseconds(),
		"error", e.Error,
	)
}

func (m *LogMeter) OnBackoff(e summarizer.BackoffEvent) {
	m.Logger.Info("backoff",
		"request_id", e.RequestID,
		"task", e.TaskName,
		"tier", e.Tier,
		"retry", e.Retry,
		"wait", e.Wait.String(),
		"hinted", e.Hinted,
	)
}

func (m *LogMeter) OnResult(e summarizer.ResultEvent) {
	if !e.Fallback {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"task", e.TaskName,
			"tier", e.Tier,
			"attempts", e.Attempts,
			"duration_ms", e.Duration.Milliseconds(),
		)
		return
	}
	m.Logger.Warn("result_fallback",
		"request_id", e.RequestID,
		"task", e.TaskName,
		"reason", string(e.Reason),
		"detail", e.Detail,
		"attempts", e.Attempts,
		"duration_ms", e.Duration.Milliseconds(),
	)
}

func (m *LogMeter) OnDailyExhausted(e summarizer.ExhaustedEvent) {
	m.Logger.Warn("daily_exhausted",
		"request_id", e.RequestID,
		"tier", e.Tier,
		"message", e.Message,
	)
}
