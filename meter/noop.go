package meter

import "github.com/ineyio/summarizer"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ summarizer.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAttempt(summarizer.AttemptEvent)          {}
func (m *NoopMeter) OnBackoff(summarizer.BackoffEvent)          {}
func (m *NoopMeter) OnResult(summarizer.ResultEvent)            {}
func (m *NoopMeter) OnDailyExhausted(summarizer.ExhaustedEvent) {}
