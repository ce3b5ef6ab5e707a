package summarizer

import "time"

// Progress receives countdown updates while the engine waits out a rate limit.
type Progress interface {
	WaitStarted(info WaitInfo)
	WaitTick(remaining time.Duration)
	WaitDone()
}

// WaitInfo describes a backoff wait about to start.
type WaitInfo struct {
	TaskName   string
	Tier       string
	Duration   time.Duration
	Retry      int
	MaxRetries int
}

type noopProgress struct{}

func (noopProgress) WaitStarted(WaitInfo)   {}
func (noopProgress) WaitTick(time.Duration) {}
func (noopProgress) WaitDone()              {}
