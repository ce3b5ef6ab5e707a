package meter

import "github.com/ineyio/summarizer"

// Multi fans every event out to each meter in order.
type Multi []summarizer.Meter

var _ summarizer.Meter = Multi(nil)

// NewMulti drops nil meters.
func NewMulti(meters ...summarizer.Meter) Multi {
	out := make(Multi, 0, len(meters))
	for _, m := range meters {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (mm Multi) OnAttempt(e summarizer.AttemptEvent) {
	for _, m := range mm {
		m.OnAttempt(e)
	}
}

func (mm Multi) OnBackoff(e summarizer.BackoffEvent) {
	for _, m := range mm {
		m.OnBackoff(e)
	}
}

func (mm Multi) OnResult(e summarizer.ResultEvent) {
	for _, m := range mm {
		m.OnResult(e)
	}
}

func (mm Multi) OnDailyExhausted(e summarizer.ExhaustedEvent) {
	for _, m := range mm {
		m.OnDailyExhausted(e)
	}
}
