package summarizer

import (
	"sync"
	"sync/atomic"
)

// QuotaState records that the service reported its daily ceiling. Once set,
// all further Summarize calls short-circuit until Reset. It is never cleared
// by the passage of time.
type QuotaState struct {
	exhausted atomic.Bool

	mu      sync.RWMutex
	message string
}

// NewQuotaState returns a not-exhausted state.
func NewQuotaState() *QuotaState {
	return &QuotaState{}
}

// MarkExhausted sets the exhausted flag with the service message that triggered it.
func (q *QuotaState) MarkExhausted(message string) {
	q.mu.Lock()
	q.message = message
	q.mu.Unlock()
	q.exhausted.Store(true)
}

// Exhausted returns the flag and the message recorded with it.
func (q *QuotaState) Exhausted() (bool, string) {
	if !q.exhausted.Load() {
		return false, ""
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	return true, q.message
}

// Reset clears the state. Calling it repeatedly is the same as calling it once.
func (q *QuotaState) Reset() {
	q.exhausted.Store(false)
	q.mu.Lock()
	q.message = ""
	q.mu.Unlock()
}
