// Package quota provides an in-memory TierBudget.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ineyio/summarizer"
)

// MemoryBudget is an in-memory TierBudget with a daily reset at midnight UTC
// and a fixed one-minute request window.
type MemoryBudget struct {
	mu    sync.Mutex
	tiers map[string]*tierQuota
	seen  map[string]bool // idempotency key dedup
	now   func() time.Time
}

type tierQuota struct {
	DailyLimit  int64
	MinuteLimit int64
	Used        int64
	Reserved    int64
	ResetAt     time.Time

	Minute      int64 // unix minute of the current window
	MinuteCount int64
}

var (
	_ summarizer.TierBudget        = (*MemoryBudget)(nil)
	_ summarizer.BudgetInitializer = (*MemoryBudget)(nil)
)

// Option configures MemoryBudget.
type Option func(*MemoryBudget)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *MemoryBudget) { b.now = now }
}

// NewMemoryBudget creates a new in-memory budget.
func NewMemoryBudget(opts ...Option) *MemoryBudget {
	b := &MemoryBudget{
		tiers: make(map[string]*tierQuota),
		seen:  make(map[string]bool),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetLimits configures the daily and per-minute request limits for a tier.
// A limit of 0 is not enforced.
func (b *MemoryBudget) SetLimits(tierID string, daily, perMinute int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	if tq, ok := b.tiers[tierID]; ok {
		tq.DailyLimit = daily
		tq.MinuteLimit = perMinute
		return
	}
	b.tiers[tierID] = &tierQuota{
		DailyLimit:  daily,
		MinuteLimit: perMinute,
		ResetAt:     nextMidnightUTC(now),
	}
}

// Reserve claims one request on a tier.
func (b *MemoryBudget) Reserve(_ context.Context, tierID string, idempotencyKey string) (summarizer.Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Idempotency check.
	if idempotencyKey != "" && b.seen[idempotencyKey] {
		return summarizer.Reservation{}, fmt.Errorf("summarizer: duplicate idempotency key %q", idempotencyKey)
	}

	now := b.now().UTC()
	minute := now.Unix() / 60

	tq, ok := b.tiers[tierID]
	if !ok {
		// No limits configured, unlimited.
		return summarizer.Reservation{ID: uuid.New().String(), TierID: tierID, Minute: minute}, nil
	}

	b.maybeReset(tq, now)

	if tq.DailyLimit > 0 && tq.Used+tq.Reserved >= tq.DailyLimit {
		return summarizer.Reservation{}, summarizer.ErrQuotaExceeded
	}
	if tq.MinuteLimit > 0 && tq.MinuteCount >= tq.MinuteLimit {
		return summarizer.Reservation{}, summarizer.ErrRateLimited
	}

	tq.Reserved++
	tq.MinuteCount++

	if idempotencyKey != "" {
		b.seen[idempotencyKey] = true
	}

	return summarizer.Reservation{ID: uuid.New().String(), TierID: tierID, Minute: minute}, nil
}

// Commit counts a reserved request as used.
func (b *MemoryBudget) Commit(_ context.Context, res summarizer.Reservation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tq, ok := b.tiers[res.TierID]
	if !ok {
		return nil
	}
	if tq.Reserved > 0 {
		tq.Reserved--
	}
	tq.Used++
	return nil
}

// Rollback releases a reservation. The per-minute slot is released only while
// its window is still current.
func (b *MemoryBudget) Rollback(_ context.Context, res summarizer.Reservation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tq, ok := b.tiers[res.TierID]
	if !ok {
		return nil
	}
	if tq.Reserved > 0 {
		tq.Reserved--
	}
	if res.Minute == tq.Minute && tq.MinuteCount > 0 {
		tq.MinuteCount--
	}
	return nil
}

// Remaining returns the remaining daily requests for a tier.
func (b *MemoryBudget) Remaining(_ context.Context, tierID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tq, ok := b.tiers[tierID]
	if !ok || tq.DailyLimit == 0 {
		return 0, nil
	}
	b.maybeReset(tq, b.now().UTC())

	available := tq.DailyLimit - tq.Used - tq.Reserved
	if available < 0 {
		return 0, nil
	}
	return available, nil
}

// maybeReset rolls the daily and minute windows. Must be called with lock held.
func (b *MemoryBudget) maybeReset(tq *tierQuota, now time.Time) {
	if !now.Before(tq.ResetAt) {
		tq.Used = 0
		tq.Reserved = 0
		tq.ResetAt = nextMidnightUTC(now)
	}
	if minute := now.Unix() / 60; minute != tq.Minute {
		tq.Minute = minute
		tq.MinuteCount = 0
	}
}

func nextMidnightUTC(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
