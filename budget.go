package summarizer

import (
	"context"

	"github.com/google/uuid"
)

// TierBudget tracks local request quota per tier so an exhausted tier can be
// skipped without a network round-trip.
type TierBudget interface {
	// Reserve claims one request on the tier. It returns ErrQuotaExceeded when
	// the daily bucket is empty and ErrRateLimited when the per-minute window is full.
	Reserve(ctx context.Context, tierID string, idempotencyKey string) (Reservation, error)

	// Commit finalizes a reservation after a successful call.
	Commit(ctx context.Context, reservation Reservation) error

	// Rollback releases a reservation that was not used.
	Rollback(ctx context.Context, reservation Reservation) error

	// Remaining returns the remaining daily requests for a tier.
	Remaining(ctx context.Context, tierID string) (int64, error)
}

// BudgetInitializer is implemented by budgets that accept limits from the tier ladder.
type BudgetInitializer interface {
	SetLimits(tierID string, daily, perMinute int64)
}

// Reservation represents one reserved request.
type Reservation struct {
	ID     string
	TierID string
	// Minute is the per-minute window the reservation was counted in, as unix minutes.
	Minute int64
}

// noopBudget allows everything.
type noopBudget struct{}

func (noopBudget) Reserve(_ context.Context, tierID string, _ string) (Reservation, error) {
	return Reservation{ID: uuid.New().String(), TierID: tierID}, nil
}
func (noopBudget) Commit(context.Context, Reservation) error        { return nil }
func (noopBudget) Rollback(context.Context, Reservation) error      { return nil }
func (noopBudget) Remaining(context.Context, string) (int64, error) { return 0, nil }
