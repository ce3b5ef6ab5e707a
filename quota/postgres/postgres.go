// Package postgres provides a PostgreSQL-backed TierBudget for summarizer.
//
// Tier budgets are stored in PostgreSQL tables with transactional Reserve/Commit/Rollback.
// Usage survives restarts, so a re-run of an export on the same day keeps
// counting against the tiers' daily quotas.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/summarizer"
)

// Store is a PostgreSQL-backed TierBudget.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ summarizer.TierBudget        = (*Store)(nil)
	_ summarizer.BudgetInitializer = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "summarizer_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed TierBudget.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "summarizer_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) budgetsTable() string     { return s.tablePrefix + "tier_budgets" }
func (s *Store) idempotencyTable() string { return s.tablePrefix + "idempotency" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tier_id TEXT PRIMARY KEY,
			daily_limit BIGINT NOT NULL DEFAULT 0,
			minute_limit BIGINT NOT NULL DEFAULT 0,
			used BIGINT NOT NULL DEFAULT 0,
			reserved BIGINT NOT NULL DEFAULT 0,
			minute_window BIGINT NOT NULL DEFAULT 0,
			minute_count BIGINT NOT NULL DEFAULT 0,
			reset_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s.budgetsTable(), s.idempotencyTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("summarizer/postgres: ensure schema: %w", err)
	}
	return nil
}

// Reserve claims one request on a tier.
func (s *Store) Reserve(ctx context.Context, tierID string, idempotencyKey string) (summarizer.Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return summarizer.Reservation{}, fmt.Errorf("summarizer/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Idempotency check.
	if idempotencyKey != "" {
		var inserted bool
		err = tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO %s (key) VALUES ($1) ON CONFLICT DO NOTHING RETURNING true`, s.idempotencyTable()),
			idempotencyKey,
		).Scan(&inserted)
		if errors.Is(err, pgx.ErrNoRows) {
			return summarizer.Reservation{}, fmt.Errorf("summarizer: duplicate idempotency key %q", idempotencyKey)
		}
		if err != nil {
			return summarizer.Reservation{}, fmt.Errorf("summarizer/postgres: idem check: %w", err)
		}
	}

	now := time.Now().UTC()
	minute := now.Unix() / 60

	// 2. Lock the row and roll the daily and minute windows.
	var dailyLimit, minuteLimit, used, reserved, minuteCount int64
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET
				used = CASE WHEN reset_at <= $2 THEN 0 ELSE used END,
				reserved = CASE WHEN reset_at <= $2 THEN 0 ELSE reserved END,
				reset_at = CASE WHEN reset_at <= $2 THEN $3 ELSE reset_at END,
				minute_count = CASE WHEN minute_window <> $4 THEN 0 ELSE minute_count END,
				minute_window = $4
			WHERE tier_id = $1
			RETURNING daily_limit, minute_limit, used, reserved, minute_count`, s.budgetsTable()),
		tierID, now, nextMidnightUTC(now), minute,
	).Scan(&dailyLimit, &minuteLimit, &used, &reserved, &minuteCount)

	if errors.Is(err, pgx.ErrNoRows) {
		// Tier not configured, unlimited.
		if err := tx.Commit(ctx); err != nil {
			return summarizer.Reservation{}, fmt.Errorf("summarizer/postgres: commit unlimited: %w", err)
		}
		return summarizer.Reservation{ID: uuid.New().String(), TierID: tierID, Minute: minute}, nil
	}
	if err != nil {
		return summarizer.Reservation{}, fmt.Errorf("summarizer/postgres: lock tier: %w", err)
	}

	// 3. Check limits. Returning early rolls back the idempotency key too.
	if dailyLimit > 0 && used+reserved >= dailyLimit {
		return summarizer.Reservation{}, summarizer.ErrQuotaExceeded
	}
	if minuteLimit > 0 && minuteCount >= minuteLimit {
		return summarizer.Reservation{}, summarizer.ErrRateLimited
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET reserved = reserved + 1, minute_count = minute_count + 1 WHERE tier_id = $1`,
			s.budgetsTable()),
		tierID,
	)
	if err != nil {
		return summarizer.Reservation{}, fmt.Errorf("summarizer/postgres: reserve: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return summarizer.Reservation{}, fmt.Errorf("summarizer/postgres: commit: %w", err)
	}

	return summarizer.Reservation{ID: uuid.New().String(), TierID: tierID, Minute: minute}, nil
}

// Commit counts a reserved request as used.
func (s *Store) Commit(ctx context.Context, res summarizer.Reservation) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET reserved = GREATEST(reserved - 1, 0), used = used + 1 WHERE tier_id = $1`,
			s.budgetsTable()),
		res.TierID,
	)
	if err != nil {
		return fmt.Errorf("summarizer/postgres: commit: %w", err)
	}
	return nil
}

// Rollback releases a reservation that was not used.
func (s *Store) Rollback(ctx context.Context, res summarizer.Reservation) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET
				reserved = GREATEST(reserved - 1, 0),
				minute_count = CASE WHEN minute_window = $2 THEN GREATEST(minute_count - 1, 0) ELSE minute_count END
			WHERE tier_id = $1`,
			s.budgetsTable()),
		res.TierID, res.Minute,
	)
	if err != nil {
		return fmt.Errorf("summarizer/postgres: rollback: %w", err)
	}
	return nil
}

// Remaining returns the remaining daily requests for a tier.
func (s *Store) Remaining(ctx context.Context, tierID string) (int64, error) {
	var dailyLimit, used, reserved int64
	var resetAt time.Time

	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT daily_limit, used, reserved, reset_at FROM %s WHERE tier_id = $1`,
			s.budgetsTable()),
		tierID,
	).Scan(&dailyLimit, &used, &reserved, &resetAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("summarizer/postgres: remaining: %w", err)
	}

	// Lazy reset check (read-only).
	if !time.Now().UTC().Before(resetAt) {
		used = 0
		reserved = 0
	}

	available := dailyLimit - used - reserved
	if available < 0 {
		return 0, nil
	}
	return available, nil
}

// SetLimits configures the limits for a tier (upsert), keeping current usage.
func (s *Store) SetLimits(tierID string, daily, perMinute int64) {
	ctx := context.Background()
	_, _ = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (tier_id, daily_limit, minute_limit, reset_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tier_id) DO UPDATE SET daily_limit = $2, minute_limit = $3`,
			s.budgetsTable()),
		tierID, daily, perMinute, nextMidnightUTC(time.Now().UTC()),
	)
}

// CleanupIdempotency removes expired idempotency keys.
func (s *Store) CleanupIdempotency(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, s.idempotencyTable()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("summarizer/postgres: cleanup idempotency: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nextMidnightUTC(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
