// Package redis provides a Redis-backed TierBudget for summarizer.
//
// Tier budgets are stored in Redis hashes with atomic Lua scripts for
// Reserve/Commit/Rollback, so several exporter processes sharing one API key
// draw from the same daily and per-minute buckets.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/summarizer"
)

// Store is a Redis-backed TierBudget.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var (
	_ summarizer.TierBudget        = (*Store)(nil)
	_ summarizer.BudgetInitializer = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "summarizer:budget:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed TierBudget.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "summarizer:budget:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) tierKey(tierID string) string {
	return s.keyPrefix + tierID
}

func (s *Store) minuteKey(tierID string, minute int64) string {
	return s.keyPrefix + "rpm:" + tierID + ":" + strconv.FormatInt(minute, 10)
}

func (s *Store) idemKey(key string) string {
	return s.keyPrefix + "idem:" + key
}

// reserveScript is a Lua script for atomic reserve of one request.
// KEYS[1] = tier hash key
// KEYS[2] = idempotency key
// KEYS[3] = per-minute counter key
// ARGV[1] = now (unix seconds)
// ARGV[2] = next_midnight (unix seconds)
// ARGV[3] = has_idem ("1" or "0")
//
// Returns:
//
//	1  = reserved OK
//	0  = daily quota exceeded
//	-1 = duplicate idempotency key
//	-2 = tier not found (unlimited)
//	-3 = per-minute window full
var reserveScript = goredis.NewScript(`
local tier_key = KEYS[1]
local idem_key = KEYS[2]
local minute_key = KEYS[3]
local now = tonumber(ARGV[1])
local next_midnight = tonumber(ARGV[2])
local has_idem = ARGV[3]

-- Idempotency check
if has_idem == "1" then
    local set = redis.call("SET", idem_key, "1", "NX", "EX", 86400)
    if not set then
        return -1
    end
end

local daily_limit = redis.call("HGET", tier_key, "daily_limit")
if not daily_limit then
    return -2
end
daily_limit = tonumber(daily_limit)
local minute_limit = tonumber(redis.call("HGET", tier_key, "minute_limit") or "0")

-- Lazy daily reset
local reset_at = tonumber(redis.call("HGET", tier_key, "reset_at") or "0")
if now >= reset_at then
    redis.call("HSET", tier_key, "used", "0", "reserved", "0", "reset_at", tostring(next_midnight))
end

local used = tonumber(redis.call("HGET", tier_key, "used") or "0")
local reserved = tonumber(redis.call("HGET", tier_key, "reserved") or "0")

local function release_idem()
    if has_idem == "1" then
        redis.call("DEL", idem_key)
    end
end

if daily_limit > 0 and used + reserved >= daily_limit then
    release_idem()
    return 0
end

if minute_limit > 0 then
    local count = tonumber(redis.call("GET", minute_key) or "0")
    if count >= minute_limit then
        release_idem()
        return -3
    end
end

redis.call("HINCRBY", tier_key, "reserved", 1)
redis.call("INCR", minute_key)
redis.call("EXPIRE", minute_key, 120)
return 1
`)

// commitScript atomically moves one request from reserved to used.
// KEYS[1] = tier hash key
var commitScript = goredis.NewScript(`
local tier_key = KEYS[1]
if redis.call("EXISTS", tier_key) == 0 then
    return 1
end
if tonumber(redis.call("HGET", tier_key, "reserved") or "0") > 0 then
    redis.call("HINCRBY", tier_key, "reserved", -1)
end
redis.call("HINCRBY", tier_key, "used", 1)
return 1
`)

// rollbackScript atomically releases one reserved request.
// KEYS[1] = tier hash key
// KEYS[2] = per-minute counter key of the reservation
var rollbackScript = goredis.NewScript(`
local tier_key = KEYS[1]
local minute_key = KEYS[2]
if redis.call("EXISTS", tier_key) == 0 then
    return 1
end
if tonumber(redis.call("HGET", tier_key, "reserved") or "0") > 0 then
    redis.call("HINCRBY", tier_key, "reserved", -1)
end
if tonumber(redis.call("GET", minute_key) or "0") > 0 then
    redis.call("DECR", minute_key)
end
return 1
`)

// Reserve claims one request on a tier.
func (s *Store) Reserve(ctx context.Context, tierID string, idempotencyKey string) (summarizer.Reservation, error) {
	now := time.Now().UTC()
	minute := now.Unix() / 60

	hasIdem := "0"
	idemK := s.idemKey("_noop")
	if idempotencyKey != "" {
		hasIdem = "1"
		idemK = s.idemKey(idempotencyKey)
	}

	result, err := reserveScript.Run(ctx, s.client,
		[]string{s.tierKey(tierID), idemK, s.minuteKey(tierID, minute)},
		now.Unix(), nextMidnightUTC(now).Unix(), hasIdem,
	).Int64()
	if err != nil {
		return summarizer.Reservation{}, fmt.Errorf("summarizer/redis: reserve: %w", err)
	}

	switch result {
	case 1, -2:
		// -2: tier not configured, unlimited.
		return summarizer.Reservation{ID: uuid.New().String(), TierID: tierID, Minute: minute}, nil
	case 0:
		return summarizer.Reservation{}, summarizer.ErrQuotaExceeded
	case -1:
		return summarizer.Reservation{}, fmt.Errorf("summarizer: duplicate idempotency key %q", idempotencyKey)
	case -3:
		return summarizer.Reservation{}, summarizer.ErrRateLimited
	default:
		return summarizer.Reservation{}, fmt.Errorf("summarizer/redis: unexpected reserve result: %d", result)
	}
}

// Commit counts a reserved request as used.
func (s *Store) Commit(ctx context.Context, res summarizer.Reservation) error {
	_, err := commitScript.Run(ctx, s.client, []string{s.tierKey(res.TierID)}).Result()
	if err != nil {
		return fmt.Errorf("summarizer/redis: commit: %w", err)
	}
	return nil
}

// Rollback releases a reservation that was not used.
func (s *Store) Rollback(ctx context.Context, res summarizer.Reservation) error {
	_, err := rollbackScript.Run(ctx, s.client,
		[]string{s.tierKey(res.TierID), s.minuteKey(res.TierID, res.Minute)},
	).Result()
	if err != nil {
		return fmt.Errorf("summarizer/redis: rollback: %w", err)
	}
	return nil
}

// Remaining returns the remaining daily requests for a tier.
func (s *Store) Remaining(ctx context.Context, tierID string) (int64, error) {
	vals, err := s.client.HMGet(ctx, s.tierKey(tierID), "daily_limit", "used", "reserved", "reset_at").Result()
	if err != nil {
		return 0, fmt.Errorf("summarizer/redis: remaining: %w", err)
	}

	// Tier not found.
	if vals[0] == nil {
		return 0, nil
	}

	dailyLimit := parseField(vals[0])
	used := parseField(vals[1])
	reserved := parseField(vals[2])
	resetAt := parseField(vals[3])

	// Lazy reset check (read-only, don't write).
	if time.Now().UTC().Unix() >= resetAt {
		used = 0
		reserved = 0
	}

	available := dailyLimit - used - reserved
	if available < 0 {
		return 0, nil
	}
	return available, nil
}

// SetLimits configures the daily and per-minute limits for a tier, keeping
// current usage if the tier already exists.
func (s *Store) SetLimits(tierID string, daily, perMinute int64) {
	ctx := context.Background()
	key := s.tierKey(tierID)

	exists, _ := s.client.Exists(ctx, key).Result()
	if exists == 0 {
		s.client.HSet(ctx, key,
			"daily_limit", daily,
			"minute_limit", perMinute,
			"used", 0,
			"reserved", 0,
			"reset_at", nextMidnightUTC(time.Now().UTC()).Unix(),
		)
		return
	}
	s.client.HSet(ctx, key,
		"daily_limit", daily,
		"minute_limit", perMinute,
	)
}

func parseField(v any) int64 {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(str, 10, 64)
	return n
}

func nextMidnightUTC(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
