package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/summarizer"
	"github.com/ineyio/summarizer/quota"
	budgetpg "github.com/ineyio/summarizer/quota/postgres"
	budgetredis "github.com/ineyio/summarizer/quota/redis"
)

// Budget backends accepted by --budget.
const (
	budgetMemory   = "memory"
	budgetRedis    = "redis"
	budgetPostgres = "postgres"
)

// openBudget builds the TierBudget named by kind. The returned close func is never nil.
func openBudget(ctx context.Context, kind, redisAddr, databaseURL string) (summarizer.TierBudget, func(), error) {
	switch kind {
	case "", budgetMemory:
		return quota.NewMemoryBudget(), func() {}, nil

	case budgetRedis:
		client := goredis.NewClient(&goredis.Options{Addr: redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", redisAddr, err)
		}
		return budgetredis.New(client), func() { client.Close() }, nil

	case budgetPostgres:
		if databaseURL == "" {
			return nil, nil, fmt.Errorf("--database-url is required for the postgres budget")
		}
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := budgetpg.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown budget %q (want memory, redis or postgres)", kind)
	}
}
