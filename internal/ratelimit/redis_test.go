package ratelimit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTest connects to the instance named by REDIS_URL. If the variable is
// not set, the test is skipped.
func redisTest(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("connect to redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLimiter_MatchesLocalDecisions(t *testing.T) {
	ctx := context.Background()
	rdb := redisTest(t)

	local := NewLocalLimiter()
	t.Cleanup(local.Stop)
	remote := NewRedisLimiter(rdb)

	key := fmt.Sprintf("tn_eq_%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = rdb.Del(context.Background(), "ratelimit:"+key).Err() })

	// Replay one burst through both backends: limit 5, eight requests in a
	// minute-long window. The arithmetic must agree decision by decision,
	// including the denied attempts holding window slots.
	const limit = 5
	for i := 0; i < 8; i++ {
		ld, err := local.Allow(ctx, key, limit, time.Minute)
		if err != nil {
			t.Fatalf("local allow %d: %v", i, err)
		}
		rd, err := remote.Allow(ctx, key, limit, time.Minute)
		if err != nil {
			t.Fatalf("redis allow %d: %v", i, err)
		}
		if ld.Allowed != rd.Allowed || ld.Remaining != rd.Remaining || ld.Current != rd.Current {
			t.Fatalf("request %d: local allowed=%v remaining=%d current=%d, redis allowed=%v remaining=%d current=%d",
				i, ld.Allowed, ld.Remaining, ld.Current, rd.Allowed, rd.Remaining, rd.Current)
		}
		if wantAllowed := i < limit; ld.Allowed != wantAllowed {
			t.Fatalf("request %d: expected allowed=%v, got %v", i, wantAllowed, ld.Allowed)
		}
	}
}
