package lease

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestNewRedisDefaults(t *testing.T) {
	t.Parallel()

	r := NewRedis(nil, RedisOptions{}, zerolog.Nop())
	if r.opts.TTL != DefaultRedisTTL || r.opts.RetryDelay != DefaultRetryDelay {
		t.Fatalf("unexpected defaults %+v", r.opts)
	}
	if r.opts.RenewEvery != DefaultRedisTTL/3 {
		t.Fatalf("renew interval = %s, want %s", r.opts.RenewEvery, DefaultRedisTTL/3)
	}

	r = NewRedis(nil, RedisOptions{TTL: time.Second, RenewEvery: 2 * time.Second}, zerolog.Nop())
	if r.opts.RenewEvery >= r.opts.TTL {
		t.Fatalf("renew interval %s must stay below ttl %s", r.opts.RenewEvery, r.opts.TTL)
	}
}

// Runs against a live server when DRONEWATCH_TEST_REDIS_ADDR is set.
func TestRedisLeaseOutlivesTTLWhileHeld(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("DRONEWATCH_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("DRONEWATCH_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	opts := RedisOptions{TTL: 300 * time.Millisecond, RetryDelay: 10 * time.Millisecond, RenewEvery: 50 * time.Millisecond}
	holder := NewRedis(client, opts, zerolog.Nop())
	other := NewRedis(client, opts, zerolog.Nop())

	key := "test:" + uuid.NewString()
	ctx := context.Background()
	t.Cleanup(func() { client.Del(ctx, redisKeyPrefix+key) })

	release, err := holder.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Well past the ttl; only renewal keeps the lease alive.
	time.Sleep(3 * opts.TTL)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := other.Acquire(waitCtx, key); err == nil {
		t.Fatalf("second holder acquired a lease that is still held")
	}

	release()
	release()
	if n, err := client.Exists(ctx, redisKeyPrefix+key).Result(); err != nil || n != 0 {
		t.Fatalf("lease key after release: exists=%d err=%v", n, err)
	}

	releaseOther, err := other.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	releaseOther()
}
