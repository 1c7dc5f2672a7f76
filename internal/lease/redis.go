package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultRedisTTL   = 5 * time.Second
	DefaultRetryDelay = 25 * time.Millisecond
	redisKeyPrefix    = "dronewatch:lease:"
)

// releaseScript deletes the lease only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if this holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisOptions tune the lease. A held lease is extended every RenewEvery
// (TTL/3 by default), so TTL only bounds how long a crashed holder blocks
// others.
type RedisOptions struct {
	TTL        time.Duration
	RetryDelay time.Duration
	RenewEvery time.Duration
}

// Redis leases keys across processes with SET NX PX. Each process still
// funnels its own goroutines through a Local first so only one of them polls
// Redis per key.
type Redis struct {
	client redis.UniversalClient
	local  *Local
	opts   RedisOptions
	logger zerolog.Logger
}

func NewRedis(client redis.UniversalClient, opts RedisOptions, logger zerolog.Logger) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = DefaultRedisTTL
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = max(opts.TTL/3, time.Millisecond)
	}
	return &Redis{client: client, local: NewLocal(), opts: opts, logger: logger}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := r.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := redisKeyPrefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.opts.RetryDelay)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.opts.TTL).Result()
		if err != nil {
			releaseLocal()
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			releaseLocal()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		r.keepAlive(redisKey, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
				r.logger.Warn().Err(err).Str("lease_key", key).Msg("release lease failed; it will expire")
			}
			releaseLocal()
		})
	}, nil
}

// keepAlive extends the lease until stop is closed. It gives up once the
// lease is gone, which means another holder may be writing the same region.
func (r *Redis) keepAlive(redisKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.opts.RenewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.RenewEvery)
		extended, err := renewScript.Run(ctx, r.client, []string{redisKey}, token, r.opts.TTL.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil && err != redis.Nil:
			r.logger.Warn().Err(err).Str("lease_key", redisKey).Msg("renew lease failed; retrying")
		case extended == 0:
			r.logger.Error().Str("lease_key", redisKey).Msg("lease lost before release")
			return
		}
	}
}
