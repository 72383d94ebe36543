package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// TokenBucket keeps one bucket per client key in process memory, so it
// limits each client the same way RedisLimiter does on a single replica.
// Idle buckets are dropped once they would be full again.
type TokenBucket struct {
	rps       int
	burst     int
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

const sweepInterval = time.Minute

func NewTokenBucket(rps, burst int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = rps
	}
	return &TokenBucket{rps: rps, burst: burst, buckets: make(map[string]*bucket), lastSweep: time.Now(), now: time.Now}
}

func (b *TokenBucket) Allow(_ context.Context, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.sweep(now)

	bk, ok := b.buckets[key]
	if !ok {
		bk = &bucket{tokens: b.burst, last: now}
		b.buckets[key] = bk
	}
	add := int(now.Sub(bk.last).Seconds() * float64(b.rps))
	if add > 0 {
		bk.tokens += add
		if bk.tokens > b.burst {
			bk.tokens = b.burst
		}
		bk.last = now
	}
	if bk.tokens <= 0 {
		return false
	}
	bk.tokens--
	return true
}

// refillTime is how long an empty bucket takes to fill up.
func (b *TokenBucket) refillTime() time.Duration {
	return time.Duration(float64(b.burst)/float64(b.rps)*float64(time.Second)) + time.Second
}

func (b *TokenBucket) sweep(now time.Time) {
	if now.Sub(b.lastSweep) < sweepInterval {
		return
	}
	b.lastSweep = now
	idle := b.refillTime()
	for key, bk := range b.buckets {
		if now.Sub(bk.last) > idle {
			delete(b.buckets, key)
		}
	}
}

// RedisLimiter counts requests per client in fixed one-second windows shared
// by every gateway replica. Redis errors fail open.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, limit int) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: time.Second, prefix: "frottis:ratelimit", now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	slot := l.now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, 2*l.window)
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Rate limiter unavailable, allowing request")
		return true
	}
	return incr.Val() <= int64(l.limit)
}
