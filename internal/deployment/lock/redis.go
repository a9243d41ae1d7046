package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL          = 30 * time.Second
	defaultRetryBackoff = 50 * time.Millisecond
	keyPrefix           = "customjwt:lock:"
)

// releaseScript deletes the key only while it still holds our token, so a lock that expired and
// was taken by another holder is never released by the old one.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ Locker = (*Redis)(nil)

// Redis is a lock shared by every process using the same Redis instance.
type Redis struct {
	client  redis.UniversalClient
	ttl     time.Duration
	backoff time.Duration
	logger  *slog.Logger
}

// RedisOption configures a Redis lock.
type RedisOption func(*Redis)

// WithTTL bounds how long a crashed holder can keep the lock. A live holder renews the lease
// every third of the TTL until it releases.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRetryBackoff sets the delay between acquisition attempts.
func WithRetryBackoff(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// WithLogHandler sets the log handler.
func WithLogHandler(h slog.Handler) RedisOption {
	return func(r *Redis) {
		r.logger = slog.New(h)
	}
}

// NewRedis returns a lock backed by client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		ttl:     defaultTTL,
		backoff: defaultRetryBackoff,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithGroup("lock")
	return r
}

// Lock polls SET NX until it succeeds or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.Must(uuid.NewV4()).String()

	ticker := time.NewTicker(r.backoff)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		r.renew(stop, redisKey, token)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed

			// The caller's context may already be done; release on a short context of our own.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("Failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

// renew extends the lease until stop is closed or the lease is found to belong to someone else.
func (r *Redis) renew(stop <-chan struct{}, redisKey, token string) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
		n, err := renewScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			r.logger.Warn("Failed to renew lock", "key", redisKey, "error", err)
		case n == 0:
			r.logger.Error("Lock lease lost before release", "key", redisKey)
			return
		}
	}
}
