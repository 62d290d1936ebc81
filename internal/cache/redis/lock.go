package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// releaseLua deletes the lock only while it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua pushes the lock's expiry out by ARGV[2] milliseconds while it
// still holds the caller's token.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// minRenewInterval bounds how often a held lock is renewed.
const minRenewInterval = 100 * time.Millisecond

// LockManager implements domain.LockManager with SET NX locks. A strategy
// run can take longer than its TTL when the broker is slow, so a held lock
// is renewed in the background until it is released.
type LockManager struct {
	c       *Client
	release *redis.Script
	renew   *redis.Script
	logger  *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		c:       c,
		release: redis.NewScript(releaseLua),
		renew:   redis.NewScript(renewLua),
		logger:  logger.With(slog.String("component", "redis_lock")),
	}
}

// renewInterval is how often a lock with the given TTL is renewed.
func renewInterval(ttl time.Duration) time.Duration {
	return max(ttl/3, minRenewInterval)
}

// Acquire obtains the lock for key for ttl and keeps renewing it until the
// returned unlock func is called. It returns domain.ErrLockHeld when another
// holder has the lock. unlock is safe to call more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, domain.NewValidationError("ttl", "lock ttl must be positive")
	}
	token := uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lm.release.Run(releaseCtx, lm.c.rdb, []string{lk}, token).Err(); err != nil {
				lm.logger.Warn("redis_lock: release failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	return unlock, nil
}

// keepAlive renews the lock until stop is closed or the token is lost.
func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(renewInterval(ttl))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl)
			n, err := lm.renew.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				lm.logger.Warn("redis_lock: renew failed", slog.String("key", lk), slog.String("error", err.Error()))
			case n == 0:
				lm.logger.Warn("redis_lock: lock lost before release", slog.String("key", lk))
				return
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
