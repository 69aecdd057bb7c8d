// Package runlock guards the load, reconcile and save cycle of one state
// document with a Redis lease so overlapping schedules cannot interleave.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrHeld reports that another pass owns the lock.
var ErrHeld = errors.New("run lock held by another pass")

const keyPrefix = "stockmon:lock:"

// releaseScript deletes the key only while it still carries our token, so an
// expired lease never releases a successor's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of redis.Cmdable the lock needs.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// ReleaseFunc releases an acquired lock.
type ReleaseFunc func(ctx context.Context) error

// Locker acquires leases in Redis.
type Locker struct {
	client Client
	logger *zap.Logger
}

// New creates a Locker.
func New(client Client, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{client: client, logger: logger.Named("runlock")}
}

// Acquire takes the lease for key with the given ttl. It returns ErrHeld when
// another holder owns it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	token := uuid.NewString()
	fullKey := keyPrefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	l.logger.Debug("lock acquired", zap.String("key", fullKey), zap.Duration("ttl", ttl))

	return func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{fullKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		if n == 0 {
			l.logger.Warn("lock expired before release", zap.String("key", fullKey))
		}
		return nil
	}, nil
}
