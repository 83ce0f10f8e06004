package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
	"github.com/angelmondragon/picknest-core/pkg/redis"
)

const redisLockScope = "engine"

// RedisLocker implements Locker with SETNX + TTL per key so instances sharing
// one database also share lock ownership.
type RedisLocker struct {
	store redis.LockStore
	ttl   time.Duration
	wait  time.Duration
	poll  time.Duration
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(store redis.LockStore, ttl, wait, poll time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis store required for locker")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if wait <= 0 {
		return nil, errors.New("lock wait must be positive")
	}
	if poll <= 0 {
		poll = 25 * time.Millisecond
	}
	return &RedisLocker{store: store, ttl: ttl, wait: wait, poll: poll}, nil
}

// Lock acquires keys in the given order, polling each until the wait elapses.
func (l *RedisLocker) Lock(ctx context.Context, keys []string) (Lease, error) {
	keys = dedupe(keys)
	owner := uuid.NewString()
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		storeKey := l.store.LockKey(redisLockScope, key)
		if err := l.acquire(waitCtx, storeKey, owner); err != nil {
			_ = l.releaseAll(context.WithoutCancel(ctx), held, owner)
			if waitExceeded(ctx, waitCtx) {
				return nil, timeoutError(key, l.wait)
			}
			return nil, err
		}
		held = append(held, storeKey)
	}

	return newLease(func(releaseCtx context.Context) error {
		return l.releaseAll(releaseCtx, held, owner)
	}), nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, owner string) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire redis lock")
		}
		if ok {
			return nil
		}
		timer.Reset(l.poll)
	}
}

// releaseAll deletes only the keys this owner still holds, newest first.
func (l *RedisLocker) releaseAll(ctx context.Context, keys []string, owner string) error {
	var firstErr error
	for i := len(keys) - 1; i >= 0; i-- {
		if _, err := l.store.DeleteIfValue(ctx, keys[i], owner); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release lock %s: %w", keys[i], err)
		}
	}
	return firstErr
}
