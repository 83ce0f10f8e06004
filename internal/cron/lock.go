package cron

import (
	"context"
	"errors"
	"sync"

	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
	"github.com/angelmondragon/picknest-core/pkg/locks"
)

// DefaultLockKey is the key every cron worker competes for.
const DefaultLockKey = "cron:cycle"

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// CycleLock turns a keyed locker into a try-once cycle lock: losing the race
// for the key means another worker owns this cycle.
type CycleLock struct {
	locker locks.Locker
	key    string

	mu    sync.Mutex
	lease locks.Lease
}

// NewCycleLock builds a cycle lock on key.
func NewCycleLock(locker locks.Locker, key string) (*CycleLock, error) {
	if locker == nil {
		return nil, errors.New("locker required for cron lock")
	}
	if key == "" {
		key = DefaultLockKey
	}
	return &CycleLock{locker: locker, key: key}, nil
}

// Acquire reports false without error when another holder owns the key.
func (l *CycleLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lease != nil {
		return false, nil
	}
	lease, err := l.locker.Lock(ctx, []string{l.key})
	if pkgerrors.IsCode(err, pkgerrors.CodeLockTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	l.lease = lease
	return true, nil
}

// Release frees the key if this lock holds it.
func (l *CycleLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lease == nil {
		return nil
	}
	err := l.lease.Release(ctx)
	l.lease = nil
	return err
}
