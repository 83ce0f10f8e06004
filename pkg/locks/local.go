package locks

import (
	"context"
	"sync"
	"time"
)

// LocalLocker serializes holders of the same key within one process.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	wait    time.Duration
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker builds an in-process locker bounded by wait per Lock call.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		entries: make(map[string]*localEntry),
		wait:    wait,
	}
}

// Lock acquires keys in the given order. On timeout every key already taken
// is released and a LOCK_TIMEOUT error is returned.
func (l *LocalLocker) Lock(ctx context.Context, keys []string) (Lease, error) {
	keys = dedupe(keys)
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.acquire(waitCtx, key); err != nil {
			l.releaseAll(held)
			if waitExceeded(ctx, waitCtx) {
				return nil, timeoutError(key, l.wait)
			}
			return nil, err
		}
		held = append(held, key)
	}

	return newLease(func(context.Context) error {
		l.releaseAll(held)
		return nil
	}), nil
}

func (l *LocalLocker) acquire(ctx context.Context, key string) error {
	entry := l.ref(key)
	select {
	case entry.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key)
		return ctx.Err()
	}
}

func (l *LocalLocker) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		entry := l.entries[keys[i]]
		l.mu.Unlock()
		if entry == nil {
			continue
		}
		<-entry.sem
		l.unref(keys[i])
	}
}

func (l *LocalLocker) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, key)
	}
}

// size reports the number of tracked keys.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
