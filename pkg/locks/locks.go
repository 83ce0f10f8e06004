// Package locks provides keyed exclusive locks acquired in caller order with a
// bounded wait. Callers are expected to pass keys in a globally consistent
// order (items ascending, then the order) so two holders never deadlock.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
)

// Lease is a held set of keys.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires every key or none of them.
type Locker interface {
	Lock(ctx context.Context, keys []string) (Lease, error)
}

// ItemKey names the lock guarding a catalog item.
func ItemKey(id string) string {
	return "item:" + id
}

// OrderKey names the lock guarding an order.
func OrderKey(id string) string {
	return "order:" + id
}

func timeoutError(key string, wait time.Duration) error {
	return pkgerrors.New(pkgerrors.CodeLockTimeout, "timed out waiting for lock").
		WithDetails(map[string]any{"key": key, "wait_ms": wait.Milliseconds()})
}

// dedupe keeps the first occurrence of each key and preserves order.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

type lease struct {
	once    sync.Once
	release func(ctx context.Context) error
	err     error
}

func (l *lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.release(ctx)
	})
	return l.err
}

func newLease(fn func(ctx context.Context) error) *lease {
	return &lease{release: fn}
}

// waitExceeded reports whether ctx ended because of the lock wait deadline
// rather than cancellation by the caller.
func waitExceeded(parent, waitCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded)
}
