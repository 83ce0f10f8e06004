package cron

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/picknest-core/pkg/locks"
)

func TestCycleLockSingleHolder(t *testing.T) {
	locker := locks.NewLocalLocker(20 * time.Millisecond)
	first, err := NewCycleLock(locker, "")
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, err := NewCycleLock(locker, DefaultLockKey)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = first.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("re-acquire while held: ok=%v err=%v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("contended acquire should lose quietly: ok=%v err=%v", ok, err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	_ = second.Release(ctx)
}

func TestNewCycleLockRequiresLocker(t *testing.T) {
	if _, err := NewCycleLock(nil, ""); err == nil {
		t.Fatal("expected error for nil locker")
	}
}
