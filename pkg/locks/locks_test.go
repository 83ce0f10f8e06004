package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	ctx := context.Background()

	first, err := locker.Lock(ctx, []string{ItemKey("a"), OrderKey("o")})
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := locker.Lock(ctx, []string{ItemKey("a")})
		if err == nil {
			close(acquired)
			_ = second.Release(ctx)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Release(ctx))
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the key")
	}
}

func TestLocalLockerTimesOutAndReleasesPartialSet(t *testing.T) {
	locker := NewLocalLocker(30 * time.Millisecond)
	ctx := context.Background()

	blocker, err := locker.Lock(ctx, []string{OrderKey("o")})
	require.NoError(t, err)

	_, err = locker.Lock(ctx, []string{ItemKey("a"), OrderKey("o")})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeLockTimeout, pkgerrors.CodeOf(err))
	assert.True(t, pkgerrors.As(err).Retryable())

	// item:a must have been released when the order key timed out
	other, err := locker.Lock(ctx, []string{ItemKey("a")})
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))
	require.NoError(t, blocker.Release(ctx))
	assert.Equal(t, 0, locker.size())
}

func TestLocalLockerParentCancellation(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	blocker, err := locker.Lock(context.Background(), []string{"k"})
	require.NoError(t, err)
	defer func() { _ = blocker.Release(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Lock(ctx, []string{"k"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLocalLockerDuplicateKeysAndDoubleRelease(t *testing.T) {
	locker := NewLocalLocker(100 * time.Millisecond)
	ctx := context.Background()
	lease, err := locker.Lock(ctx, []string{"k", "k", ""})
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))

	again, err := locker.Lock(ctx, []string{"k"})
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLockerConcurrentCounter(t *testing.T) {
	locker := NewLocalLocker(5 * time.Second)
	ctx := context.Background()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := locker.Lock(ctx, []string{ItemKey("shared")})
			if err != nil {
				return
			}
			counter++
			_ = lease.Release(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
}

func TestRedisLockerAcquireAndRelease(t *testing.T) {
	store := newFakeLockStore()
	locker, err := NewRedisLocker(store, time.Minute, 100*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	lease, err := locker.Lock(ctx, []string{ItemKey("a"), OrderKey("o")})
	require.NoError(t, err)
	assert.Len(t, store.snapshot(), 2)
	assert.Contains(t, store.snapshot(), "pn:lock:engine:item:a")

	require.NoError(t, lease.Release(ctx))
	assert.Empty(t, store.snapshot())
}

func TestRedisLockerTimeout(t *testing.T) {
	store := newFakeLockStore()
	store.values["pn:lock:engine:order:o"] = "someone-else"
	locker, err := NewRedisLocker(store, time.Minute, 30*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)

	_, err = locker.Lock(context.Background(), []string{ItemKey("a"), OrderKey("o")})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLockTimeout))
	assert.Equal(t, map[string]string{"pn:lock:engine:order:o": "someone-else"}, store.snapshot())
}

func TestRedisLockerReleaseSkipsForeignOwner(t *testing.T) {
	store := newFakeLockStore()
	locker, err := NewRedisLocker(store, time.Minute, 50*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	lease, err := locker.Lock(ctx, []string{"k"})
	require.NoError(t, err)
	// expired and taken over by another instance
	store.set("pn:lock:engine:k", "other")
	require.NoError(t, lease.Release(ctx))
	assert.Equal(t, "other", store.snapshot()["pn:lock:engine:k"])
}

func TestRedisLockerStoreFailure(t *testing.T) {
	store := newFakeLockStore()
	store.setErr = errors.New("connection refused")
	locker, err := NewRedisLocker(store, time.Minute, 50*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)

	_, err = locker.Lock(context.Background(), []string{"k"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

func TestNewRedisLockerValidation(t *testing.T) {
	_, err := NewRedisLocker(nil, time.Second, time.Second, 0)
	require.Error(t, err)
	_, err = NewRedisLocker(newFakeLockStore(), 0, time.Second, 0)
	require.Error(t, err)
	_, err = NewRedisLocker(newFakeLockStore(), time.Second, 0, 0)
	require.Error(t, err)
}

type fakeLockStore struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{values: make(map[string]string)}
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeLockStore) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, ok := f.values[key]; ok && current == value {
		delete(f.values, key)
		return true, nil
	}
	return false, nil
}

func (f *fakeLockStore) LockKey(scope, id string) string {
	return "pn:lock:" + scope + ":" + id
}

func (f *fakeLockStore) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
}

func (f *fakeLockStore) snapshot() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}
