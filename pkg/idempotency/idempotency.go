package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/picknest-core/pkg/redis"
)

// Manager claims caller-supplied idempotency keys using Redis SETNX with a TTL.
// Keys follow the `pn:idempotency:cmd:<operation>:<actor>:<key>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds an idempotency guard that holds claimed keys for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// Claim returns true when the key was free and is now owned by the caller.
// A false result means the same command already ran (or is running).
func (m *Manager) Claim(ctx context.Context, operation, actor, key string) (bool, error) {
	storeKey, err := m.commandKey(operation, actor, key)
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, storeKey, "1", m.ttl)
}

// Release frees a claimed key so a failed command can be retried with it.
func (m *Manager) Release(ctx context.Context, operation, actor, key string) error {
	storeKey, err := m.commandKey(operation, actor, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, storeKey)
}

func (m *Manager) commandKey(operation, actor, key string) (string, error) {
	if operation == "" {
		return "", errors.New("operation name is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("idempotency key is required")
	}
	scope := "cmd:" + operation
	if actor != "" {
		scope += ":" + actor
	}
	return m.store.IdempotencyKey(scope, key), nil
}
