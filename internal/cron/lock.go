package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/partyconnect/engage-backend/pkg/instance"
)

// defaultLockTTL bounds how long a crashed holder can block other instances.
const defaultLockTTL = 30 * time.Minute

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
}

// holderReporter is implemented by locks that can name their current holder.
type holderReporter interface {
	Holder(ctx context.Context) (string, error)
}

// RedisLock is a single-key Redis lock. The stored value is an owner token
// "<instance>/<uuid>" minted per Acquire, and Release is a compare-and-delete
// on that token, so a holder whose TTL lapsed cannot free a successor's lock.
type RedisLock struct {
	store    lockStore
	key      string
	ttl      time.Duration
	instance string
	token    string
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl, instance: instance.GetID()}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := l.instance + "/" + uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

// Release is a no-op when this lock does not hold the key.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if _, err := l.store.DelIfValue(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

// Holder names the instance holding the lock, or "" when it is free.
func (l *RedisLock) Holder(ctx context.Context) (string, error) {
	token, err := l.store.Get(ctx, l.key)
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("read %s: %w", l.key, err)
	}
	holder, _, _ := strings.Cut(token, "/")
	return holder, nil
}
