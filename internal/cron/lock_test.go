package cron

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryLockStore struct {
	values map[string]string
	ttl    time.Duration
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttl = ttl
	return true, nil
}

func (m *memoryLockStore) Get(_ context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryLockStore) DelIfValue(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockExclusive(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	ctx := context.Background()
	first, err := NewRedisLock(store, "engage:lock:cron", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, "engage:lock:cron", 0)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if store.ttl != defaultLockTTL {
		t.Fatalf("expected default ttl %s, got %s", defaultLockTTL, store.ttl)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second instance should not acquire a held lock")
	}
	// releasing a lock it never held must not free the first holder's key
	if err := second.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, ok := store.values["engage:lock:cron"]; !ok {
		t.Fatal("lock freed by non-owner")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("expected lock to be free after release")
	}
}

func TestRedisLockReleaseAfterTakeover(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	ctx := context.Background()
	lock, _ := NewRedisLock(store, "k", time.Minute)

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	// simulate TTL expiry and another instance taking the key
	store.values["k"] = "someone-else"
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["k"] != "someone-else" {
		t.Fatal("release deleted another owner's lock")
	}
}

func TestRedisLockReportsHolder(t *testing.T) {
	t.Setenv("ENGAGE_INSTANCE_ID", "cron.1")
	store := &memoryLockStore{values: map[string]string{}}
	ctx := context.Background()
	lock, _ := NewRedisLock(store, "k", time.Minute)

	if holder, err := lock.Holder(ctx); err != nil || holder != "" {
		t.Fatalf("expected free lock, got %q err=%v", holder, err)
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	if holder, err := lock.Holder(ctx); err != nil || holder != "cron.1" {
		t.Fatalf("expected holder cron.1, got %q err=%v", holder, err)
	}
}

func TestRedisLockReleaseIsIdempotent(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	ctx := context.Background()
	lock, _ := NewRedisLock(store, "k", time.Minute)

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	other, _ := NewRedisLock(store, "k", time.Minute)
	if ok, _ := other.Acquire(ctx); !ok {
		t.Fatal("other acquire failed")
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, ok := store.values["k"]; !ok {
		t.Fatal("stale release freed the new holder's lock")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := NewRedisLock(&memoryLockStore{values: map[string]string{}}, "", 0); err == nil {
		t.Fatal("expected error without key")
	}
}
