// Package idempotency lets event consumers skip redeliveries of an outbox
// event they already handled.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/partyconnect/engage-backend/pkg/redis"
)

const (
	markerProcessing = "processing"
	markerDone       = "done"

	// defaultClaimTTL bounds how long a crashed handler can hold an event.
	defaultClaimTTL = 2 * time.Minute
)

// Claim is the outcome of Guard.Claim.
type Claim int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed Claim = iota
	// InFlight means another delivery holds the event right now.
	InFlight
	// Processed means the event was already handled.
	Processed
)

// Manager hands out per-consumer guards over one Redis store. Keys look like
// engage:idempotency:evt:<consumer>:<event_id>.
type Manager struct {
	store    redis.IdempotencyStore
	ttl      time.Duration
	claimTTL time.Duration
}

// NewManager keeps processed markers for ttl. A zero ttl keeps them forever.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	claimTTL := defaultClaimTTL
	if ttl > 0 && ttl < claimTTL {
		claimTTL = ttl
	}
	return &Manager{store: store, ttl: ttl, claimTTL: claimTTL}, nil
}

// Guard scopes claims to one consumer; two consumers of the same event do
// not see each other's markers.
func (m *Manager) Guard(consumer string) (*Guard, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	return &Guard{manager: m, scope: "evt:" + consumer}, nil
}

// ParseEventID validates the envelope event id.
func ParseEventID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid event id %q: %w", raw, err)
	}
	return id, nil
}

type Guard struct {
	manager *Manager
	scope   string
}

// Claim marks the event as processing. Only a Claimed result lets the caller
// run its side effects.
func (g *Guard) Claim(ctx context.Context, eventID uuid.UUID) (Claim, error) {
	key, err := g.key(eventID)
	if err != nil {
		return 0, err
	}
	store := g.manager.store
	ok, err := store.SetNX(ctx, key, markerProcessing, g.manager.claimTTL)
	if err != nil {
		return 0, err
	}
	if ok {
		return Claimed, nil
	}
	marker, err := store.Get(ctx, key)
	if errors.Is(err, goredis.Nil) {
		// the holder released or its claim lapsed between the two calls
		return InFlight, nil
	}
	if err != nil {
		return 0, err
	}
	if marker == markerDone {
		return Processed, nil
	}
	return InFlight, nil
}

// Complete turns a claim into a processed marker held for the manager TTL.
func (g *Guard) Complete(ctx context.Context, eventID uuid.UUID) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.manager.store.Set(ctx, key, markerDone, g.manager.ttl)
}

// Release drops a claim so a redelivery can retry the event.
func (g *Guard) Release(ctx context.Context, eventID uuid.UUID) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.manager.store.Del(ctx, key)
}

func (g *Guard) key(eventID uuid.UUID) (string, error) {
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.manager.store.IdempotencyKey(g.scope, eventID.String()), nil
}
