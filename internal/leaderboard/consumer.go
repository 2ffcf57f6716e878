package leaderboard

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/outbox"
	"github.com/partyconnect/engage-backend/pkg/outbox/idempotency"
	"github.com/partyconnect/engage-backend/pkg/outbox/registry"
)

const cacheConsumerName = "leaderboard-cache"

type invalidator interface {
	Invalidate(ctx context.Context) error
}

// Consumer drops the cached leaderboard whenever a points event arrives.
type Consumer struct {
	cache        invalidator
	subscription *pubsub.Subscriber
	guard        *idempotency.Guard
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// NewConsumer builds a leaderboard cache consumer.
func NewConsumer(cache invalidator, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if cache == nil {
		return nil, fmt.Errorf("leaderboard cache required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("points subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	guard, err := manager.Guard(cacheConsumerName)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		cache:        cache,
		subscription: subscription,
		guard:        guard,
		decoders:     registry.NewPointsDecoderRegistry(),
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg.ID, msg.Attributes[outbox.AttrEventType], msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// handle reports whether the message should be acked.
func (c *Consumer) handle(ctx context.Context, messageID, eventType string, data []byte) bool {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	parsedType, err := enums.ParseOutboxEventType(eventType)
	if err != nil {
		c.logg.Info(logCtx, "skipping unknown event")
		return true
	}
	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return true
	}
	if _, err := c.decoders.Decode(parsedType, envelope.Version, envelope.Data); err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return true
	}

	eventID, err := idempotency.ParseEventID(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return true
	}
	claim, err := c.guard.Claim(ctx, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	switch claim {
	case idempotency.Processed:
		c.logg.Debug(logCtx, "event already processed")
		return true
	case idempotency.InFlight:
		c.logg.Debug(logCtx, "event in flight elsewhere")
		return false
	}

	if err := c.cache.Invalidate(ctx); err != nil {
		c.logg.Error(logCtx, "leaderboard invalidation failed", err)
		if relErr := c.guard.Release(ctx, eventID); relErr != nil {
			c.logg.Error(logCtx, "idempotency release failed", relErr)
		}
		return false
	}
	if err := c.guard.Complete(ctx, eventID); err != nil {
		// the claim lapses on its own; a redelivery only invalidates again
		c.logg.Error(logCtx, "idempotency complete failed", err)
	}
	c.logg.Debug(logCtx, "leaderboard cache invalidated")
	return true
}
