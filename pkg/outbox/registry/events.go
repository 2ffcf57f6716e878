package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/outbox"
)

// Route says where an event type is published and which aggregate owns it.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed validation, with its envelope
// and typed payload.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  interface{}
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err, or anything it wraps, is a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

// EventRegistry validates outbox rows before they leave the database. Payloads
// are decoded with the same versioned decoders consumers use, so a row that
// passes here is one every subscriber can read.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]Route
	decoders *DecoderRegistry
}

// NewEventRegistry routes every points event to the configured topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.PointsTopic == "" {
		return nil, fmt.Errorf("points topic is required")
	}
	reg := &EventRegistry{
		routes:   make(map[enums.OutboxEventType]Route),
		decoders: NewPointsDecoderRegistry(),
	}
	for _, eventType := range enums.OutboxEventTypes() {
		reg.routes[eventType] = Route{
			EventType:     eventType,
			AggregateType: enums.AggregateUser,
			Topic:         cfg.PointsTopic,
		}
	}
	return reg, nil
}

// Topics lists the distinct topics the registry publishes to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	var topics []string
	for _, route := range r.routes {
		if _, ok := seen[route.Topic]; ok {
			continue
		}
		seen[route.Topic] = struct{}{}
		topics = append(topics, route.Topic)
	}
	return topics
}

// Resolve checks the row's routing columns, then its envelope, then decodes
// the payload for the envelope's version. Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, err := r.route(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Route: route, Envelope: envelope, Payload: payload}, nil
}

func (r *EventRegistry) route(event models.OutboxEvent) (Route, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return Route{}, fmt.Errorf("unsupported event type %q", event.EventType)
	case route.AggregateType != event.AggregateType:
		return Route{}, fmt.Errorf("%s belongs to %s, row says %s", event.EventType, route.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return Route{}, fmt.Errorf("%s row has no aggregate id", event.EventType)
	}
	return route, nil
}
