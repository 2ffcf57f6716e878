package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/pkg/db/models"
)

// CurrentEnvelopeVersion is stamped on events whose DomainEvent leaves
// Version unset.
const CurrentEnvelopeVersion = 1

// Pub/Sub attribute keys set on every published outbox message.
const (
	AttrEventID       = "event_id"
	AttrEventType     = "event_type"
	AttrAggregateType = "aggregate_type"
	AttrAggregateID   = "aggregate_id"
	AttrCreatedAt     = "created_at"
)

var (
	errMissingEventID = errors.New("envelope event id missing")
	errMissingData    = errors.New("envelope data missing")
)

// ActorRef identifies the member whose action produced the event.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload_json and sent
// unchanged as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(event DomainEvent) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	version := event.Version
	if version == 0 {
		version = CurrentEnvelopeVersion
	}
	return PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}, nil
}

// DecodeEnvelope parses a stored or delivered payload and rejects envelopes
// that carry no event id or no data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.EventID == "" {
		return PayloadEnvelope{}, errMissingEventID
	}
	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return PayloadEnvelope{}, errMissingData
	}
	if envelope.Version <= 0 {
		envelope.Version = CurrentEnvelopeVersion
	}
	return envelope, nil
}

// MessageAttributes lists the routing attributes for a stored event.
func MessageAttributes(event models.OutboxEvent, eventID string) map[string]string {
	return map[string]string{
		AttrEventID:       eventID,
		AttrEventType:     string(event.EventType),
		AttrAggregateType: string(event.AggregateType),
		AttrAggregateID:   event.AggregateID.String(),
		AttrCreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
