package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/outbox"
	"github.com/partyconnect/engage-backend/pkg/outbox/payloads"
)

func TestResolveDecodesPointsAwarded(t *testing.T) {
	reg := newTestEventRegistry(t)
	userID := uuid.New()
	data, err := json.Marshal(payloads.PointsAwardedEvent{
		UserID:       userID,
		EntryID:      42,
		ActivityType: enums.ActivityShare,
		Points:       10,
		NewBalance:   30,
	})
	require.NoError(t, err)

	resolved, err := reg.Resolve(outboxRow(t, enums.EventPointsAwarded, userID, 1, data))
	require.NoError(t, err)
	require.Equal(t, "points-topic", resolved.Route.Topic)
	require.NotEmpty(t, resolved.Envelope.EventID)

	payload, ok := resolved.Payload.(*payloads.PointsAwardedEvent)
	require.True(t, ok, "unexpected payload type %T", resolved.Payload)
	require.Equal(t, int64(42), int64(payload.EntryID))
	require.Equal(t, userID, payload.UserID)
}

func TestResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event type": outboxRow(t, enums.OutboxEventType("user_deleted"), uuid.New(), 1, []byte(`{}`)),
		"missing aggregate":  outboxRow(t, enums.EventPointsAwarded, uuid.Nil, 1, []byte(`{}`)),
		"null data":          outboxRow(t, enums.EventBalanceRepaired, uuid.New(), 1, []byte(`null`)),
		"unknown version":    outboxRow(t, enums.EventReferralApplied, uuid.New(), 7, []byte(`{}`)),
		"garbled envelope": {
			EventType:     enums.EventPointsAwarded,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"eventId":`),
		},
	}
	mismatch := outboxRow(t, enums.EventReferralApplied, uuid.New(), 1, []byte(`{}`))
	mismatch.AggregateType = enums.OutboxAggregateType("poster")
	cases["aggregate mismatch"] = mismatch

	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(row)
			require.Error(t, err)
			require.True(t, IsNonRetryable(err), "expected non-retryable, got %v", err)
		})
	}
}

func TestEventRegistryTopics(t *testing.T) {
	reg := newTestEventRegistry(t)
	require.Equal(t, []string{"points-topic"}, reg.Topics())
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	require.Error(t, err)
}

func TestNonRetryableErrorUnwraps(t *testing.T) {
	require.Equal(t, "non-retryable error", NonRetryableError{}.Error())
	require.False(t, IsNonRetryable(nil))
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{PointsTopic: "points-topic"})
	require.NoError(t, err)
	return reg
}

func outboxRow(t *testing.T, eventType enums.OutboxEventType, aggregateID uuid.UUID, version int, data []byte) models.OutboxEvent {
	t.Helper()
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateUser,
		AggregateID:   aggregateID,
		Payload:       envelope,
	}
}
