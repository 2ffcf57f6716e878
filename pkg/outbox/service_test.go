package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/pkg/db/dbtest"
	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/outbox/payloads"
)

func TestEmitStoresEnvelopeInsideTransaction(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	userID := uuid.New()

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventPointsAwarded,
			AggregateType: enums.AggregateUser,
			AggregateID:   userID,
			Data:          payloads.PointsAwardedEvent{UserID: userID, Points: 5},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, client.DB().Find(&rows).Error)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, 1, envelope.Version)
	require.NotEmpty(t, envelope.EventID)

	var data payloads.PointsAwardedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	require.Equal(t, 5, data.Points)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventReferralApplied,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Data:          payloads.ReferralAppliedEvent{ReferralCode: "SPABC123"},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	valid := DomainEvent{
		EventType:     enums.EventBalanceRepaired,
		AggregateType: enums.AggregateUser,
		AggregateID:   uuid.New(),
		Data:          payloads.BalanceRepairedEvent{StoredPoints: 3, LedgerPoints: 5},
	}
	require.Error(t, svc.Emit(context.Background(), nil, valid), "missing transaction")

	cases := map[string]func(e *DomainEvent){
		"unknown event type": func(e *DomainEvent) { e.EventType = "unknown" },
		"unknown aggregate":  func(e *DomainEvent) { e.AggregateType = "poster" },
		"nil aggregate id":   func(e *DomainEvent) { e.AggregateID = uuid.Nil },
		"nil data":           func(e *DomainEvent) { e.Data = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := valid
			mutate(&event)
			require.Error(t, svc.Emit(context.Background(), client.DB(), event))
		})
	}

	var count int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEmitStampsOccurredAtFromClock(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	require.NoError(t, svc.Emit(context.Background(), client.DB(), DomainEvent{
		EventType:     enums.EventPointsAwarded,
		AggregateType: enums.AggregateUser,
		AggregateID:   uuid.New(),
		Data:          payloads.PointsAwardedEvent{Points: 1},
	}))

	var row models.OutboxEvent
	require.NoError(t, client.DB().First(&row).Error)
	require.True(t, row.CreatedAt.Equal(fixed), "created_at %v", row.CreatedAt)

	envelope, err := DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	require.True(t, envelope.OccurredAt.Equal(fixed))
}
