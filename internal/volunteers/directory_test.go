package volunteers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/partyconnect/engage-backend/pkg/db/dbtest"
	"github.com/partyconnect/engage-backend/pkg/db/models"
)

func TestDirectoryForUsers(t *testing.T) {
	client := dbtest.Open(t)
	dir := NewDirectory(client.DB())
	ctx := context.Background()

	withAttrs := uuid.New()
	empty := uuid.New()
	missing := uuid.New()
	require.NoError(t, client.DB().Create(&models.Volunteer{
		ID:         uuid.New(),
		UserID:     withAttrs,
		Attributes: json.RawMessage(`{"district":"Pune","booth":42}`),
	}).Error)
	require.NoError(t, client.DB().Create(&models.Volunteer{ID: uuid.New(), UserID: empty}).Error)

	records, err := dir.ForUsers(ctx, []uuid.UUID{withAttrs, empty, missing})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Pune", records[withAttrs]["district"])
	require.EqualValues(t, 42, records[withAttrs]["booth"])
	require.Empty(t, records[empty])
	_, ok := records[missing]
	require.False(t, ok)

	record, err := dir.Find(ctx, missing)
	require.NoError(t, err)
	require.Nil(t, record)

	none, err := dir.ForUsers(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDirectoryRejectsMalformedAttributes(t *testing.T) {
	client := dbtest.Open(t)
	userID := uuid.New()
	require.NoError(t, client.DB().Create(&models.Volunteer{
		ID:         uuid.New(),
		UserID:     userID,
		Attributes: json.RawMessage(`[1,2]`),
	}).Error)

	_, err := NewDirectory(client.DB()).Find(context.Background(), userID)
	require.Error(t, err)
}
