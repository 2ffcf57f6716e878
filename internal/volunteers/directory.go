// Package volunteers reads the volunteer records owned by the registration
// flow. The attributes column has no fixed schema, so records are exposed as
// loosely typed maps.
package volunteers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/pkg/db/models"
)

// Record is a volunteer's free-form attribute bag.
type Record map[string]any

// Directory is a read-only view over the volunteers table.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// ForUsers returns the records of the given users keyed by user id. Users
// without a volunteer row are absent from the map.
func (d *Directory) ForUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]Record, error) {
	out := make(map[uuid.UUID]Record, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []models.Volunteer
	if err := d.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		record, err := decode(row)
		if err != nil {
			return nil, err
		}
		out[row.UserID] = record
	}
	return out, nil
}

// Find returns one user's record, or nil when they are not a volunteer.
func (d *Directory) Find(ctx context.Context, userID uuid.UUID) (Record, error) {
	records, err := d.ForUsers(ctx, []uuid.UUID{userID})
	if err != nil {
		return nil, err
	}
	return records[userID], nil
}

func decode(row models.Volunteer) (Record, error) {
	record := Record{}
	if len(row.Attributes) == 0 {
		return record, nil
	}
	if err := json.Unmarshal(row.Attributes, &record); err != nil {
		return nil, fmt.Errorf("decode volunteer %s attributes: %w", row.ID, err)
	}
	return record, nil
}
