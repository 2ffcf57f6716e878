package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Volunteer is owned by the volunteer registration flow; this service only
// reads it. Attributes is free-form JSON.
type Volunteer struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID       `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_volunteers_user_id"`
	Attributes json.RawMessage `gorm:"column:attributes;type:jsonb"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}
