package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/pkg/enums"
)

// ActivityEntry is one immutable row of the points ledger.
// DedupKey is only set for one-time activity types; the unique index on it
// is what rejects a second reward for the same (user, subject, type).
type ActivityEntry struct {
	ID             int64              `gorm:"column:id;primaryKey;autoIncrement"`
	UserID         uuid.UUID          `gorm:"column:user_id;type:uuid;not null;index:idx_activity_entries_user_type_created,priority:1"`
	ActivityType   enums.ActivityType `gorm:"column:activity_type;type:text;not null;index:idx_activity_entries_user_type_created,priority:2"`
	Points         int                `gorm:"column:points;not null"`
	Description    string             `gorm:"column:description;not null"`
	RelatedSubject *string            `gorm:"column:related_subject"`
	DedupKey       *string            `gorm:"column:dedup_key;uniqueIndex:ux_activity_entries_dedup_key"`
	CreatedAt      time.Time          `gorm:"column:created_at;not null;index:idx_activity_entries_user_type_created,priority:3"`
}
