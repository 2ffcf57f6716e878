package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/pkg/enums"
)

// User is the member record. Points is a cached projection of the
// activity ledger and only changes alongside an activity entry.
type User struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Name         string         `gorm:"column:name;not null"`
	Phone        *string        `gorm:"column:phone;uniqueIndex:ux_users_phone"`
	Role         enums.UserRole `gorm:"column:role;type:text;not null"`
	ReferralCode string         `gorm:"column:referral_code;not null;uniqueIndex:ux_users_referral_code"`
	ReferredBy   *string        `gorm:"column:referred_by"`
	Points       int            `gorm:"column:points;not null;default:0"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
