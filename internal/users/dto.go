package users

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
)

// UserDTO is the transport shape of a member.
type UserDTO struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Phone        *string        `json:"phone,omitempty"`
	Role         enums.UserRole `json:"role"`
	ReferralCode string         `json:"referralCode"`
	ReferredBy   *string        `json:"referredBy,omitempty"`
	Points       int            `json:"points"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
// The referral code is generated by the repository.
type CreateUserDTO struct {
	Name  string
	Phone *string
	Role  enums.UserRole
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:           u.ID,
		Name:         u.Name,
		Phone:        u.Phone,
		Role:         u.Role,
		ReferralCode: u.ReferralCode,
		ReferredBy:   u.ReferredBy,
		Points:       u.Points,
		CreatedAt:    u.CreatedAt,
	}
}

func (c CreateUserDTO) toModel(referralCode string) *models.User {
	role := c.Role
	if role == "" {
		role = enums.UserRoleMember
	}
	var phone *string
	if c.Phone != nil {
		if trimmed := strings.TrimSpace(*c.Phone); trimmed != "" {
			phone = &trimmed
		}
	}
	return &models.User{
		Name:         strings.TrimSpace(c.Name),
		Phone:        phone,
		Role:         role,
		ReferralCode: referralCode,
	}
}
