package referrals

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/internal/users"
	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
)

// Summary is what a member sees about their own referrals.
type Summary struct {
	ReferralCode      string  `json:"referralCode"`
	ReferredBy        *string `json:"referredBy,omitempty"`
	ReferralCount     int64   `json:"referralCount"`
	PointsPerReferral int     `json:"pointsPerReferral"`
}

// Summaries reads referral summaries.
type Summaries struct {
	users *users.Repository
	cfg   config.ReferralConfig
}

func NewSummaries(conn *gorm.DB, cfg config.ReferralConfig) (*Summaries, error) {
	if conn == nil {
		return nil, fmt.Errorf("database required")
	}
	return &Summaries{users: users.NewRepository(conn), cfg: cfg}, nil
}

func (s *Summaries) ForUser(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, mapError(err)
	}
	count, err := s.users.CountReferredBy(ctx, user.ReferralCode)
	if err != nil {
		return nil, mapError(err)
	}
	return &Summary{
		ReferralCode:      user.ReferralCode,
		ReferredBy:        user.ReferredBy,
		ReferralCount:     count,
		PointsPerReferral: s.cfg.ReferrerPoints,
	}, nil
}
