package payloads

import (
	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/pkg/enums"
)

// PointsAwardedEvent is emitted once per granted award.
type PointsAwardedEvent struct {
	UserID         uuid.UUID          `json:"userId"`
	EntryID        int64              `json:"entryId"`
	ActivityType   enums.ActivityType `json:"activityType"`
	Points         int                `json:"points"`
	NewBalance     int                `json:"newBalance"`
	RelatedSubject *string            `json:"relatedSubject,omitempty"`
}

// ReferralAppliedEvent is emitted when a new user is linked to a referrer.
type ReferralAppliedEvent struct {
	NewUserID      uuid.UUID `json:"newUserId"`
	ReferrerID     uuid.UUID `json:"referrerId"`
	ReferralCode   string    `json:"referralCode"`
	ReferrerPoints int       `json:"referrerPoints"`
	NewUserPoints  int       `json:"newUserPoints"`
}

// BalanceRepairedEvent reports a balance rewritten from the ledger sum.
type BalanceRepairedEvent struct {
	UserID        uuid.UUID `json:"userId"`
	StoredPoints  int       `json:"storedPoints"`
	LedgerPoints  int       `json:"ledgerPoints"`
	DriftDetected bool      `json:"driftDetected"`
}
