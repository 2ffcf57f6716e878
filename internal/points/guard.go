package points

import (
	"context"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/pkg/enums"
)

// EntryChecker is the slice of the ledger the guard reads.
type EntryChecker interface {
	HasEntry(ctx context.Context, userID uuid.UUID, subject string, activityType enums.ActivityType) (bool, error)
}

// Guard answers whether a one-time activity is being rewarded for the first
// time. It is a read-side shortcut; the unique dedup_key index on the ledger
// is what finally rejects a second reward.
type Guard struct{}

// IsFirstOccurrence is true iff the ledger has no entry for the exact
// (user, subject, type) key. Repeatable types are always first.
func (Guard) IsFirstOccurrence(ctx context.Context, ledger EntryChecker, userID uuid.UUID, subject string, activityType enums.ActivityType) (bool, error) {
	if !activityType.IsOneTime() {
		return true, nil
	}
	exists, err := ledger.HasEntry(ctx, userID, subject, activityType)
	if err != nil {
		return false, err
	}
	return !exists, nil
}
