package points

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/pkg/enums"
)

// EntryCounter is the slice of the ledger the limiter reads.
type EntryCounter interface {
	CountSince(ctx context.Context, userID uuid.UUID, types []enums.ActivityType, since time.Time) (int64, error)
}

// Decision is the outcome of Limiter.TryConsume.
type Decision int

const (
	Allowed Decision = iota
	LimitExceeded
)

func (d Decision) String() string {
	if d == LimitExceeded {
		return "limit_exceeded"
	}
	return "allowed"
}

// Limiter caps rewarded occurrences of a class per calendar day in loc.
//
// The count and the following ledger write are not serialized against other
// writers, so concurrent requests can overshoot the cap by a few entries.
// That is accepted: the cap is a soft limit.
type Limiter struct {
	loc *time.Location
}

func NewLimiter(loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{loc: loc}
}

// StartOfDay is local midnight of now's day in the limiter's zone.
func (l *Limiter) StartOfDay(now time.Time) time.Time {
	local := now.In(l.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc)
}

// NextReset is the midnight after now.
func (l *Limiter) NextReset(now time.Time) time.Time {
	start := l.StartOfDay(now)
	return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, l.loc)
}

// Remaining is max(0, limit - entries of the class since midnight).
func (l *Limiter) Remaining(ctx context.Context, ledger EntryCounter, userID uuid.UUID, class Class, now time.Time) (int, error) {
	used, err := ledger.CountSince(ctx, userID, class.Types, l.StartOfDay(now))
	if err != nil {
		return 0, err
	}
	remaining := int64(class.Limit) - used
	if remaining < 0 {
		return 0, nil
	}
	return int(remaining), nil
}

func (l *Limiter) TryConsume(ctx context.Context, ledger EntryCounter, userID uuid.UUID, class Class, now time.Time) (Decision, error) {
	remaining, err := l.Remaining(ctx, ledger, userID, class, now)
	if err != nil {
		return LimitExceeded, err
	}
	if remaining <= 0 {
		return LimitExceeded, nil
	}
	return Allowed, nil
}
