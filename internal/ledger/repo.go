package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/pkg/db"
	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
)

// ErrDuplicateEntry is returned by Append when a one-time entry for the same
// (user, subject, type) already exists.
var ErrDuplicateEntry = errors.New("activity entry already recorded")

// Total is one leaderboard row.
type Total struct {
	UserID uuid.UUID `gorm:"column:user_id"`
	Name   string    `gorm:"column:name"`
	Points int64     `gorm:"column:total_points"`
}

// Repository is the append-only activity ledger. Entries are never updated
// or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, entry *models.ActivityEntry) (int64, error)
	HasEntry(ctx context.Context, userID uuid.UUID, subject string, activityType enums.ActivityType) (bool, error)
	CountSince(ctx context.Context, userID uuid.UUID, types []enums.ActivityType, since time.Time) (int64, error)
	History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.ActivityEntry, error)
	LeaderboardTotals(ctx context.Context, limit int) ([]Total, error)
	SumByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// DedupKey builds the value of the unique dedup_key column for one-time
// activity types.
func DedupKey(userID uuid.UUID, subject string, activityType enums.ActivityType) string {
	return strings.Join([]string{userID.String(), subject, string(activityType)}, "|")
}

func (r *repository) Append(ctx context.Context, entry *models.ActivityEntry) (int64, error) {
	if entry == nil {
		return 0, fmt.Errorf("activity entry required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	} else {
		entry.CreatedAt = entry.CreatedAt.UTC()
	}
	if entry.ActivityType.IsOneTime() && entry.DedupKey == nil {
		subject := ""
		if entry.RelatedSubject != nil {
			subject = *entry.RelatedSubject
		}
		key := DedupKey(entry.UserID, subject, entry.ActivityType)
		entry.DedupKey = &key
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return 0, ErrDuplicateEntry
		}
		return 0, err
	}
	return entry.ID, nil
}

// HasEntry uses the unique dedup_key index for one-time types and falls back
// to the (user, type) index plus related_subject for the rest.
func (r *repository) HasEntry(ctx context.Context, userID uuid.UUID, subject string, activityType enums.ActivityType) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.ActivityEntry{})
	switch {
	case activityType.IsOneTime():
		query = query.Where("dedup_key = ?", DedupKey(userID, subject, activityType))
	case subject == "":
		query = query.Where("user_id = ? AND activity_type = ? AND related_subject IS NULL", userID, activityType)
	default:
		query = query.Where("user_id = ? AND activity_type = ? AND related_subject = ?", userID, activityType, subject)
	}
	var count int64
	if err := query.Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CountSince(ctx context.Context, userID uuid.UUID, types []enums.ActivityType, since time.Time) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ActivityEntry{}).
		Where("user_id = ? AND activity_type IN ? AND created_at >= ?", userID, types, since.UTC()).
		Count(&count).Error
	return count, err
}

func (r *repository) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.ActivityEntry, error) {
	var entries []models.ActivityEntry
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// LeaderboardTotals sums the ledger per user. Ties keep the order in which
// the users were created.
func (r *repository) LeaderboardTotals(ctx context.Context, limit int) ([]Total, error) {
	var totals []Total
	err := r.db.WithContext(ctx).
		Table("activity_entries AS e").
		Select("e.user_id AS user_id, u.name AS name, SUM(e.points) AS total_points").
		Joins("JOIN users u ON u.id = e.user_id").
		Group("e.user_id, u.name, u.created_at, u.id").
		Order("total_points DESC").
		Order("u.created_at ASC").
		Order("u.id ASC").
		Limit(limit).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func (r *repository) SumByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.ActivityEntry{}).
		Select("COALESCE(SUM(points), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	return total, err
}
