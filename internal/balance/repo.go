package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/partyconnect/engage-backend/pkg/db/models"
)

// ErrUserNotFound is returned when the balance owner does not exist.
var ErrUserNotFound = errors.New("user not found")

// Snapshot is the stored balance of one user.
type Snapshot struct {
	UserID uuid.UUID `gorm:"column:id"`
	Points int       `gorm:"column:points"`
}

// Repository maintains users.points, the cached projection of the ledger.
// Increment must run in the same transaction as the ledger append it mirrors.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Increment(ctx context.Context, userID uuid.UUID, amount int) (int, error)
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	BalanceForUpdate(ctx context.Context, userID uuid.UUID) (int, error)
	Set(ctx context.Context, userID uuid.UUID, points int) error
	List(ctx context.Context, limit, offset int) ([]Snapshot, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns a balance repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) Increment(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("increment amount must be non-negative, got %d", amount)
	}
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"points":     gorm.Expr("points + ?", amount),
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrUserNotFound
	}
	return r.Balance(ctx, userID)
}

func (r *repository) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("id", "points").
		Where("id = ?", userID).
		Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.Points, nil
}

// BalanceForUpdate reads the balance and, on Postgres, holds the user row
// lock until the surrounding transaction ends. SQLite serializes writers on
// its own.
func (r *repository) BalanceForUpdate(ctx context.Context, userID uuid.UUID) (int, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector != nil && r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var user models.User
	err := query.
		Select("id", "points").
		Where("id = ?", userID).
		Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.Points, nil
}

// Set overwrites the cached balance. Only reconciliation calls it.
func (r *repository) Set(ctx context.Context, userID uuid.UUID, points int) error {
	if points < 0 {
		return fmt.Errorf("balance must be non-negative, got %d", points)
	}
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"points":     points,
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	var rows []Snapshot
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "points").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error
	return rows, err
}
