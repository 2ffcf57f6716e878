package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/pkg/db"
	"github.com/partyconnect/engage-backend/pkg/db/models"
)

const maxCodeAttempts = 5

var (
	// ErrPhoneTaken is returned when another user already registered the phone.
	ErrPhoneTaken = errors.New("phone already registered")
	// ErrCodeExhausted means every generated referral code collided.
	ErrCodeExhausted = errors.New("could not allocate a unique referral code")
)

// CodeGenerator returns a fresh candidate referral code.
type CodeGenerator func() (string, error)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a new user with a generated referral code, retrying when the
// code collides. Each attempt runs in its own savepoint so a collision does
// not abort an enclosing transaction.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO, generate CodeGenerator) (*models.User, error) {
	if generate == nil {
		return nil, fmt.Errorf("referral code generator required")
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generate()
		if err != nil {
			return nil, err
		}
		user := dto.toModel(code)
		err = r.db.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
			return sp.Create(user).Error
		})
		if err == nil {
			return user, nil
		}
		if !db.IsUniqueViolation(err, "") {
			return nil, err
		}
		// translated driver errors drop the index name, so look at the phone
		if user.Phone != nil {
			taken, lookupErr := r.phoneTaken(ctx, *user.Phone)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if taken {
				return nil, ErrPhoneTaken
			}
		}
	}
	return nil, ErrCodeExhausted
}

func (r *Repository) phoneTaken(ctx context.Context, phone string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("phone = ?", phone).
		Count(&count).Error
	return count > 0, err
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByReferralCode resolves an already normalized referral code.
func (r *Repository) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SetReferredBy records the referrer code once. It reports false when the
// user was already referred (or does not exist).
func (r *Repository) SetReferredBy(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND referred_by IS NULL", id).
		UpdateColumn("referred_by", code)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountReferredBy counts the members who joined with code.
func (r *Repository) CountReferredBy(ctx context.Context, code string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("referred_by = ?", code).
		Count(&count).Error
	return count, err
}
