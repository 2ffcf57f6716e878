package referrals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/internal/points"
	"github.com/partyconnect/engage-backend/internal/users"
	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db"
	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/outbox"
	"github.com/partyconnect/engage-backend/pkg/outbox/payloads"
)

// Status is the result of ApplyReferral. Everything but StatusApplied leaves
// state untouched.
type Status string

const (
	StatusApplied         Status = "applied"
	StatusNoSuchCode      Status = "no_such_code"
	StatusSelfReferral    Status = "self_referral"
	StatusAlreadyReferred Status = "already_referred"
)

// Outcome reports what ApplyReferral did.
type Outcome struct {
	Status         Status     `json:"status"`
	ReferralCode   string     `json:"referralCode"`
	ReferrerID     *uuid.UUID `json:"referrerId,omitempty"`
	ReferrerPoints int        `json:"referrerPoints"`
	NewUserPoints  int        `json:"newUserPoints"`
	NewBalance     int        `json:"newBalance"`
}

func (o *Outcome) Applied() bool {
	return o != nil && o.Status == StatusApplied
}

// Resolver links a new user to the member whose referral code they entered
// and credits both sides.
type Resolver interface {
	ApplyReferral(ctx context.Context, newUserID uuid.UUID, rawCode string) (*Outcome, error)
	// ApplyReferralTx runs on a caller-owned transaction. A rejected outcome
	// rolls back to a savepoint, leaving tx as it was.
	ApplyReferralTx(ctx context.Context, tx *gorm.DB, newUserID uuid.UUID, rawCode string) (*Outcome, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ResolverParams wires a Resolver. Outbox and Logger are optional.
type ResolverParams struct {
	DB     txRunner
	Engine points.Engine
	Config config.ReferralConfig
	Outbox outbox.Emitter
	Logger *logger.Logger
}

type resolver struct {
	db     txRunner
	engine points.Engine
	cfg    config.ReferralConfig
	outbox outbox.Emitter
	logg   *logger.Logger
}

// errRejected rolls back every write of a referral that was not applied.
var errRejected = errors.New("referral rejected")

func NewResolver(params ResolverParams) (Resolver, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("points engine required")
	}
	if params.Config.CodeLength <= 0 {
		return nil, fmt.Errorf("referral code length must be positive")
	}
	if params.Config.ReferrerPoints < 0 || params.Config.NewUserPoints < 0 {
		return nil, fmt.Errorf("referral points must be non-negative")
	}
	return &resolver{
		db:     params.DB,
		engine: params.Engine,
		cfg:    params.Config,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

func (r *resolver) ApplyReferral(ctx context.Context, newUserID uuid.UUID, rawCode string) (*Outcome, error) {
	var outcome *Outcome
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		out, err := r.apply(ctx, tx, newUserID, rawCode)
		if err != nil {
			return err
		}
		outcome = out
		if !out.Applied() {
			return errRejected
		}
		return nil
	})
	if errors.Is(err, errRejected) {
		err = nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	r.log(ctx, newUserID, outcome)
	return outcome, nil
}

func (r *resolver) ApplyReferralTx(ctx context.Context, tx *gorm.DB, newUserID uuid.UUID, rawCode string) (*Outcome, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	var outcome *Outcome
	err := tx.Transaction(func(sp *gorm.DB) error {
		out, err := r.apply(ctx, sp, newUserID, rawCode)
		if err != nil {
			return err
		}
		outcome = out
		if !out.Applied() {
			return errRejected
		}
		return nil
	})
	if errors.Is(err, errRejected) {
		err = nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	r.log(ctx, newUserID, outcome)
	return outcome, nil
}

// apply checks, in order: the code resolves, it is not the user's own, and
// the user has not been referred before. The two bonuses and referred_by are
// written together or not at all.
func (r *resolver) apply(ctx context.Context, tx *gorm.DB, newUserID uuid.UUID, rawCode string) (*Outcome, error) {
	if newUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	code := Normalize(rawCode, r.cfg.CodePrefix, r.cfg.CodeLength)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral code is required")
	}
	outcome := &Outcome{ReferralCode: code}
	userRepo := users.NewRepository(tx)

	newUser, err := userRepo.FindByID(ctx, newUserID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, err
	}
	outcome.NewBalance = newUser.Points

	referrer, err := userRepo.FindByReferralCode(ctx, code)
	if err != nil {
		if db.IsNotFound(err) {
			outcome.Status = StatusNoSuchCode
			return outcome, nil
		}
		return nil, err
	}
	referrerID := referrer.ID
	outcome.ReferrerID = &referrerID

	if referrer.ID == newUser.ID {
		outcome.Status = StatusSelfReferral
		return outcome, nil
	}
	if newUser.ReferredBy != nil {
		outcome.Status = StatusAlreadyReferred
		return outcome, nil
	}

	referrerBonus := r.cfg.ReferrerPoints
	referrerSubject := newUser.ID.String()
	referrerAward, err := r.engine.AwardTx(ctx, tx, points.AwardRequest{
		UserID:         referrer.ID,
		ActivityType:   enums.ActivityReferralBonus,
		Points:         &referrerBonus,
		Description:    "Referral bonus for inviting " + newUser.Name,
		RelatedSubject: &referrerSubject,
	})
	if err != nil {
		return nil, err
	}
	if !referrerAward.Granted {
		outcome.Status = StatusAlreadyReferred
		return outcome, nil
	}

	newUserBonus := r.cfg.NewUserPoints
	newUserSubject := referrer.ID.String()
	newUserAward, err := r.engine.AwardTx(ctx, tx, points.AwardRequest{
		UserID:         newUser.ID,
		ActivityType:   enums.ActivityReferralBonus,
		Points:         &newUserBonus,
		Description:    "Welcome bonus for joining with code " + code,
		RelatedSubject: &newUserSubject,
	})
	if err != nil {
		return nil, err
	}
	if !newUserAward.Granted {
		outcome.Status = StatusAlreadyReferred
		return outcome, nil
	}

	set, err := userRepo.SetReferredBy(ctx, newUser.ID, code)
	if err != nil {
		return nil, err
	}
	if !set {
		outcome.Status = StatusAlreadyReferred
		return outcome, nil
	}

	if err := r.emitApplied(ctx, tx, newUser, referrer, code); err != nil {
		return nil, err
	}

	outcome.Status = StatusApplied
	outcome.ReferrerPoints = referrerAward.PointsAwarded
	outcome.NewUserPoints = newUserAward.PointsAwarded
	outcome.NewBalance = newUserAward.NewBalance
	return outcome, nil
}

func (r *resolver) emitApplied(ctx context.Context, tx *gorm.DB, newUser, referrer *models.User, code string) error {
	if r.outbox == nil {
		return nil
	}
	return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReferralApplied,
		AggregateType: enums.AggregateUser,
		AggregateID:   newUser.ID,
		Actor:         &outbox.ActorRef{UserID: newUser.ID, Role: string(newUser.Role)},
		OccurredAt:    time.Now().UTC(),
		Data: payloads.ReferralAppliedEvent{
			NewUserID:      newUser.ID,
			ReferrerID:     referrer.ID,
			ReferralCode:   code,
			ReferrerPoints: r.cfg.ReferrerPoints,
			NewUserPoints:  r.cfg.NewUserPoints,
		},
	})
}

func (r *resolver) log(ctx context.Context, newUserID uuid.UUID, outcome *Outcome) {
	if r.logg == nil || outcome == nil {
		return
	}
	logCtx := r.logg.WithUserID(ctx, newUserID.String())
	logCtx = r.logg.WithFields(logCtx, map[string]any{
		"referral_code": outcome.ReferralCode,
		"status":        outcome.Status,
	})
	r.logg.Info(logCtx, "referrals.apply")
}

func mapError(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply referral")
}
