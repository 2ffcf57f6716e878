package auth

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/internal/referrals"
	"github.com/partyconnect/engage-backend/internal/users"
	"github.com/partyconnect/engage-backend/pkg/auth"
	"github.com/partyconnect/engage-backend/pkg/config"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/logger"
)

const maxNameLength = 120

// RegisterRequest contains the payload required to onboard a member.
type RegisterRequest struct {
	Name         string  `json:"name" validate:"required,max=120"`
	Phone        *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	ReferralCode *string `json:"referralCode,omitempty" validate:"omitempty,max=32"`
}

// RegisterResponse is returned after a successful registration. Referral is
// set whenever a code was supplied, including rejected ones.
type RegisterResponse struct {
	AccessToken string             `json:"accessToken"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	User        *users.UserDTO     `json:"user"`
	Referral    *referrals.Outcome `json:"referral,omitempty"`
}

// RegisterService handles the onboarding transaction.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RegisterServiceParams packages the dependencies for the registration flow.
type RegisterServiceParams struct {
	DB        txRunner
	Referrals referrals.Resolver
	Referral  config.ReferralConfig
	JWT       config.JWTConfig
	Logger    *logger.Logger
	Now       func() time.Time
}

type registerService struct {
	db        txRunner
	referrals referrals.Resolver
	generate  users.CodeGenerator
	jwtCfg    config.JWTConfig
	logg      *logger.Logger
	now       func() time.Time
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database client required")
	}
	if params.Referrals == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "referral resolver required")
	}
	if params.Referral.CodeLength <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "referral code length must be positive")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &registerService{
		db:        params.DB,
		referrals: params.Referrals,
		generate:  referrals.Generator(params.Referral.CodePrefix, params.Referral.CodeLength),
		jwtCfg:    params.JWT,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// Register creates the member and applies the optional referral code in one
// transaction. A rejected referral is reported, not fatal; a storage failure
// while applying it rolls the whole registration back.
func (s *registerService) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is too long")
	}
	code := ""
	if req.ReferralCode != nil {
		code = strings.TrimSpace(*req.ReferralCode)
	}

	resp := &RegisterResponse{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		userRepo := users.NewRepository(tx)
		user, err := userRepo.Create(ctx, users.CreateUserDTO{Name: name, Phone: req.Phone}, s.generate)
		if err != nil {
			switch {
			case errors.Is(err, users.ErrPhoneTaken):
				return pkgerrors.New(pkgerrors.CodeConflict, "phone already registered")
			case errors.Is(err, users.ErrCodeExhausted):
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocate referral code")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create user")
		}

		if code != "" {
			outcome, err := s.referrals.ApplyReferralTx(ctx, tx, user.ID, code)
			if err != nil {
				return err
			}
			resp.Referral = outcome
			if outcome.Applied() {
				user, err = userRepo.FindByID(ctx, user.ID)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload user")
				}
			}
		}
		resp.User = users.FromModel(user)
		return nil
	})
	if err != nil {
		return nil, err
	}

	token, err := auth.MintAccessToken(s.jwtCfg, s.now().UTC(), auth.AccessTokenPayload{
		UserID: resp.User.ID,
		Role:   resp.User.Role,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token")
	}
	resp.AccessToken = token.Value
	resp.ExpiresAt = token.ExpiresAt

	if s.logg != nil {
		logCtx := s.logg.WithUserID(ctx, resp.User.ID.String())
		fields := map[string]any{"referral_code": resp.User.ReferralCode}
		if resp.Referral != nil {
			fields["referral_status"] = resp.Referral.Status
		}
		s.logg.Info(s.logg.WithFields(logCtx, fields), "auth.register")
	}
	return resp, nil
}
