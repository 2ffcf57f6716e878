package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/api/middleware"
	"github.com/partyconnect/engage-backend/api/responses"
	"github.com/partyconnect/engage-backend/api/validators"
	"github.com/partyconnect/engage-backend/internal/leaderboard"
	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/internal/points"
	"github.com/partyconnect/engage-backend/pkg/enums"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/pagination"
)

// AwardRequest is the body of POST /points/award.
type AwardRequest struct {
	ActivityType   string  `json:"activityType" validate:"required,max=64,activity_type"`
	Points         *int    `json:"points,omitempty" validate:"omitempty,min=0"`
	Description    string  `json:"description,omitempty" validate:"max=500"`
	RelatedSubject *string `json:"relatedSubject,omitempty" validate:"omitempty,max=200"`
}

const maxDescriptionRunes = 500

type leaderboardReader interface {
	Top(ctx context.Context, limit int) ([]leaderboard.Entry, error)
}

// PointsAward records an activity for the caller. Rejections that are not
// errors come back as 200 with granted=false.
func PointsAward(engine points.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "points engine unavailable"))
			return
		}

		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		var body AwardRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		activityType, _ := enums.ParseActivityType(body.ActivityType)
		if activityType == enums.ActivityReferralBonus {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "referral bonuses are granted by applying a referral code"))
			return
		}
		// members earn the configured value; only admins may set an amount
		if body.Points != nil && !enums.UserRole(middleware.RoleFromContext(r.Context())).IsAdmin() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "points override requires admin role"))
			return
		}

		result, err := engine.Award(r.Context(), points.AwardRequest{
			UserID:         userID,
			ActivityType:   activityType,
			Points:         body.Points,
			Description:    validators.SanitizeString(body.Description, maxDescriptionRunes),
			RelatedSubject: body.RelatedSubject,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		middleware.Annotate(r.Context(), "award_granted", result.Granted)
		if result.Reason != "" {
			middleware.Annotate(r.Context(), "award_reason", string(result.Reason))
		}
		responses.WriteSuccess(w, result)
	}
}

// PointsBalance returns the caller's balance, tier and remaining quotas.
func PointsBalance(engine points.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "points engine unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		view, err := engine.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// PointsHistory pages through the caller's ledger, newest first.
func PointsHistory(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		page, err := validators.ParsePage(r, pagination.DefaultLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		history, err := svc.History(r.Context(), userID, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, history)
	}
}

// PointsLeaderboard returns the top members by ledger total.
func PointsLeaderboard(board leaderboardReader, defaultLimit int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if board == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "leaderboard unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := board.Top(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"entries": entries})
	}
}

func requireUser(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	userID := middleware.UserUUIDFromContext(r.Context())
	if userID == uuid.Nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return uuid.Nil, false
	}
	return userID, true
}
