package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/api/responses"
	"github.com/partyconnect/engage-backend/api/validators"
	"github.com/partyconnect/engage-backend/internal/referrals"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/logger"
)

// ApplyReferralRequest is the body of POST /referrals/apply.
type ApplyReferralRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type referralSummaries interface {
	ForUser(ctx context.Context, userID uuid.UUID) (*referrals.Summary, error)
}

// ReferralApply links the caller to a referrer. A rejected code is a 409
// whose details carry the reason.
func ReferralApply(resolver referrals.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resolver == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "referral service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		var body ApplyReferralRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := resolver.ApplyReferral(r.Context(), userID, body.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !outcome.Applied() {
			responses.WriteError(r.Context(), logg, w, rejectedReferral(outcome))
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

// ReferralMe returns the caller's own code and how many members used it.
func ReferralMe(summaries referralSummaries, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if summaries == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "referral service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		summary, err := summaries.ForUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func rejectedReferral(outcome *referrals.Outcome) error {
	message := "referral not applied"
	switch outcome.Status {
	case referrals.StatusNoSuchCode:
		message = "referral code not found"
	case referrals.StatusSelfReferral:
		message = "you cannot use your own referral code"
	case referrals.StatusAlreadyReferred:
		message = "a referral code was already applied"
	}
	return pkgerrors.New(pkgerrors.CodeConflict, message).WithField("reason", string(outcome.Status))
}
