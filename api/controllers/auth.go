package controllers

import (
	"net/http"

	"github.com/partyconnect/engage-backend/api/responses"
	"github.com/partyconnect/engage-backend/api/validators"
	"github.com/partyconnect/engage-backend/internal/auth"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/logger"
)

// AuthRegister creates a member, applies an optional referral code and
// returns an access token. A rejected referral does not fail registration.
func AuthRegister(reg auth.RegisterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := reg.Register(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
