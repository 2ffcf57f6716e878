package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/api/responses"
	"github.com/partyconnect/engage-backend/api/validators"
	"github.com/partyconnect/engage-backend/internal/points"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/logger"
)

// ReconcileRequest targets one user, or every user when UserID is empty.
type ReconcileRequest struct {
	UserID *string `json:"userId,omitempty" validate:"omitempty,uuid"`
}

type balanceReconciler interface {
	ReconcileUser(ctx context.Context, userID uuid.UUID) (*points.Drift, error)
	ReconcileAll(ctx context.Context) (*points.Report, error)
}

// AdminReconcile rewrites stored balances from the ledger on demand.
func AdminReconcile(reconciler balanceReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reconciler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}

		var body ReconcileRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if body.UserID != nil {
			userID, err := uuid.Parse(*body.UserID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
				return
			}
			drift, err := reconciler.ReconcileUser(r.Context(), userID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			report := &points.Report{Checked: 1, Drifts: []points.Drift{}}
			if drift != nil {
				report.Drifts = append(report.Drifts, *drift)
			}
			responses.WriteSuccess(w, report)
			return
		}

		report, err := reconciler.ReconcileAll(r.Context())
		if err != nil && report == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err != nil && logg != nil {
			logCtx := logg.WithField(r.Context(), "failed", report.Failed)
			logg.Warn(logCtx, "admin.reconcile.partial")
		}
		responses.WriteSuccess(w, report)
	}
}
