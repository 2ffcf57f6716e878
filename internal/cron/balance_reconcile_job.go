package cron

import (
	"context"
	"fmt"

	"github.com/partyconnect/engage-backend/internal/points"
	"github.com/partyconnect/engage-backend/pkg/logger"
)

type balanceReconciler interface {
	ReconcileAll(ctx context.Context) (*points.Report, error)
}

type BalanceReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler balanceReconciler
}

// NewBalanceReconcileJob rewrites every stored balance that drifted from its
// ledger sum.
func NewBalanceReconcileJob(params BalanceReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &balanceReconcileJob{logg: params.Logger, reconciler: params.Reconciler}, nil
}

type balanceReconcileJob struct {
	logg       *logger.Logger
	reconciler balanceReconciler
}

func (j *balanceReconcileJob) Name() string { return "balance_reconcile" }

func (j *balanceReconcileJob) Run(ctx context.Context) error {
	report, err := j.reconciler.ReconcileAll(ctx)
	if report != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"checked":  report.Checked,
			"repaired": len(report.Drifts),
			"failed":   report.Failed,
		})
		if len(report.Drifts) > 0 {
			j.logg.Warn(logCtx, "balance drift repaired")
		} else {
			j.logg.Info(logCtx, "balances consistent")
		}
	}
	if err != nil {
		return fmt.Errorf("balance reconcile: %w", err)
	}
	return nil
}
