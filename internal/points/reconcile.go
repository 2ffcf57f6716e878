package points

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/internal/balance"
	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/metrics"
	"github.com/partyconnect/engage-backend/pkg/outbox"
	"github.com/partyconnect/engage-backend/pkg/outbox/payloads"
)

const defaultReconcileBatch = 200

// Drift is one user whose cached balance disagreed with the ledger sum.
type Drift struct {
	UserID   uuid.UUID `json:"userId"`
	Stored   int       `json:"stored"`
	Ledger   int       `json:"ledger"`
	Repaired bool      `json:"repaired"`
}

// Report summarizes a reconciliation pass.
type Report struct {
	Checked int     `json:"checked"`
	Drifts  []Drift `json:"drifts"`
	Failed  int     `json:"failed"`
}

// Reconciler rewrites users.points from the ledger sum. The ledger is the
// source of truth; the stored balance is a projection of it.
type Reconciler struct {
	db       txRunner
	ledger   ledger.Repository
	balances balance.Repository
	outbox   outbox.Emitter
	metrics  *metrics.PointsMetrics
	logg     *logger.Logger
	batch    int
	now      func() time.Time
}

// ReconcilerParams wires a Reconciler. Outbox, Metrics and Logger are optional.
type ReconcilerParams struct {
	DB        txRunner
	Ledger    ledger.Repository
	Balances  balance.Repository
	Outbox    outbox.Emitter
	Metrics   *metrics.PointsMetrics
	Logger    *logger.Logger
	BatchSize int
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Balances == nil {
		return nil, fmt.Errorf("balance repository required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &Reconciler{
		db:       params.DB,
		ledger:   params.Ledger,
		balances: params.Balances,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		batch:    batch,
		now:      time.Now,
	}, nil
}

// ReconcileUser locks the user row, sums the ledger and repairs the stored
// balance when they differ. It returns nil when the balance was consistent.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID uuid.UUID) (*Drift, error) {
	var drift *Drift
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		balancesTx := r.balances.WithTx(tx)
		stored, err := balancesTx.BalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := r.ledger.WithTx(tx).SumByUser(ctx, userID)
		if err != nil {
			return err
		}
		if int64(stored) == sum {
			return nil
		}
		if err := balancesTx.Set(ctx, userID, int(sum)); err != nil {
			return err
		}
		drift = &Drift{UserID: userID, Stored: stored, Ledger: int(sum), Repaired: true}
		if r.outbox == nil {
			return nil
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBalanceRepaired,
			AggregateType: enums.AggregateUser,
			AggregateID:   userID,
			OccurredAt:    r.now(),
			Data: payloads.BalanceRepairedEvent{
				UserID:        userID,
				StoredPoints:  stored,
				LedgerPoints:  int(sum),
				DriftDetected: true,
			},
		})
	})
	if err != nil {
		return nil, storageError(err, "reconcile balance")
	}
	if drift != nil {
		r.metrics.IncDrift()
		if r.logg != nil {
			logCtx := r.logg.WithUserID(ctx, userID.String())
			logCtx = r.logg.WithFields(logCtx, map[string]any{
				"stored": drift.Stored,
				"ledger": drift.Ledger,
			})
			r.logg.Warn(logCtx, "points.balance.repaired")
		}
	}
	return drift, nil
}

// ReconcileAll walks every user in creation order. A failing user does not
// stop the pass; failures are combined into the returned error.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*Report, error) {
	report := &Report{Drifts: []Drift{}}
	var errs error
	for offset := 0; ; offset += r.batch {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		users, err := r.balances.List(ctx, r.batch, offset)
		if err != nil {
			return report, multierr.Append(errs, storageError(err, "list balances"))
		}
		for _, user := range users {
			report.Checked++
			drift, err := r.ReconcileUser(ctx, user.UserID)
			if err != nil {
				report.Failed++
				errs = multierr.Append(errs, fmt.Errorf("user %s: %w", user.UserID, err))
				continue
			}
			if drift != nil {
				report.Drifts = append(report.Drifts, *drift)
			}
		}
		if len(users) < r.batch {
			break
		}
	}
	return report, errs
}
