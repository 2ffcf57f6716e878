package points

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/internal/balance"
	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/metrics"
	"github.com/partyconnect/engage-backend/pkg/outbox"
	"github.com/partyconnect/engage-backend/pkg/outbox/payloads"
)

// maxDescriptionLen counts runes, matching the request validators.
const maxDescriptionLen = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AwardRequest describes an action that may earn points. Points overrides
// the configured value when set.
type AwardRequest struct {
	UserID         uuid.UUID
	ActivityType   enums.ActivityType
	Points         *int
	Description    string
	RelatedSubject *string
}

// AwardResult reports what Award decided. Reason is empty when Granted.
type AwardResult struct {
	Granted       bool   `json:"granted"`
	Reason        Reason `json:"reason,omitempty"`
	PointsAwarded int    `json:"pointsAwarded"`
	NewBalance    int    `json:"newBalance"`
	EntryID       int64  `json:"entryId,omitempty"`
}

// BalanceView is the stored balance with its tier and today's quotas.
type BalanceView struct {
	UserID    uuid.UUID      `json:"userId"`
	Points    int            `json:"points"`
	Rank      Rank           `json:"rank"`
	Remaining map[string]int `json:"remaining"`
	ResetsAt  time.Time      `json:"resetsAt"`
}

// Engine is the single entry point for granting points.
type Engine interface {
	Award(ctx context.Context, req AwardRequest) (*AwardResult, error)
	// AwardTx runs the award on a caller-owned transaction. A non-granted
	// result leaves tx usable and unchanged.
	AwardTx(ctx context.Context, tx *gorm.DB, req AwardRequest) (*AwardResult, error)
	Balance(ctx context.Context, userID uuid.UUID) (*BalanceView, error)
}

// EngineParams wires an Engine. Outbox, Metrics, Logger and Now are optional.
type EngineParams struct {
	DB       txRunner
	Ledger   ledger.Repository
	Balances balance.Repository
	Policy   *Policy
	Limiter  *Limiter
	Outbox   outbox.Emitter
	Metrics  *metrics.PointsMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

type engine struct {
	db       txRunner
	ledger   ledger.Repository
	balances balance.Repository
	policy   *Policy
	limiter  *Limiter
	guard    Guard
	outbox   outbox.Emitter
	metrics  *metrics.PointsMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewEngine(params EngineParams) (Engine, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Balances == nil {
		return nil, fmt.Errorf("balance repository required")
	}
	if params.Policy == nil {
		return nil, fmt.Errorf("points policy required")
	}
	limiter := params.Limiter
	if limiter == nil {
		limiter = NewLimiter(time.UTC)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &engine{
		db:       params.DB,
		ledger:   params.Ledger,
		balances: params.Balances,
		policy:   params.Policy,
		limiter:  limiter,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

type preparedAward struct {
	userID       uuid.UUID
	activityType enums.ActivityType
	points       int
	description  string
	subject      *string
}

func (e *engine) prepare(req AwardRequest) (*preparedAward, error) {
	if req.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	activityType, err := enums.ParseActivityType(string(req.ActivityType))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown activity type")
	}
	out := &preparedAward{
		userID:       req.UserID,
		activityType: activityType,
		description:  strings.TrimSpace(req.Description),
	}
	if !activityType.IsRewardable() {
		return out, nil
	}

	switch {
	case req.Points != nil:
		if *req.Points < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "points must be non-negative")
		}
		out.points = *req.Points
	default:
		value, ok := e.policy.PointsFor(activityType)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("points required for %s", activityType))
		}
		out.points = value
	}

	if out.description == "" {
		out.description = e.policy.DescriptionFor(activityType)
	}
	out.description = truncateRunes(out.description, maxDescriptionLen)

	if req.RelatedSubject != nil {
		if subject := strings.TrimSpace(*req.RelatedSubject); subject != "" {
			out.subject = &subject
		}
	}
	// one-time types without a subject are keyed on the user itself
	if out.subject == nil && activityType.IsOneTime() {
		self := req.UserID.String()
		out.subject = &self
	}
	return out, nil
}

func (p *preparedAward) subjectKey() string {
	if p.subject == nil {
		return ""
	}
	return *p.subject
}

func (e *engine) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	prepared, err := e.prepare(req)
	if err != nil {
		return nil, err
	}
	if !prepared.activityType.IsRewardable() {
		result := &AwardResult{Reason: ReasonNotRewardable}
		e.observe(ctx, prepared, result, nil)
		return result, nil
	}

	var result *AwardResult
	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := e.awardTx(ctx, tx, prepared)
		if err != nil {
			return err
		}
		result = res
		if !res.Granted {
			return errNotGranted
		}
		return nil
	})
	if errors.Is(err, errNotGranted) {
		err = nil
	}
	if err != nil {
		err = storageError(err, "record activity")
		e.observe(ctx, prepared, nil, err)
		return nil, err
	}
	e.observe(ctx, prepared, result, nil)
	return result, nil
}

func (e *engine) AwardTx(ctx context.Context, tx *gorm.DB, req AwardRequest) (*AwardResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	prepared, err := e.prepare(req)
	if err != nil {
		return nil, err
	}
	if !prepared.activityType.IsRewardable() {
		return &AwardResult{Reason: ReasonNotRewardable}, nil
	}
	res, err := e.awardTx(ctx, tx, prepared)
	if err != nil {
		return nil, storageError(err, "record activity")
	}
	return res, nil
}

func (e *engine) awardTx(ctx context.Context, tx *gorm.DB, p *preparedAward) (*AwardResult, error) {
	ledgerTx := e.ledger.WithTx(tx)
	balancesTx := e.balances.WithTx(tx)
	now := e.now()

	current, err := balancesTx.Balance(ctx, p.userID)
	if err != nil {
		if errors.Is(err, balance.ErrUserNotFound) {
			return nil, userNotFoundError()
		}
		return nil, err
	}

	first, err := e.guard.IsFirstOccurrence(ctx, ledgerTx, p.userID, p.subjectKey(), p.activityType)
	if err != nil {
		return nil, err
	}
	if !first {
		return &AwardResult{Reason: ReasonAlreadyRewarded, NewBalance: current}, nil
	}

	if class, capped := e.policy.ClassOf(p.activityType); capped {
		decision, err := e.limiter.TryConsume(ctx, ledgerTx, p.userID, class, now)
		if err != nil {
			return nil, err
		}
		if decision == LimitExceeded {
			return nil, rateLimitError(class, e.limiter.NextReset(now))
		}
	}

	var (
		entryID    int64
		newBalance int
	)
	// savepoint: a dedup_key conflict must not poison a caller-owned tx
	err = tx.Transaction(func(sp *gorm.DB) error {
		entry := &models.ActivityEntry{
			UserID:         p.userID,
			ActivityType:   p.activityType,
			Points:         p.points,
			Description:    p.description,
			RelatedSubject: p.subject,
			CreatedAt:      now.UTC(),
		}
		id, err := e.ledger.WithTx(sp).Append(ctx, entry)
		if err != nil {
			return err
		}
		balanceAfter, err := e.balances.WithTx(sp).Increment(ctx, p.userID, p.points)
		if err != nil {
			return err
		}
		entryID, newBalance = id, balanceAfter
		return e.emitAwarded(ctx, sp, p, entryID, newBalance, now)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			return &AwardResult{Reason: ReasonAlreadyRewarded, NewBalance: current}, nil
		}
		return nil, err
	}

	return &AwardResult{
		Granted:       true,
		PointsAwarded: p.points,
		NewBalance:    newBalance,
		EntryID:       entryID,
	}, nil
}

func (e *engine) emitAwarded(ctx context.Context, tx *gorm.DB, p *preparedAward, entryID int64, newBalance int, now time.Time) error {
	if e.outbox == nil {
		return nil
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPointsAwarded,
		AggregateType: enums.AggregateUser,
		AggregateID:   p.userID,
		Actor:         &outbox.ActorRef{UserID: p.userID},
		OccurredAt:    now,
		Data: payloads.PointsAwardedEvent{
			UserID:         p.userID,
			EntryID:        entryID,
			ActivityType:   p.activityType,
			Points:         p.points,
			NewBalance:     newBalance,
			RelatedSubject: p.subject,
		},
	})
}

func (e *engine) Balance(ctx context.Context, userID uuid.UUID) (*BalanceView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	current, err := e.balances.Balance(ctx, userID)
	if err != nil {
		return nil, storageError(err, "load balance")
	}
	now := e.now()
	view := &BalanceView{
		UserID:    userID,
		Points:    current,
		Rank:      RankFor(current),
		Remaining: map[string]int{},
		ResetsAt:  e.limiter.NextReset(now).UTC(),
	}
	for _, class := range e.policy.Classes() {
		remaining, err := e.limiter.Remaining(ctx, e.ledger, userID, class, now)
		if err != nil {
			return nil, storageError(err, "load daily quota")
		}
		view.Remaining[class.Name] = remaining
	}
	return view, nil
}

func (e *engine) observe(ctx context.Context, p *preparedAward, result *AwardResult, err error) {
	outcome := metrics.OutcomeError
	points := 0
	switch {
	case err != nil && pkgerrors.IsCode(err, pkgerrors.CodeRateLimit):
		outcome = metrics.OutcomeRateLimited
	case err != nil && pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		outcome = metrics.OutcomeUserNotFound
	case err != nil:
	case result.Granted:
		outcome = metrics.OutcomeGranted
		points = result.PointsAwarded
	default:
		outcome = string(result.Reason)
	}
	e.metrics.ObserveAward(string(p.activityType), outcome, points)

	if e.logg == nil {
		return
	}
	logCtx := e.logg.WithUserID(ctx, p.userID.String())
	logCtx = e.logg.WithActivityType(logCtx, string(p.activityType))
	logCtx = e.logg.WithFields(logCtx, map[string]any{
		"points":  points,
		"outcome": outcome,
	})
	switch {
	case outcome == metrics.OutcomeGranted:
		e.logg.Info(logCtx, "points.award.granted")
	case outcome == metrics.OutcomeError:
		e.logg.Error(logCtx, "points.award.failed", err)
	default:
		e.logg.Info(logCtx, "points.award.rejected")
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
