package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/logger"
)

const (
	defaultOutboxRetention  = 30 * 24 * time.Hour
	defaultDLQRetention     = 90 * 24 * time.Hour
	defaultTerminalAttempts = 10
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	// DeadLetters is optional; without it outbox_dlq is left alone.
	DeadLetters  deadLetterRetention
	Retention    time.Duration
	DLQRetention time.Duration
	// TerminalAttempts matches the publisher's max attempts; rows at or past
	// it are dead-lettered and safe to prune.
	TerminalAttempts int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error)
	CountPending(ctx context.Context) (int64, error)
}

type deadLetterRetention interface {
	PurgeBeforeTx(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	dlqRetention := params.DLQRetention
	if dlqRetention <= 0 {
		dlqRetention = defaultDLQRetention
	}
	terminal := params.TerminalAttempts
	if terminal <= 0 {
		terminal = defaultTerminalAttempts
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		deadLetters:  params.DeadLetters,
		retention:    retention,
		dlqRetention: dlqRetention,
		terminal:     terminal,
		now:          time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	repo         outboxRetentionRepo
	deadLetters  deadLetterRetention
	retention    time.Duration
	dlqRetention time.Duration
	terminal     int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox_retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.retention)
	var deleted, purged int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.terminal)
		if err != nil {
			return err
		}
		deleted = rows
		if j.deadLetters == nil {
			return nil
		}
		purged, err = j.deadLetters.PurgeBeforeTx(ctx, tx, now.Add(-j.dlqRetention))
		return err
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	fields := map[string]any{
		"cutoff":            cutoff,
		"terminal_attempts": j.terminal,
		"rows_deleted":      deleted,
	}
	if pending, err := j.repo.CountPending(ctx); err == nil {
		fields["pending"] = pending
	}
	if j.deadLetters != nil {
		fields["dlq_purged"] = purged
		if counts, err := j.deadLetters.CountByReason(ctx); err == nil {
			for reason, total := range counts {
				fields["dlq_"+string(reason)] = total
			}
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention cleanup complete")
	return nil
}
