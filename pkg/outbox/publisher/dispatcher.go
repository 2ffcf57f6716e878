// Package publisher drains outbox_events to Pub/Sub. Rows are claimed inside
// a transaction, published, and marked in the same transaction; rows that can
// never be delivered are copied to outbox_dlq.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/metrics"
	"github.com/partyconnect/engage-backend/pkg/outbox"
	"github.com/partyconnect/engage-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	RecordTx(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, failedAt time.Time) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Topic publishes one message and hands back a pending result.
type Topic interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) Result
}

// Result resolves to the server-assigned message id.
type Result interface {
	Get(ctx context.Context) (string, error)
}

// TopicFactory returns the Topic for a topic name, or nil when unknown.
type TopicFactory func(name string) Topic

// Params wires a Dispatcher. Metrics is optional.
type Params struct {
	Config     config.OutboxConfig
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRepository
	DLQ        deadLetterStore
	Registry   eventResolver
	Topics     TopicFactory
	Metrics    *metrics.OutboxMetrics
}

// Dispatcher moves outbox rows to Pub/Sub.
type Dispatcher struct {
	logg         *logger.Logger
	db           txRunner
	repo         outboxRepository
	dlq          deadLetterStore
	registry     eventResolver
	topics       TopicFactory
	metrics      *metrics.OutboxMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	jitter       *rand.Rand
	now          func() time.Time
}

func New(params Params) (*Dispatcher, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Topics == nil:
		return nil, errors.New("topic factory is required")
	}

	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	poll := time.Duration(params.Config.PollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = defaultPollInterval
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Dispatcher{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		dlq:          params.DLQ,
		registry:     params.Registry,
		topics:       params.Topics,
		metrics:      params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: poll,
		jitter:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:          time.Now,
	}, nil
}

// Run polls until ctx is canceled. A full batch is followed immediately by
// the next one; an empty batch waits one poll interval; a failed batch backs
// off exponentially up to maxBackoff.
func (d *Dispatcher) Run(ctx context.Context) error {
	backoff := d.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			d.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		handled, err := d.DispatchBatch(ctx)
		if err != nil {
			d.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, d.pollInterval, maxBackoff)
			if err := sleep(ctx, d.withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = d.pollInterval

		if handled >= d.batchSize {
			continue
		}
		if err := sleep(ctx, d.withJitter(d.pollInterval)); err != nil {
			return err
		}
	}
}

// pending is a row whose publish is in flight.
type pending struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   Result
	err      error
}

// DispatchBatch claims up to one batch of rows and settles each of them. It
// returns how many rows were claimed.
func (d *Dispatcher) DispatchBatch(ctx context.Context) (int, error) {
	handled := 0
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := d.repo.FetchUnpublishedForPublish(tx, d.batchSize, d.maxAttempts)
		if err != nil {
			return err
		}
		handled = len(events)
		if handled == 0 {
			return nil
		}

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()

		// publish everything first so the client can batch, then collect
		inflight := make([]pending, 0, len(events))
		for _, event := range events {
			resolved, err := d.registry.Resolve(event)
			if err != nil {
				if err := d.deadLetter(ctx, tx, event, enums.OutboxDLQReasonDecode, err); err != nil {
					return err
				}
				continue
			}
			inflight = append(inflight, d.publish(publishCtx, event, resolved))
		}

		for _, p := range inflight {
			if err := d.settle(ctx, publishCtx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	return handled, err
}

func (d *Dispatcher) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) pending {
	p := pending{event: event, resolved: resolved}
	topic := d.topics(resolved.Route.Topic)
	if topic == nil {
		p.err = registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", resolved.Route.Topic))
		return p
	}
	p.result = topic.Publish(ctx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: outbox.MessageAttributes(event, resolved.Envelope.EventID),
	})
	if p.result == nil {
		p.err = registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", resolved.Route.Topic))
	}
	return p
}

func (d *Dispatcher) settle(ctx, publishCtx context.Context, tx *gorm.DB, p pending) error {
	err := p.err
	if err == nil {
		_, err = p.result.Get(publishCtx)
	}
	fields := map[string]any{
		"outbox_id":     p.event.ID.String(),
		"event_id":      p.resolved.Envelope.EventID,
		"event_type":    p.event.EventType,
		"aggregate_id":  p.event.AggregateID.String(),
		"topic":         p.resolved.Route.Topic,
		"attempt_count": p.event.AttemptCount + 1,
	}
	logCtx := d.logg.WithFields(ctx, fields)

	if err == nil {
		if err := d.repo.MarkPublishedTx(tx, p.event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", p.event.ID, err)
		}
		d.metrics.IncPublished(string(p.event.EventType))
		d.logg.Debug(logCtx, "outbox event published")
		return nil
	}

	if registry.IsNonRetryable(err) {
		return d.deadLetter(ctx, tx, p.event, enums.OutboxDLQReasonNonRetryable, err)
	}
	if p.event.AttemptCount+1 >= d.maxAttempts {
		return d.deadLetter(ctx, tx, p.event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err))
	}

	d.logg.Warn(d.logg.WithField(logCtx, "error", err.Error()), "outbox publish failed")
	d.metrics.IncRetry(string(p.event.EventType))
	if err := d.repo.MarkFailedTx(tx, p.event.ID, err); err != nil {
		return fmt.Errorf("mark failure %s: %w", p.event.ID, err)
	}
	return nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"error_reason":  reason,
		"attempt_count": event.AttemptCount,
		"error":         cause.Error(),
	})
	d.logg.Warn(logCtx, "outbox event will not be retried")

	if err := d.dlq.RecordTx(tx, event, reason, cause, d.now()); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := d.repo.MarkTerminalTx(tx, event.ID, cause, d.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	d.metrics.IncDeadLettered(string(event.EventType), string(reason))
	return nil
}

func (d *Dispatcher) withJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return base + time.Duration(d.jitter.Int63n(int64(jitterWindow)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}
