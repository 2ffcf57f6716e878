package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configure the cron service. Metrics is optional.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// JobResult is the outcome of one job within a cycle.
type JobResult struct {
	Job  string
	Took time.Duration
	Err  error
}

// Cycle describes one pass over the registry. A skipped cycle ran nothing
// because another instance held the lock.
type Cycle struct {
	Skipped bool
	Holder  string
	Results []JobResult
}

// Err combines the failures of every job in the cycle, or nil.
func (c Cycle) Err() error {
	var errs error
	for _, res := range c.Results {
		if res.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.Job, res.Err))
		}
	}
	return errs
}

// Service runs the registered jobs on a fixed cadence, one instance at a time.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	svc := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
		now:      time.Now,
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	return svc, nil
}

// Run executes a cycle immediately and then once per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle aborted", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every job a single time if this instance wins the lock. Job
// failures are reported in the Cycle; the error is reserved for lock
// failures and cancellation.
func (s *Service) RunOnce(ctx context.Context) (Cycle, error) {
	var cycle Cycle
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return cycle, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		cycle.Skipped = true
		cycle.Holder = s.holder(ctx)
		s.logg.Info(s.logg.WithField(ctx, "lock_holder", cycle.Holder), "cron lock held elsewhere, skipping cycle")
		s.metrics.IncLockSkip()
		return cycle, nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for _, job := range s.registry.Jobs() {
		if err := ctx.Err(); err != nil {
			return cycle, err
		}
		cycle.Results = append(cycle.Results, s.runJob(ctx, job))
	}
	s.logg.Info(s.logg.WithField(ctx, "jobs", len(cycle.Results)), "cron cycle complete")
	return cycle, nil
}

func (s *Service) holder(ctx context.Context) string {
	reporter, ok := s.lock.(holderReporter)
	if !ok {
		return ""
	}
	holder, err := reporter.Holder(ctx)
	if err != nil {
		return ""
	}
	return holder
}

func (s *Service) runJob(ctx context.Context, job Job) JobResult {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	started := s.now()
	err := job.Run(jobCtx)
	finished := s.now()

	res := JobResult{Job: job.Name(), Took: finished.Sub(started), Err: err}
	s.metrics.ObserveRun(res.Job, res.Took, finished, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", res.Took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron job failed", err)
	} else {
		s.logg.Info(jobCtx, "cron job completed")
	}
	return res
}
