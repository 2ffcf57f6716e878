package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs in run order, keyed by unique name.
type Registry struct {
	jobs   []Job
	byName map[string]Job
}

// NewRegistry builds a registry from jobs. Nil jobs are skipped and a repeated
// name keeps the first job registered under it.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{byName: map[string]Job{}}
	for _, job := range jobs {
		_ = registry.Register(job)
	}
	return registry
}

// Register appends job. Names must be unique so a single job can be
// selected from the command line.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	if r.byName == nil {
		r.byName = map[string]Job{}
	}
	name := job.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("cron job %q already registered", name)
	}
	r.byName[name] = job
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Select returns a registry holding only the named jobs, in registration
// order. An empty selection returns r unchanged.
func (r *Registry) Select(names ...string) (*Registry, error) {
	wanted := map[string]bool{}
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			wanted[name] = true
		}
	}
	if len(wanted) == 0 {
		return r, nil
	}

	var unknown []string
	for name := range wanted {
		if _, ok := r.byName[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown cron jobs: %s", strings.Join(unknown, ", "))
	}

	selected := NewRegistry()
	for _, job := range r.jobs {
		if wanted[job.Name()] {
			_ = selected.Register(job)
		}
	}
	return selected, nil
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
