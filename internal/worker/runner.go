// Package worker holds the background jobs that move shipments without a caller:
// the domestic carrier sync and the non-production simulation.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// Result summarizes one run of a job
type Result struct {
	Processed      int  `json:"processed"`
	Advanced       int  `json:"advanced"`
	Skipped        int  `json:"skipped"`
	Errors         int  `json:"errors"`
	AlreadyRunning bool `json:"alreadyRunning,omitempty"`
}

// Job is one pass over the shipments a worker owns
type Job interface {
	Run(ctx context.Context) (Result, error)
}

// JobFunc adapts a function to Job
type JobFunc func(ctx context.Context) (Result, error)

// Run calls f
func (f JobFunc) Run(ctx context.Context) (Result, error) {
	return f(ctx)
}

// Runner prevents overlapping runs of a job within this process.
// A run that finds the job busy returns an empty Result with AlreadyRunning set.
type Runner struct {
	name    string
	job     Job
	running atomic.Bool
	logger  logger.Logger
}

// NewRunner creates a Runner for job
func NewRunner(name string, job Job, logger logger.Logger) *Runner {
	return &Runner{
		name:   name,
		job:    job,
		logger: logger.With("job", name),
	}
}

// Name returns the job name
func (r *Runner) Name() string {
	return r.name
}

// Run executes the job unless it is already running
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Info("Job already running, skipping")
		return Result{AlreadyRunning: true}, nil
	}
	defer r.running.Store(false)

	start := time.Now()
	result, err := r.job.Run(ctx)

	if err != nil {
		r.logger.Error("Job failed", "error", err, "duration", time.Since(start))
		return result, err
	}

	r.logger.Info("Job finished",
		"processed", result.Processed,
		"advanced", result.Advanced,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration", time.Since(start))

	return result, nil
}
