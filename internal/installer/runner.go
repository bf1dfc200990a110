// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"rtpi-cli/internal/checkpoint"
	"rtpi-cli/internal/issue"
	"rtpi-cli/internal/metrics"
	"rtpi-cli/pkg/types"

	"github.com/charmbracelet/log"
)

const (
	// StatusCompleted marks a step that ran and was checkpointed.
	StatusCompleted Status = "completed"
	// StatusSkipped marks a step skipped because its checkpoint exists.
	StatusSkipped Status = "skipped"
	// StatusFailed marks a step that failed or was interrupted.
	StatusFailed Status = "failed"
)

type (
	// Status is the outcome of one step.
	Status string

	// Checkpointer records completed steps. *checkpoint.Store satisfies it.
	Checkpointer interface {
		Has(name types.StepName) (bool, error)
		Save(name types.StepName) error
	}

	// Step is one unit of installer work.
	Step struct {
		Name        types.StepName
		Description string
		DependsOn   []types.StepName
		Run         func(ctx context.Context) error
	}

	// StepResult describes what happened to a step.
	StepResult struct {
		Name     types.StepName
		Status   Status
		Duration time.Duration
	}

	// StepError wraps the failure of a step. The step's checkpoint was not
	// written.
	StepError struct {
		Step types.StepName
		Err  error
	}

	// Runner executes steps in dependency order, skipping those already
	// checkpointed.
	Runner struct {
		store   Checkpointer
		logger  *log.Logger
		metrics *metrics.Metrics
		force   bool
		now     func() time.Time
	}

	// Option configures a Runner.
	Option func(*Runner)
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics records step outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithForce runs every step regardless of existing checkpoints.
func WithForce(force bool) Option {
	return func(r *Runner) { r.force = force }
}

// WithClock sets the time source for step durations.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner that checkpoints into store.
func NewRunner(store Checkpointer, opts ...Option) *Runner {
	r := &Runner{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	return r
}

// Run executes steps. A step whose checkpoint exists is skipped unless the
// Runner forces. A step is checkpointed only when it returned nil and ctx
// is still live. Any other outcome stops the run with a *StepError, and the
// step is repeated in full next time. Results cover every step that was
// started or skipped.
func (r *Runner) Run(ctx context.Context, steps []Step) ([]StepResult, error) {
	ordered, err := Order(steps)
	if err != nil {
		return nil, err
	}

	results := make([]StepResult, 0, len(ordered))
	for _, step := range ordered {
		if err := ctx.Err(); err != nil {
			return results, &StepError{Step: step.Name, Err: err}
		}

		if !r.force {
			done, err := r.store.Has(step.Name)
			if err != nil {
				return results, &StepError{Step: step.Name, Err: err}
			}
			if done {
				r.logger.Info("step already completed, skipping", "step", step.Name)
				r.metrics.Step(string(StatusSkipped))
				results = append(results, StepResult{Name: step.Name, Status: StatusSkipped})
				continue
			}
		}

		r.logger.Info("running step", "step", step.Name)
		start := r.now()
		err := step.Run(ctx)
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = r.save(step.Name)
		}
		result := StepResult{Name: step.Name, Duration: r.now().Sub(start)}
		if err != nil {
			result.Status = StatusFailed
			results = append(results, result)
			r.metrics.Step(string(StatusFailed))
			r.logger.Error("step failed", "step", step.Name, "err", err)
			return results, &StepError{Step: step.Name, Err: err}
		}

		result.Status = StatusCompleted
		results = append(results, result)
		r.metrics.Step(string(StatusCompleted))
		r.logger.Info("step completed", "step", step.Name, "duration", result.Duration.Round(time.Millisecond))
	}
	return results, nil
}

func (r *Runner) save(name types.StepName) error {
	err := r.store.Save(name)
	if err == nil {
		return nil
	}
	ec := issue.NewErrorContext().
		WithOperation("record checkpoint").
		WithResource(string(name)).
		WithIssue(issue.CheckpointWriteFailedId).
		Wrap(err)
	if checkpoint.IsPermission(err) {
		ec.WithSuggestion("Check the permissions of the checkpoint directory")
	}
	return ec.BuildError()
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

// Unwrap returns the step failure.
func (e *StepError) Unwrap() error { return e.Err }

// Interrupted reports whether the step ended because ctx was done.
func (e *StepError) Interrupted() bool {
	return errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}
