package job

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrPanic marks an execution that panicked instead of returning.
var ErrPanic = errors.New("job: panic during execution")

// MissedBehavior selects what happens when a schedule hands back a run time
// that is already in the past.
type MissedBehavior int

const (
	// RunAgain runs the entry again immediately.
	RunAgain MissedBehavior = iota
	// SkipExecution asks the schedule once more and gives up if it is still late.
	SkipExecution
	// ThrowException reports a schedule error and retires the entry.
	ThrowException
)

func (b MissedBehavior) String() string {
	switch b {
	case RunAgain:
		return "run_again"
	case SkipExecution:
		return "skip_execution"
	case ThrowException:
		return "throw_exception"
	default:
		return "unknown"
	}
}

// ParseMissedBehavior converts a config value into a MissedBehavior.
// The empty string maps to RunAgain.
func ParseMissedBehavior(s string) (MissedBehavior, error) {
	switch s {
	case "", "run_again":
		return RunAgain, nil
	case "skip_execution":
		return SkipExecution, nil
	case "throw_exception":
		return ThrowException, nil
	default:
		return RunAgain, errors.Newf("job: unknown missed behavior %q", s)
	}
}

// Job is a unit of work executed at a scheduled time.
type Job interface {
	Name() string
	MissedBehavior() MissedBehavior
	Execute(ctx context.Context, scheduledTime time.Time) error
}

// ParameterizedJob is a job that takes a caller supplied parameter on every run.
type ParameterizedJob[T any] interface {
	Name() string
	MissedBehavior() MissedBehavior
	Execute(ctx context.Context, param T, scheduledTime time.Time) error
}

// Parameterized is implemented by jobs that carry a bound parameter.
type Parameterized interface {
	Parameter() any
}

type boundJob[T any] struct {
	job   ParameterizedJob[T]
	param T
}

// Bind turns a parameterized job into a plain Job that always runs with param.
func Bind[T any](pj ParameterizedJob[T], param T) Job {
	return &boundJob[T]{job: pj, param: param}
}

func (b *boundJob[T]) Name() string                   { return b.job.Name() }
func (b *boundJob[T]) MissedBehavior() MissedBehavior { return b.job.MissedBehavior() }
func (b *boundJob[T]) Parameter() any                 { return b.param }

func (b *boundJob[T]) Execute(ctx context.Context, scheduledTime time.Time) error {
	return b.job.Execute(ctx, b.param, scheduledTime)
}

// Unbind returns the parameterized job behind a bound job, if any.
func Unbind[T any](j Job) (ParameterizedJob[T], T, bool) {
	b, ok := j.(*boundJob[T])
	if !ok {
		var zero T
		return nil, zero, false
	}
	return b.job, b.param, true
}

// Option configures a job built with Func.
type Option func(*funcJob)

// WithMissedBehavior sets the missed schedule policy of a Func job.
func WithMissedBehavior(b MissedBehavior) Option {
	return func(j *funcJob) { j.missed = b }
}

type funcJob struct {
	name   string
	missed MissedBehavior
	fn     func(ctx context.Context, scheduledTime time.Time) error
}

// Func wraps a plain function as a Job.
func Func(name string, fn func(ctx context.Context, scheduledTime time.Time) error, opts ...Option) Job {
	j := &funcJob{name: name, fn: fn}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *funcJob) Name() string                   { return j.name }
func (j *funcJob) MissedBehavior() MissedBehavior { return j.missed }

func (j *funcJob) Execute(ctx context.Context, scheduledTime time.Time) error {
	return j.fn(ctx, scheduledTime)
}

// Run executes j and converts a panic into an error wrapping ErrPanic.
func Run(ctx context.Context, j Job, scheduledTime time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Wrapf(ErrPanic, "%s: %v", j.Name(), p)
		}
	}()
	return j.Execute(ctx, scheduledTime)
}
