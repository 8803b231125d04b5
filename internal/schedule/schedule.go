// Package schedule provides the job.Schedule implementations used by the
// scheduler and a string codec for persisting them.
package schedule

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	cronlib "github.com/robfig/cron/v3"

	"github.com/livinlefevreloca/chroniton/internal/cron"
	"github.com/livinlefevreloca/chroniton/internal/job"
)

// Spec is implemented by schedules that can be written back as a string
// accepted by Parse.
type Spec interface {
	Spec() string
}

// Cron runs on the seconds resolution grammar of internal/cron.
type Cron struct {
	expr *cron.Expression
}

// NewCron parses expr into a Cron schedule.
func NewCron(expr string) (*Cron, error) {
	e, err := cron.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Cron{expr: e}, nil
}

// NextRunTime returns the first match after the entry's current run time, or
// job.Never when the expression has no further occurrences.
func (c *Cron) NextRunTime(s job.Snapshot) (time.Time, error) {
	next, ok := c.expr.NextAfter(s.RunTime)
	if !ok {
		return job.Never, nil
	}
	return next, nil
}

func (c *Cron) Expression() *cron.Expression { return c.expr }
func (c *Cron) Spec() string                 { return prefixCron + c.expr.String() }

// Standard runs on the five field grammar and descriptors (@hourly, @every 5m)
// understood by robfig/cron.
type Standard struct {
	raw   string
	sched cronlib.Schedule
}

// NewStandard parses a standard cron spec.
func NewStandard(spec string) (*Standard, error) {
	sched, err := cronlib.ParseStandard(spec)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse standard cron spec %q", spec)
	}
	return &Standard{raw: spec, sched: sched}, nil
}

func (s *Standard) NextRunTime(snap job.Snapshot) (time.Time, error) {
	next := s.sched.Next(snap.RunTime)
	if next.IsZero() {
		return job.Never, nil
	}
	return next, nil
}

func (s *Standard) Spec() string { return prefixStandard + s.raw }

// Every runs at a fixed interval measured from the previous run time.
type Every struct {
	Interval time.Duration
}

// NewEvery returns an interval schedule. The interval must be positive.
func NewEvery(d time.Duration) (*Every, error) {
	if d <= 0 {
		return nil, errors.Newf("interval must be > 0, got %s", d)
	}
	return &Every{Interval: d}, nil
}

func (e *Every) NextRunTime(s job.Snapshot) (time.Time, error) {
	return s.RunTime.Add(e.Interval), nil
}

func (e *Every) Spec() string { return prefixEvery + e.Interval.String() }

// Once runs a single time and then retires the entry.
type Once struct {
	At time.Time // zero means the entry's current run time
}

// OnceAt returns a schedule that runs once at t.
func OnceAt(t time.Time) *Once {
	return &Once{At: t}
}

func (o *Once) NextRunTime(s job.Snapshot) (time.Time, error) {
	if s.RunCount > 0 {
		return job.Never, nil
	}
	if o.At.IsZero() {
		return s.RunTime, nil
	}
	return o.At, nil
}

func (o *Once) Spec() string {
	if o.At.IsZero() {
		return specOnce
	}
	return prefixOnce + o.At.Format(time.RFC3339)
}

// Constant always asks to run again right now.
type Constant struct {
	clock clockwork.Clock
}

// NewConstant returns a Constant schedule reading time from clock.
// A nil clock uses the real clock.
func NewConstant(clock clockwork.Clock) *Constant {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Constant{clock: clock}
}

func (c *Constant) NextRunTime(job.Snapshot) (time.Time, error) {
	return c.clock.Now(), nil
}

func (c *Constant) Spec() string { return specConstant }

// Func adapts a plain function to job.Schedule.
type Func func(s job.Snapshot) (time.Time, error)

func (f Func) NextRunTime(s job.Snapshot) (time.Time, error) {
	return f(s)
}
