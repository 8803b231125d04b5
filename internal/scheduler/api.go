package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/livinlefevreloca/chroniton/internal/continuum"
	"github.com/livinlefevreloca/chroniton/internal/job"
)

// Scheduling adds jobs to a continuum. Scheduler and JobScheduler implement it.
type Scheduling interface {
	ScheduleJob(sched job.Schedule, j job.Job, runImmediately bool) (*job.Entry, error)
	ScheduleJobAt(sched job.Schedule, j job.Job, firstRun time.Time) (*job.Entry, error)
}

// ScheduleParameterizedJob binds param to pj and schedules the result.
func ScheduleParameterizedJob[T any](sc Scheduling, sched job.Schedule, pj job.ParameterizedJob[T], param T, runImmediately bool) (*job.Entry, error) {
	return sc.ScheduleJob(sched, job.Bind(pj, param), runImmediately)
}

// ScheduleParameterizedJobAt binds param to pj and schedules the result at firstRun.
func ScheduleParameterizedJobAt[T any](sc Scheduling, sched job.Schedule, pj job.ParameterizedJob[T], param T, firstRun time.Time) (*job.Entry, error) {
	return sc.ScheduleJobAt(sched, job.Bind(pj, param), firstRun)
}

// JobScheduler schedules jobs into one continuum of a Scheduler.
type JobScheduler struct {
	s *Scheduler
	c continuum.Continuum
}

// In returns a JobScheduler for the named continuum, creating it through the registry.
func (s *Scheduler) In(ctx context.Context, name string) (*JobScheduler, error) {
	c, err := s.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &JobScheduler{s: s, c: c}, nil
}

// Attach registers an already initialized continuum and returns a JobScheduler for it.
func (s *Scheduler) Attach(c continuum.Continuum) (*JobScheduler, error) {
	if err := s.registry.Add(c); err != nil {
		return nil, err
	}
	return &JobScheduler{s: s, c: c}, nil
}

// Continuum returns the continuum jobs are added to.
func (js *JobScheduler) Continuum() continuum.Continuum {
	return js.c
}

// ScheduleJob adds j to the continuum. With runImmediately the first run is
// now, otherwise it is the schedule's first time after now.
func (js *JobScheduler) ScheduleJob(sched job.Schedule, j job.Job, runImmediately bool) (*job.Entry, error) {
	if sched == nil || j == nil {
		return nil, errors.New("schedule and job are required")
	}

	now := js.s.clock.Now()
	if runImmediately {
		return js.ScheduleJobAt(sched, j, now)
	}

	first, err := js.s.nextRunTime(job.Snapshot{
		Job:            j,
		Schedule:       sched,
		RunTime:        now,
		MissedBehavior: j.MissedBehavior(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compute first run of %q", j.Name())
	}
	if job.IsNever(first) {
		return nil, errors.Wrapf(ErrNeverScheduled, "job %q", j.Name())
	}
	return js.ScheduleJobAt(sched, j, first)
}

// ScheduleJobAt adds j to the continuum with its first run at firstRun.
func (js *JobScheduler) ScheduleJobAt(sched job.Schedule, j job.Job, firstRun time.Time) (*job.Entry, error) {
	if sched == nil || j == nil {
		return nil, errors.New("schedule and job are required")
	}

	e := job.NewEntry(j, sched, firstRun)
	id, err := js.c.Add(e)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to schedule %q", j.Name())
	}

	js.s.logger.Info("job scheduled",
		"entry_id", id,
		"job", j.Name(),
		"run_time", firstRun,
		"continuum", js.c.Name())
	return e, nil
}

// StopScheduledJob cancels e and removes it from this continuum. It reports
// whether the entry was removed before running again.
func (js *JobScheduler) StopScheduledJob(e *job.Entry) bool {
	if e == nil {
		return false
	}
	e.Cancel()
	return js.c.Remove(e.ID())
}

func (s *Scheduler) inDefault() (*JobScheduler, error) {
	return s.In(context.Background(), s.defaultName)
}

// ScheduleJob adds j to the default continuum.
func (s *Scheduler) ScheduleJob(sched job.Schedule, j job.Job, runImmediately bool) (*job.Entry, error) {
	js, err := s.inDefault()
	if err != nil {
		return nil, err
	}
	return js.ScheduleJob(sched, j, runImmediately)
}

// ScheduleJobAt adds j to the default continuum with its first run at firstRun.
func (s *Scheduler) ScheduleJobAt(sched job.Schedule, j job.Job, firstRun time.Time) (*job.Entry, error) {
	js, err := s.inDefault()
	if err != nil {
		return nil, err
	}
	return js.ScheduleJobAt(sched, j, firstRun)
}

// StopScheduledJob cancels e wherever it lives. The entry never runs again
// once this returns; a run already in progress is allowed to finish.
// It reports whether the entry was removed from a continuum before running.
func (s *Scheduler) StopScheduledJob(e *job.Entry) bool {
	if e == nil {
		return false
	}
	e.Cancel()

	id := e.ID()
	removed := false
	if c, ok := s.registry.Lookup(id); ok {
		removed = c.Remove(id)
	}

	s.logger.Info("scheduled job stopped",
		"entry_id", id,
		"job", e.Job().Name(),
		"removed", removed)
	return removed
}

// StopScheduledJobByID is StopScheduledJob for callers holding only the id.
func (s *Scheduler) StopScheduledJobByID(id string) bool {
	if c, ok := s.registry.Lookup(id); ok {
		if e, ok := c.GetEntry(id); ok {
			return s.StopScheduledJob(e)
		}
	}

	s.mu.Lock()
	e, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		return s.StopScheduledJob(e)
	}
	return false
}

var (
	defaultOnce      sync.Once
	defaultScheduler *Scheduler
)

// Default returns a process-wide scheduler with the default configuration.
// Prefer New and pass the scheduler explicitly.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		s, err := New()
		if err != nil {
			panic(err)
		}
		defaultScheduler = s
	})
	return defaultScheduler
}
