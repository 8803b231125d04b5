// Package scheduler runs due entries from every registered continuum on a
// bounded set of goroutines and reschedules them from their schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/chroniton/internal/continuum"
	"github.com/livinlefevreloca/chroniton/internal/job"
)

var (
	// ErrMissedSchedule is reported when a schedule keeps returning times in the past.
	ErrMissedSchedule = errors.New("schedule returned a time before completion of the previous execution")

	// ErrNeverScheduled is returned when a schedule has no first run time.
	ErrNeverScheduled = errors.New("schedule produced no run time")
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock sets the clock used for "now" when dispatching and rescheduling.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithConfig replaces the default configuration.
func WithConfig(config SchedulerConfig) Option {
	return func(s *Scheduler) { s.config = config }
}

// WithRegistry sets the continuum registry the loop polls.
func WithRegistry(r *continuum.Registry) Option {
	return func(s *Scheduler) { s.registry = r }
}

// WithDefaultContinuum names the continuum used by ScheduleJob.
func WithDefaultContinuum(name string) Option {
	return func(s *Scheduler) { s.defaultName = name }
}

// WithJobContext sets the context handed to every job execution.
func WithJobContext(ctx context.Context) Option {
	return func(s *Scheduler) { s.jobCtx = ctx }
}

// Scheduler is the dispatch loop. It extracts ready entries, executes them
// and puts them back into their continuum with the next run time.
type Scheduler struct {
	config      SchedulerConfig
	registry    *continuum.Registry
	defaultName string
	logger      *slog.Logger
	clock       clockwork.Clock
	jobCtx      context.Context
	notifier    *notifier

	// mu guards the tunables, the slot count and the running set
	mu              sync.Mutex
	slotFree        *sync.Cond
	maximumThreads  int
	millisecondWait int
	inFlight        int
	stopRequested   bool
	running         map[string]*job.Entry

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex
	started   atomic.Bool
	stopCh    chan struct{}
	loopDone  chan struct{}
	jobs      sync.WaitGroup

	launched       atomic.Int64
	succeeded      atomic.Int64
	failed         atomic.Int64
	scheduleErrors atomic.Int64
	rescheduled    atomic.Int64
}

// Stats is a point-in-time view of the dispatcher counters.
type Stats struct {
	InFlight       int
	Launched       int64
	Succeeded      int64
	Failed         int64
	ScheduleErrors int64
	Rescheduled    int64
}

// New creates a stopped scheduler. The in-memory continuum is registered
// under continuum.InMemoryName unless the registry already has one.
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		config:      DefaultSchedulerConfig(),
		defaultName: continuum.InMemoryName,
		clock:       clockwork.NewRealClock(),
		jobCtx:      context.Background(),
		running:     make(map[string]*job.Entry),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := validateConfig(s.config); err != nil {
		return nil, err
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		s.registry = continuum.NewRegistry()
	}
	if !s.registry.Registered(continuum.InMemoryName) {
		clock, logger := s.clock, s.logger
		s.registry.Register(continuum.InMemoryName, func() (continuum.Continuum, error) {
			return continuum.NewInMemory(continuum.WithClock(clock), continuum.WithLogger(logger)), nil
		})
	}

	s.slotFree = sync.NewCond(&s.mu)
	s.maximumThreads = s.config.MaximumThreads
	s.millisecondWait = s.config.MillisecondWait
	// queue timeouts are wall time even when "now" is faked
	s.notifier = newNotifier(s.config, clockwork.NewRealClock(), s.logger)
	return s, nil
}

// Registry returns the continuum registry the loop polls.
func (s *Scheduler) Registry() *continuum.Registry {
	return s.registry
}

// Start launches the dispatch loop. Calling Start on a started scheduler does nothing.
func (s *Scheduler) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.started.Load() {
		s.logger.Debug("scheduler already started")
		return
	}

	s.mu.Lock()
	s.stopRequested = false
	threads, wait := s.maximumThreads, s.millisecondWait
	s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.notifier.start()
	s.started.Store(true)

	go s.run(s.stopCh, s.loopDone)

	s.logger.Info("scheduler started",
		"maximum_threads", threads,
		"millisecond_wait", wait)
}

// Stop signals the loop, waits for it to exit, waits for every running job,
// delivers pending notifications and cleans up all continuums.
// Calling Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.started.Load() {
		return
	}
	s.logger.Info("stopping scheduler")

	s.mu.Lock()
	s.stopRequested = true
	inFlight := s.inFlight
	s.slotFree.Broadcast()
	s.mu.Unlock()

	close(s.stopCh)
	<-s.loopDone

	s.logger.Debug("waiting for running jobs", "in_flight", inFlight)
	s.jobs.Wait()
	s.notifier.stop()
	s.cleanUp()

	s.started.Store(false)
	s.logger.Info("scheduler stopped")
}

// IsStarted reports whether the dispatch loop is running.
func (s *Scheduler) IsStarted() bool {
	return s.started.Load()
}

// SetMaximumThreads changes the concurrency bound. It takes effect on the
// next dispatch; running jobs are not interrupted.
func (s *Scheduler) SetMaximumThreads(n int) error {
	if err := validateMaximumThreads(n); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maximumThreads = n
	s.slotFree.Broadcast()
	return nil
}

// MaximumThreads returns the current concurrency bound.
func (s *Scheduler) MaximumThreads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maximumThreads
}

// SetMillisecondWait changes the sleep between dispatch iterations.
func (s *Scheduler) SetMillisecondWait(ms int) error {
	if err := validateMillisecondWait(ms); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.millisecondWait = ms
	return nil
}

// MillisecondWait returns the current sleep between dispatch iterations.
func (s *Scheduler) MillisecondWait() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.millisecondWait
}

// Stats returns the dispatcher counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	inFlight := s.inFlight
	s.mu.Unlock()

	return Stats{
		InFlight:       inFlight,
		Launched:       s.launched.Load(),
		Succeeded:      s.succeeded.Load(),
		Failed:         s.failed.Load(),
		ScheduleErrors: s.scheduleErrors.Load(),
		Rescheduled:    s.rescheduled.Load(),
	}
}

// OnScheduled registers a handler called after an entry is put back with its next run time.
func (s *Scheduler) OnScheduled(fn func(job.Snapshot)) { s.notifier.onScheduled(fn) }

// OnSuccess registers a handler called after a job returns without error.
func (s *Scheduler) OnSuccess(fn func(job.Snapshot)) { s.notifier.onSuccess(fn) }

// OnJobError registers a handler called with the error a job returned or panicked with.
func (s *Scheduler) OnJobError(fn func(job.Snapshot, error)) { s.notifier.onJobError(fn) }

// OnScheduleError registers a handler called when an entry is retired because
// its schedule failed or kept returning past times.
func (s *Scheduler) OnScheduleError(fn func(job.Snapshot, error)) { s.notifier.onScheduleError(fn) }

// run is the dispatch loop
func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(s.tick())
	defer timer.Stop()

	for {
		if !s.waitForSlot() {
			return
		}

		s.dispatchReady()

		timer.Reset(s.tick())
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) tick() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tickInterval(s.millisecondWait)
}

// waitForSlot blocks until a job may start. It returns false once Stop is requested.
func (s *Scheduler) waitForSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.inFlight >= s.maximumThreads && !s.stopRequested {
		s.slotFree.Wait()
	}
	return !s.stopRequested
}

// dispatchReady takes ready entries from the continuums in turn until no
// slot is free or nothing is ready.
func (s *Scheduler) dispatchReady() {
	continuums := s.registry.All()
	for {
		dispatched := false
		for _, c := range continuums {
			if !s.tryAcquireSlot() {
				return
			}
			e, ok := c.ExtractNextReady()
			if !ok {
				s.releaseSlot()
				continue
			}
			if e.Cancelled() {
				s.releaseSlot()
				s.logger.Debug("dropping cancelled entry", "entry_id", e.ID(), "continuum", c.Name())
				continue
			}
			s.launch(c, e)
			dispatched = true
		}
		if !dispatched {
			return
		}
	}
}

func (s *Scheduler) tryAcquireSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopRequested || s.inFlight >= s.maximumThreads {
		return false
	}
	s.inFlight++
	return true
}

func (s *Scheduler) releaseSlot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	s.slotFree.Broadcast()
}

// launch starts the job on its own goroutine. An entry extracted after Stop
// was requested goes back to its continuum instead.
func (s *Scheduler) launch(c continuum.Continuum, e *job.Entry) {
	s.mu.Lock()
	if s.stopRequested {
		s.inFlight--
		s.slotFree.Broadcast()
		s.mu.Unlock()
		s.putBack(c, e)
		return
	}
	s.running[e.ID()] = e
	s.jobs.Add(1)
	s.mu.Unlock()

	go s.execute(c, e)
}

func (s *Scheduler) putBack(c continuum.Continuum, e *job.Entry) {
	if _, err := c.Add(e); err != nil {
		s.logger.Error("failed to return entry to continuum",
			"entry_id", e.ID(),
			"continuum", c.Name(),
			"error", err)
	}
}

func (s *Scheduler) execute(c continuum.Continuum, e *job.Entry) {
	defer s.jobs.Done()
	defer s.finish(e)

	runTime := e.RunTime()
	runCount := e.IncrementRunCount()
	s.launched.Add(1)

	s.logger.Debug("job started",
		"entry_id", e.ID(),
		"job", e.Job().Name(),
		"run_time", runTime,
		"run_count", runCount)

	err := job.Run(s.jobCtx, e.Job(), runTime)
	snap := e.Snapshot()
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("job failed",
			"entry_id", snap.ID,
			"job", snap.Job.Name(),
			"run_time", runTime,
			"error", err)
		s.notifier.emit(Event{Kind: EventJobError, Entry: snap, Err: err})
	} else {
		s.succeeded.Add(1)
		s.logger.Debug("job succeeded",
			"entry_id", snap.ID,
			"job", snap.Job.Name(),
			"run_time", runTime)
		s.notifier.emit(Event{Kind: EventSuccess, Entry: snap})
	}

	s.reschedule(c, e)
}

func (s *Scheduler) finish(e *job.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, e.ID())
	s.inFlight--
	s.slotFree.Broadcast()
}

// reschedule asks the schedule for the next run time and puts the entry back,
// applying the entry's missed behavior when that time is already past.
func (s *Scheduler) reschedule(c continuum.Continuum, e *job.Entry) {
	if e.Cancelled() {
		s.logger.Debug("entry cancelled, not rescheduling", "entry_id", e.ID())
		return
	}

	now := s.clock.Now()
	snap := e.Snapshot()

	next, err := s.nextRunTime(snap)
	if err != nil {
		s.scheduleFailed(snap, err)
		return
	}
	if !job.IsNever(next) && next.Before(now) {
		next, err = s.resolveMissed(snap, next, now)
		if err != nil {
			s.scheduleFailed(snap, err)
			return
		}
	}
	if job.IsNever(next) {
		s.logger.Debug("entry retired", "entry_id", snap.ID, "job", snap.Job.Name())
		return
	}

	if e.Cancelled() {
		return
	}
	e.SetRunTime(next)
	if _, err := c.Add(e); err != nil {
		s.scheduleFailed(e.Snapshot(), errors.Wrap(err, "failed to reschedule entry"))
		return
	}
	// cancelled between the check and the add
	if e.Cancelled() {
		c.Remove(e.ID())
		return
	}

	s.rescheduled.Add(1)
	s.notifier.emit(Event{Kind: EventScheduled, Entry: e.Snapshot()})
}

// resolveMissed applies the missed behavior to a next run time before now.
func (s *Scheduler) resolveMissed(snap job.Snapshot, missed, now time.Time) (time.Time, error) {
	switch snap.MissedBehavior {
	case job.RunAgain:
		return now, nil

	case job.SkipExecution:
		// ask once more with the same snapshot
		next, err := s.nextRunTime(snap)
		if err != nil {
			return time.Time{}, err
		}
		if !job.IsNever(next) && next.Before(now) {
			return time.Time{}, errors.Wrapf(ErrMissedSchedule,
				"twice in a row: %s then %s, now %s",
				missed.Format(time.RFC3339Nano), next.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		}
		return next, nil

	default:
		return time.Time{}, errors.Wrapf(ErrMissedSchedule,
			"next run %s, now %s", missed.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	}
}

// nextRunTime calls the schedule, turning a panic into an error.
func (s *Scheduler) nextRunTime(snap job.Snapshot) (next time.Time, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("schedule panicked: %v", p)
		}
	}()
	return snap.Schedule.NextRunTime(snap)
}

func (s *Scheduler) scheduleFailed(snap job.Snapshot, err error) {
	s.scheduleErrors.Add(1)
	s.logger.Warn("schedule failed, entry retired",
		"entry_id", snap.ID,
		"job", snap.Job.Name(),
		"missed_behavior", snap.MissedBehavior.String(),
		"error", err)
	s.notifier.emit(Event{Kind: EventScheduleError, Entry: snap, Err: err})
}

// cleanUp runs every continuum's CleanUp concurrently.
func (s *Scheduler) cleanUp() {
	var g errgroup.Group
	for _, c := range s.registry.All() {
		g.Go(func() error {
			if err := c.CleanUp(context.Background()); err != nil {
				return errors.Wrapf(err, "failed to clean up continuum %q", c.Name())
			}
			s.logger.Debug("continuum cleaned up", "continuum", c.Name())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("continuum cleanup failed", "error", err)
	}
}
