package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/chroniton/internal/continuum"
	"github.com/livinlefevreloca/chroniton/internal/job"
	"github.com/livinlefevreloca/chroniton/internal/schedule"
	"github.com/livinlefevreloca/chroniton/internal/testutil"
)

const waitTimeout = 2 * time.Second

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, clockwork.FakeClock, *testutil.TestLogger) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(epoch)
	logger := testutil.NewTestLogger()
	config := DefaultSchedulerConfig()
	config.MillisecondWait = 1

	all := append([]Option{
		WithClock(clock),
		WithLogger(logger.Logger()),
		WithConfig(config),
	}, opts...)
	s, err := New(all...)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s, clock, logger
}

// recorder collects every notification the scheduler delivers.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(s *Scheduler) *recorder {
	r := &recorder{}
	s.OnScheduled(func(snap job.Snapshot) { r.add(Event{Kind: EventScheduled, Entry: snap}) })
	s.OnSuccess(func(snap job.Snapshot) { r.add(Event{Kind: EventSuccess, Entry: snap}) })
	s.OnJobError(func(snap job.Snapshot, err error) { r.add(Event{Kind: EventJobError, Entry: snap, Err: err}) })
	s.OnScheduleError(func(snap job.Snapshot, err error) {
		r.add(Event{Kind: EventScheduleError, Entry: snap, Err: err})
	})
	return r
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) of(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			result = append(result, ev)
		}
	}
	return result
}

func (r *recorder) count(kind EventKind) int {
	return len(r.of(kind))
}

func never() job.Schedule {
	return schedule.Func(func(job.Snapshot) (time.Time, error) { return job.Never, nil })
}

func memory(t *testing.T, s *Scheduler) continuum.Continuum {
	t.Helper()
	c, err := s.Registry().Get(context.Background(), continuum.InMemoryName)
	require.NoError(t, err)
	return c
}

// =============================================================================
// Configuration Tests
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	assert.Equal(t, 5, s.MaximumThreads())
	assert.Equal(t, 5, s.MillisecondWait())
	assert.False(t, s.IsStarted())
	assert.True(t, s.Registry().Registered(continuum.InMemoryName))
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SchedulerConfig)
	}{
		{"zero threads", func(c *SchedulerConfig) { c.MaximumThreads = 0 }},
		{"negative wait", func(c *SchedulerConfig) { c.MillisecondWait = -1 }},
		{"zero buffer", func(c *SchedulerConfig) { c.NotificationBufferSize = 0 }},
		{"zero timeout", func(c *SchedulerConfig) { c.NotificationSendTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultSchedulerConfig()
			tt.modify(&config)

			_, err := New(WithConfig(config))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestTickInterval(t *testing.T) {
	assert.Equal(t, minimumTick, tickInterval(0))
	assert.Equal(t, 5*time.Millisecond, tickInterval(5))
}

func TestSetTunables(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	require.NoError(t, s.SetMaximumThreads(3))
	assert.Equal(t, 3, s.MaximumThreads())
	assert.True(t, errors.Is(s.SetMaximumThreads(0), ErrInvalidConfig))
	assert.Equal(t, 3, s.MaximumThreads())

	require.NoError(t, s.SetMillisecondWait(0))
	assert.Equal(t, 0, s.MillisecondWait())
	assert.True(t, errors.Is(s.SetMillisecondWait(-5), ErrInvalidConfig))
	assert.Equal(t, 0, s.MillisecondWait())
}

func TestNew_KeepsRegisteredMemoryFactory(t *testing.T) {
	registry := continuum.NewRegistry()
	custom := continuum.NewInMemory(continuum.WithName(continuum.InMemoryName))
	registry.Register(continuum.InMemoryName, func() (continuum.Continuum, error) { return custom, nil })

	s, err := New(WithRegistry(registry))
	require.NoError(t, err)

	c, err := s.Registry().Get(context.Background(), continuum.InMemoryName)
	require.NoError(t, err)
	assert.Same(t, custom, c)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestStartStop_Idempotent(t *testing.T) {
	s, _, logger := newTestScheduler(t)

	s.Start()
	s.Start()
	assert.True(t, s.IsStarted())
	assert.Len(t, logger.GetEntriesByMessage("scheduler started"), 1)

	s.Stop()
	assert.False(t, s.IsStarted())
	s.Stop()
	assert.Len(t, logger.GetEntriesByMessage("scheduler stopped"), 1)
}

func TestStartStop_Restart(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	j := testutil.NewRecordingJob("restart", job.RunAgain)

	s.Start()
	s.Stop()

	_, err := s.ScheduleJob(never(), j, true)
	require.NoError(t, err)

	s.Start()
	testutil.WaitFor(t, func() bool { return j.RunCount() == 1 }, waitTimeout, "job should run after restart")
}

func TestStop_WaitsForRunningJob(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	j := testutil.NewRecordingJob("slow", job.RunAgain).Block()

	_, err := s.ScheduleJob(never(), j, true)
	require.NoError(t, err)
	s.Start()

	select {
	case <-j.Started():
	case <-time.After(waitTimeout):
		t.Fatal("job did not start")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}

	j.Release()
	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatal("Stop did not return after the job finished")
	}
	assert.Equal(t, 0, s.Stats().InFlight)
}

func TestStop_NoRunsAfterStop(t *testing.T) {
	s, clock, _ := newTestScheduler(t)
	j := testutil.NewRecordingJob("later", job.RunAgain)

	_, err := s.ScheduleJobAt(never(), j, epoch.Add(time.Minute))
	require.NoError(t, err)

	s.Start()
	s.Stop()
	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, j.RunCount())
	assert.Equal(t, 1, memory(t, s).Len())
}

type cleanupContinuum struct {
	*continuum.InMemory
	mu      sync.Mutex
	cleaned int
	err     error
}

func (c *cleanupContinuum) CleanUp(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleaned++
	return c.err
}

func (c *cleanupContinuum) cleanedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleaned
}

func TestStop_CleansUpContinuums(t *testing.T) {
	s, _, logger := newTestScheduler(t)

	good := &cleanupContinuum{InMemory: continuum.NewInMemory(continuum.WithName("good"))}
	bad := &cleanupContinuum{
		InMemory: continuum.NewInMemory(continuum.WithName("bad")),
		err:      errors.New("disk full"),
	}
	_, err := s.Attach(good)
	require.NoError(t, err)
	_, err = s.Attach(bad)
	require.NoError(t, err)

	s.Start()
	s.Stop()

	assert.Equal(t, 1, good.cleanedCount())
	assert.Equal(t, 1, bad.cleanedCount())
	assert.Len(t, logger.GetEntriesByMessage("continuum cleanup failed"), 1)
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestDispatch_RunsReadyJob(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("ready", job.RunAgain)

	e, err := s.ScheduleJob(never(), j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventSuccess) == 1 }, waitTimeout, "success notification")

	assert.Equal(t, []time.Time{epoch}, j.Runs())
	assert.Equal(t, 1, e.RunCount())
	assert.Equal(t, 0, memory(t, s).Len())
	assert.Equal(t, 0, events.count(EventScheduled))

	success := events.of(EventSuccess)[0]
	assert.Equal(t, e.ID(), success.Entry.ID)
	assert.Equal(t, 1, success.Entry.RunCount)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Launched)
	assert.Equal(t, int64(1), stats.Succeeded)
}

func TestDispatch_WaitsForRunTime(t *testing.T) {
	s, clock, _ := newTestScheduler(t)
	j := testutil.NewRecordingJob("future", job.RunAgain)

	_, err := s.ScheduleJobAt(never(), j, epoch.Add(time.Hour))
	require.NoError(t, err)
	s.Start()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, j.RunCount())

	clock.Advance(time.Hour)
	testutil.WaitFor(t, func() bool { return j.RunCount() == 1 }, waitTimeout, "job should run once due")
	assert.Equal(t, []time.Time{epoch.Add(time.Hour)}, j.Runs())
}

func TestDispatch_Reschedules(t *testing.T) {
	s, clock, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("hourly", job.RunAgain)
	sched := testutil.NewScriptedSchedule(
		testutil.At(epoch.Add(time.Hour)),
		testutil.At(epoch.Add(2*time.Hour)),
	)

	e, err := s.ScheduleJob(sched, j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventScheduled) == 1 }, waitTimeout, "first reschedule")
	assert.Equal(t, epoch.Add(time.Hour), events.of(EventScheduled)[0].Entry.RunTime)
	assert.Equal(t, epoch.Add(time.Hour), e.RunTime())

	stored, ok := memory(t, s).GetEntry(e.ID())
	require.True(t, ok)
	assert.Same(t, e, stored)

	clock.Advance(time.Hour)
	testutil.WaitFor(t, func() bool { return events.count(EventScheduled) == 2 }, waitTimeout, "second reschedule")
	assert.Equal(t, []time.Time{epoch, epoch.Add(time.Hour)}, j.Runs())

	calls := sched.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, epoch, calls[0].RunTime)
	assert.Equal(t, 1, calls[0].RunCount)
	assert.Equal(t, epoch.Add(time.Hour), calls[1].RunTime)
	assert.Equal(t, 2, calls[1].RunCount)
}

func TestDispatch_MultipleContinuums(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	first := testutil.NewRecordingJob("first", job.RunAgain)
	second := testutil.NewRecordingJob("second", job.RunAgain)

	_, err := s.ScheduleJob(never(), first, true)
	require.NoError(t, err)

	other, err := s.Attach(continuum.NewInMemory(
		continuum.WithName("other"),
		continuum.WithClock(clockwork.NewFakeClockAt(epoch)),
	))
	require.NoError(t, err)
	_, err = other.ScheduleJob(never(), second, true)
	require.NoError(t, err)

	s.Start()
	testutil.WaitFor(t, func() bool {
		return first.RunCount() == 1 && second.RunCount() == 1
	}, waitTimeout, "both continuums should be dispatched")
}

// =============================================================================
// Missed Schedule Tests
// =============================================================================

func TestMissed_RunAgain(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("catch-up", job.RunAgain)
	sched := testutil.NewScriptedSchedule(testutil.At(epoch.Add(-time.Minute)))

	_, err := s.ScheduleJob(sched, j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return j.RunCount() == 2 }, waitTimeout, "missed run should run again")
	testutil.WaitFor(t, func() bool { return events.count(EventScheduled) == 1 }, waitTimeout, "reschedule notification")
	assert.Equal(t, []time.Time{epoch, epoch}, j.Runs())
	assert.Equal(t, epoch, events.of(EventScheduled)[0].Entry.RunTime)
	assert.Equal(t, 0, events.count(EventScheduleError))
}

func TestMissed_SkipExecution(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("skip", job.SkipExecution)
	sched := testutil.NewScriptedSchedule(
		testutil.At(epoch.Add(-time.Minute)),
		testutil.At(epoch.Add(time.Hour)),
	)

	e, err := s.ScheduleJob(sched, j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventScheduled) == 1 }, waitTimeout, "reschedule after skip")
	assert.Equal(t, epoch.Add(time.Hour), e.RunTime())
	assert.Equal(t, 0, events.count(EventScheduleError))

	calls := sched.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, epoch, calls[0].RunTime)
	assert.Equal(t, epoch, calls[1].RunTime, "second attempt sees the same run time")
}

func TestMissed_SkipExecutionStaleBase(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("skip-stale", job.SkipExecution)
	every, err := schedule.NewEvery(6 * time.Minute)
	require.NoError(t, err)

	// every 6m from 11:50 is 11:56 on both attempts
	_, err = s.ScheduleJobAt(every, j, epoch.Add(-10*time.Minute))
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventScheduleError) == 1 }, waitTimeout, "schedule error")
	assert.True(t, errors.Is(events.of(EventScheduleError)[0].Err, ErrMissedSchedule))
	assert.Equal(t, 0, events.count(EventScheduled))
	assert.Equal(t, 1, j.RunCount())
}

func TestMissed_SkipExecutionTwice(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("skip-twice", job.SkipExecution)
	sched := testutil.NewScriptedSchedule(
		testutil.At(epoch.Add(-2*time.Minute)),
		testutil.At(epoch.Add(-time.Minute)),
		testutil.At(epoch.Add(time.Hour)),
	)

	_, err := s.ScheduleJob(sched, j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventScheduleError) == 1 }, waitTimeout, "schedule error")
	assert.True(t, errors.Is(events.of(EventScheduleError)[0].Err, ErrMissedSchedule))
	assert.Equal(t, 0, events.count(EventScheduled))
	assert.Len(t, sched.Calls(), 2)
	assert.Equal(t, 0, memory(t, s).Len())
}

func TestMissed_SkipExecutionThenNever(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("skip-never", job.SkipExecution)
	sched := testutil.NewScriptedSchedule(testutil.At(epoch.Add(-time.Minute)))

	_, err := s.ScheduleJob(sched, j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return len(sched.Calls()) == 2 }, waitTimeout, "second attempt")
	s.Stop()

	assert.Equal(t, 0, events.count(EventScheduleError))
	assert.Equal(t, 0, events.count(EventScheduled))
	assert.Equal(t, 1, j.RunCount())
}

func TestMissed_ThrowException(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("strict", job.ThrowException)
	sched := testutil.NewScriptedSchedule(
		testutil.At(epoch.Add(-time.Minute)),
		testutil.At(epoch.Add(time.Hour)),
	)

	_, err := s.ScheduleJob(sched, j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventScheduleError) == 1 }, waitTimeout, "schedule error")
	assert.True(t, errors.Is(events.of(EventScheduleError)[0].Err, ErrMissedSchedule))
	assert.Len(t, sched.Calls(), 1, "no second attempt")
	assert.Equal(t, 0, events.count(EventScheduled))
	assert.Equal(t, int64(1), s.Stats().ScheduleErrors)
}

// =============================================================================
// Failure Isolation Tests
// =============================================================================

func TestJobError_NotifiedAndRescheduled(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	boom := errors.New("boom")
	j := testutil.NewRecordingJob("failing", job.RunAgain).FailWith(boom)
	sched := testutil.NewScriptedSchedule(testutil.At(epoch.Add(time.Hour)))

	_, err := s.ScheduleJob(sched, j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventScheduled) == 1 }, waitTimeout, "reschedule after failure")
	jobErrors := events.of(EventJobError)
	require.Len(t, jobErrors, 1)
	assert.Same(t, boom, jobErrors[0].Err)
	assert.Equal(t, 0, events.count(EventSuccess))
	assert.Equal(t, int64(1), s.Stats().Failed)
}

func TestJobPanic_DoesNotStopLoop(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	bad := testutil.NewRecordingJob("panics", job.RunAgain).PanicWith("kaboom")
	good := testutil.NewRecordingJob("fine", job.RunAgain)

	_, err := s.ScheduleJob(never(), bad, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventJobError) == 1 }, waitTimeout, "panic reported")
	assert.True(t, errors.Is(events.of(EventJobError)[0].Err, job.ErrPanic))

	_, err = s.ScheduleJob(never(), good, true)
	require.NoError(t, err)
	testutil.WaitFor(t, func() bool { return good.RunCount() == 1 }, waitTimeout, "loop still dispatching")
}

func TestScheduleError_Retires(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	bad := errors.New("no more dates")
	j := testutil.NewRecordingJob("broken-schedule", job.RunAgain)
	sched := testutil.NewScriptedSchedule(testutil.ScheduleResult{Err: bad})

	_, err := s.ScheduleJob(sched, j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventScheduleError) == 1 }, waitTimeout, "schedule error")
	assert.True(t, errors.Is(events.of(EventScheduleError)[0].Err, bad))
	assert.Equal(t, 1, events.count(EventSuccess))
	assert.Equal(t, 0, memory(t, s).Len())
}

func TestSchedulePanic_Retires(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("panicking-schedule", job.RunAgain)
	sched := schedule.Func(func(job.Snapshot) (time.Time, error) { panic("bad schedule") })

	_, err := s.ScheduleJob(sched, j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool { return events.count(EventScheduleError) == 1 }, waitTimeout, "schedule panic reported")
	assert.Contains(t, events.of(EventScheduleError)[0].Err.Error(), "bad schedule")
}

func TestNotification_HandlerPanicIsolated(t *testing.T) {
	s, _, logger := newTestScheduler(t)
	var mu sync.Mutex
	delivered := 0
	s.OnSuccess(func(job.Snapshot) { panic("handler") })
	s.OnSuccess(func(job.Snapshot) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	j := testutil.NewRecordingJob("notified", job.RunAgain)

	_, err := s.ScheduleJob(never(), j, true)
	require.NoError(t, err)
	s.Start()

	testutil.WaitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	}, waitTimeout, "second handler still called")
	assert.Len(t, logger.GetEntriesByMessage("notification handler panicked"), 1)
}

// =============================================================================
// Concurrency Bound Tests
// =============================================================================

func TestMaximumThreads_One(t *testing.T) {
	config := DefaultSchedulerConfig()
	config.MaximumThreads = 1
	config.MillisecondWait = 1
	s, _, _ := newTestScheduler(t, WithConfig(config))
	j := testutil.NewRecordingJob("serial", job.RunAgain).Block()

	_, err := s.ScheduleJob(never(), j, true)
	require.NoError(t, err)
	_, err = s.ScheduleJob(never(), j, true)
	require.NoError(t, err)
	s.Start()

	<-j.Started()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, j.RunCount(), "second entry must wait for the slot")
	assert.Equal(t, 1, s.Stats().InFlight)

	j.Release()
	testutil.WaitFor(t, func() bool { return j.RunCount() == 2 }, waitTimeout, "second entry runs after the first")
	assert.Equal(t, 1, j.PeakConcurrency())
}

func TestMaximumThreads_RaisedAtRuntime(t *testing.T) {
	config := DefaultSchedulerConfig()
	config.MaximumThreads = 1
	config.MillisecondWait = 1
	s, _, _ := newTestScheduler(t, WithConfig(config))
	j := testutil.NewRecordingJob("widened", job.RunAgain).Block()

	_, err := s.ScheduleJob(never(), j, true)
	require.NoError(t, err)
	_, err = s.ScheduleJob(never(), j, true)
	require.NoError(t, err)
	s.Start()

	<-j.Started()
	require.NoError(t, s.SetMaximumThreads(2))
	testutil.WaitFor(t, func() bool { return j.RunCount() == 2 }, waitTimeout, "second slot opened")
	assert.Equal(t, 2, j.PeakConcurrency())
	j.Release()
}

// =============================================================================
// Cancellation Tests
// =============================================================================

func TestStopScheduledJob_BeforeRun(t *testing.T) {
	s, clock, _ := newTestScheduler(t)
	j := testutil.NewRecordingJob("cancelled", job.RunAgain)

	e, err := s.ScheduleJobAt(never(), j, epoch.Add(time.Minute))
	require.NoError(t, err)
	s.Start()

	assert.True(t, s.StopScheduledJob(e))
	assert.False(t, s.StopScheduledJob(e))
	assert.True(t, e.Cancelled())

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, j.RunCount())
}

func TestStopScheduledJob_WhileRunning(t *testing.T) {
	s, clock, _ := newTestScheduler(t)
	events := record(s)
	j := testutil.NewRecordingJob("in-flight", job.RunAgain).Block()

	e, err := s.ScheduleJob(schedule.NewConstant(clock), j, true)
	require.NoError(t, err)
	s.Start()
	<-j.Started()

	assert.False(t, s.StopScheduledJob(e), "running entry is not in a continuum")
	j.Release()

	testutil.WaitFor(t, func() bool { return events.count(EventSuccess) == 1 }, waitTimeout, "in-flight run completes")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, j.RunCount())
	assert.Equal(t, 0, events.count(EventScheduled))
	assert.Equal(t, 0, memory(t, s).Len())
}

func TestStopScheduledJobByID(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	j := testutil.NewRecordingJob("by-id", job.RunAgain)

	e, err := s.ScheduleJobAt(never(), j, epoch.Add(time.Minute))
	require.NoError(t, err)

	assert.True(t, s.StopScheduledJobByID(e.ID()))
	assert.True(t, e.Cancelled())
	assert.False(t, s.StopScheduledJobByID(e.ID()))
	assert.False(t, s.StopScheduledJobByID("missing"))
}

func TestJobScheduler_StopScheduledJob(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	js, err := s.In(context.Background(), continuum.InMemoryName)
	require.NoError(t, err)

	e, err := js.ScheduleJobAt(never(), testutil.NewRecordingJob("scoped", job.RunAgain), epoch.Add(time.Minute))
	require.NoError(t, err)

	assert.True(t, js.StopScheduledJob(e))
	assert.False(t, js.StopScheduledJob(nil))
	assert.Equal(t, 0, js.Continuum().Len())
}

// =============================================================================
// Scheduling API Tests
// =============================================================================

func TestScheduleJob_FirstRunFromSchedule(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	sched := testutil.NewScriptedSchedule(testutil.At(epoch.Add(time.Hour)))
	j := testutil.NewRecordingJob("deferred", job.SkipExecution)

	e, err := s.ScheduleJob(sched, j, false)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Hour), e.RunTime())
	assert.NotEmpty(t, e.ID())

	calls := sched.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, epoch, calls[0].RunTime)
	assert.Equal(t, 0, calls[0].RunCount)
	assert.Equal(t, job.SkipExecution, calls[0].MissedBehavior)
}

func TestScheduleJob_RunImmediately(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	e, err := s.ScheduleJob(never(), testutil.NewRecordingJob("now", job.RunAgain), true)
	require.NoError(t, err)
	assert.Equal(t, epoch, e.RunTime())
	assert.Equal(t, 1, memory(t, s).Len())
}

func TestScheduleJob_Never(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	_, err := s.ScheduleJob(never(), testutil.NewRecordingJob("never", job.RunAgain), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNeverScheduled))
	assert.Equal(t, 0, memory(t, s).Len())
}

func TestScheduleJob_ScheduleError(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	bad := errors.New("bad")
	sched := testutil.NewScriptedSchedule(testutil.ScheduleResult{Err: bad})

	_, err := s.ScheduleJob(sched, testutil.NewRecordingJob("bad", job.RunAgain), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bad))
}

func TestScheduleJob_RequiresArguments(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	_, err := s.ScheduleJob(nil, testutil.NewRecordingJob("x", job.RunAgain), true)
	assert.Error(t, err)
	_, err = s.ScheduleJobAt(never(), nil, epoch)
	assert.Error(t, err)
}

func TestScheduleJob_UnknownContinuum(t *testing.T) {
	s, _, _ := newTestScheduler(t, WithDefaultContinuum("missing"))

	_, err := s.ScheduleJob(never(), testutil.NewRecordingJob("x", job.RunAgain), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, continuum.ErrNotFound))
}

type greeter struct {
	mu   sync.Mutex
	seen []string
}

func (g *greeter) Name() string                       { return "greeter" }
func (g *greeter) MissedBehavior() job.MissedBehavior { return job.RunAgain }

func (g *greeter) Execute(_ context.Context, who string, _ time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = append(g.seen, who)
	return nil
}

func (g *greeter) greeted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.seen...)
}

func TestScheduleParameterizedJob(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	g := &greeter{}

	e, err := ScheduleParameterizedJob[string](s, never(), g, "world", true)
	require.NoError(t, err)
	_, err = ScheduleParameterizedJobAt[string](s, never(), g, "later", epoch.Add(time.Hour))
	require.NoError(t, err)

	p, ok := e.Job().(job.Parameterized)
	require.True(t, ok)
	assert.Equal(t, "world", p.Parameter())

	s.Start()
	testutil.WaitFor(t, func() bool { return len(g.greeted()) == 1 }, waitTimeout, "parameterized job runs")
	assert.Equal(t, []string{"world"}, g.greeted())
}

func TestDefault_IsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
}
