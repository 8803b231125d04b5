package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/livinlefevreloca/chroniton/internal/job"
)

// RecordingJob records every execution and can be told to fail, panic or block.
type RecordingJob struct {
	name   string
	missed job.MissedBehavior

	mu      sync.Mutex
	runs    []time.Time
	err     error
	panicV  interface{}
	running int
	peak    int

	// closed by the test to release a blocked execution
	release chan struct{}
	started chan struct{}
}

// NewRecordingJob creates a job that succeeds immediately.
func NewRecordingJob(name string, missed job.MissedBehavior) *RecordingJob {
	return &RecordingJob{name: name, missed: missed, started: make(chan struct{}, 64)}
}

func (j *RecordingJob) Name() string                       { return j.name }
func (j *RecordingJob) MissedBehavior() job.MissedBehavior { return j.missed }

// FailWith makes every following execution return err.
func (j *RecordingJob) FailWith(err error) *RecordingJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
	return j
}

// PanicWith makes every following execution panic with v.
func (j *RecordingJob) PanicWith(v interface{}) *RecordingJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.panicV = v
	return j
}

// Block makes executions wait until Release is called.
func (j *RecordingJob) Block() *RecordingJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.release = make(chan struct{})
	return j
}

// Release unblocks every waiting and future execution.
func (j *RecordingJob) Release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.release != nil {
		close(j.release)
		j.release = nil
	}
}

// Started receives once per execution as soon as it begins.
func (j *RecordingJob) Started() <-chan struct{} {
	return j.started
}

func (j *RecordingJob) Execute(ctx context.Context, scheduledTime time.Time) error {
	j.mu.Lock()
	j.runs = append(j.runs, scheduledTime)
	j.running++
	if j.running > j.peak {
		j.peak = j.running
	}
	release, err, panicV := j.release, j.err, j.panicV
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running--
		j.mu.Unlock()
	}()

	select {
	case j.started <- struct{}{}:
	default:
	}

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if panicV != nil {
		panic(panicV)
	}
	return err
}

// Runs returns the scheduled times of every execution so far.
func (j *RecordingJob) Runs() []time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	result := make([]time.Time, len(j.runs))
	copy(result, j.runs)
	return result
}

// RunCount returns how many times the job has started.
func (j *RecordingJob) RunCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.runs)
}

// PeakConcurrency returns the highest number of overlapping executions seen.
func (j *RecordingJob) PeakConcurrency() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.peak
}

// ScriptedSchedule hands out a fixed sequence of results, then Never.
type ScriptedSchedule struct {
	mu      sync.Mutex
	results []ScheduleResult
	calls   []job.Snapshot
}

// ScheduleResult is one scripted NextRunTime answer.
type ScheduleResult struct {
	Time time.Time
	Err  error
}

// NewScriptedSchedule creates a schedule returning results in order.
func NewScriptedSchedule(results ...ScheduleResult) *ScriptedSchedule {
	return &ScriptedSchedule{results: results}
}

// At is a shorthand for a successful ScheduleResult.
func At(t time.Time) ScheduleResult {
	return ScheduleResult{Time: t}
}

func (s *ScriptedSchedule) NextRunTime(snap job.Snapshot) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, snap)
	if len(s.results) == 0 {
		return job.Never, nil
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next.Time, next.Err
}

// Calls returns the snapshots NextRunTime was called with.
func (s *ScriptedSchedule) Calls() []job.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]job.Snapshot, len(s.calls))
	copy(result, s.calls)
	return result
}
