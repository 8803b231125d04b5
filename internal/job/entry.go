package job

import (
	"sync"
	"sync/atomic"
	"time"
)

// Never is the run time that retires an entry instead of rescheduling it.
var Never = time.Date(1919, time.May, 29, 14, 30, 0, 0, time.UTC)

// IsNever reports whether t is the Never sentinel.
func IsNever(t time.Time) bool {
	return t.Equal(Never)
}

// Schedule computes the next run time of an entry.
type Schedule interface {
	NextRunTime(s Snapshot) (time.Time, error)
}

// Snapshot is a point in time copy of an entry's state.
type Snapshot struct {
	ID             string
	Job            Job
	Schedule       Schedule
	RunTime        time.Time
	RunCount       int
	MissedBehavior MissedBehavior
}

// Entry binds one job to one schedule together with its run bookkeeping.
type Entry struct {
	job      Job
	schedule Schedule

	idOnce sync.Once
	id     string

	mu       sync.Mutex
	runTime  time.Time
	runCount int

	cancelled atomic.Bool
}

// NewEntry creates an entry that becomes eligible at runTime.
func NewEntry(j Job, s Schedule, runTime time.Time) *Entry {
	return &Entry{job: j, schedule: s, runTime: runTime}
}

// ID returns the entry id, empty until one is assigned.
func (e *Entry) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// AssignID sets the id if none has been assigned yet and returns the
// effective id.
func (e *Entry) AssignID(generate func() string) string {
	e.idOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.id == "" {
			e.id = generate()
		}
	})
	return e.ID()
}

// SetID assigns a known id, used when restoring persisted entries.
func (e *Entry) SetID(id string) {
	e.AssignID(func() string { return id })
}

func (e *Entry) Job() Job           { return e.job }
func (e *Entry) Schedule() Schedule { return e.schedule }

func (e *Entry) MissedBehavior() MissedBehavior {
	return e.job.MissedBehavior()
}

func (e *Entry) RunTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runTime
}

func (e *Entry) SetRunTime(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runTime = t
}

func (e *Entry) RunCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCount
}

// IncrementRunCount bumps the run count and returns the new value.
func (e *Entry) IncrementRunCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runCount++
	return e.runCount
}

// SetRunCount restores a persisted run count.
func (e *Entry) SetRunCount(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runCount = n
}

// Cancel marks the entry as stopped. It is never cleared.
func (e *Entry) Cancel() {
	e.cancelled.Store(true)
}

func (e *Entry) Cancelled() bool {
	return e.cancelled.Load()
}

// Snapshot copies the entry state.
func (e *Entry) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ID:             e.id,
		Job:            e.job,
		Schedule:       e.schedule,
		RunTime:        e.runTime,
		RunCount:       e.runCount,
		MissedBehavior: e.job.MissedBehavior(),
	}
}

// Before orders entries by run time for the priority store.
func Before(a, b *Entry) bool {
	return a.RunTime().Before(b.RunTime())
}
