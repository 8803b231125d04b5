package continuum

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"

	"github.com/livinlefevreloca/chroniton/internal/db"
	"github.com/livinlefevreloca/chroniton/internal/job"
	"github.com/livinlefevreloca/chroniton/internal/schedule"
)

// Resolver rebuilds a job from its persisted name and parameter.
// parameter is nil for jobs that were not bound to one.
type Resolver interface {
	Resolve(name string, parameter []byte) (job.Job, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string, parameter []byte) (job.Job, error)

func (f ResolverFunc) Resolve(name string, parameter []byte) (job.Job, error) {
	return f(name, parameter)
}

// SQLite keeps its live entries in memory and persists them to the
// scheduled_entries table on Flush and CleanUp.
type SQLite struct {
	*InMemory

	db       *db.DB
	resolver Resolver
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewSQLite creates a persistent continuum backed by database.
func NewSQLite(database *db.DB, resolver Resolver, opts ...Option) *SQLite {
	opts = append([]Option{WithName(SQLiteName)}, opts...)
	mem := NewInMemory(opts...)
	return &SQLite{
		InMemory: mem,
		db:       database,
		resolver: resolver,
		clock:    mem.clock,
		logger:   mem.logger,
	}
}

// Initialize creates the table if needed and loads every persisted entry.
// Rows whose job or schedule cannot be rebuilt are logged and skipped.
func (s *SQLite) Initialize(ctx context.Context) error {
	if err := s.db.EnsureSchema(ctx); err != nil {
		return err
	}

	rows, err := s.db.ListScheduledEntries(ctx, s.Name())
	if err != nil {
		return errors.Wrap(err, "failed to load persisted entries")
	}

	loaded := 0
	for _, row := range rows {
		e, err := s.restore(row)
		if err != nil {
			s.logger.Warn("skipping persisted entry",
				"entry_id", row.ID,
				"job", row.JobName,
				"error", err)
			continue
		}
		if _, err := s.InMemory.Add(e); err != nil {
			s.logger.Warn("skipping persisted entry",
				"entry_id", row.ID,
				"error", err)
			continue
		}
		loaded++
	}

	s.logger.Info("loaded persisted entries",
		"loaded", loaded,
		"skipped", len(rows)-loaded)
	return nil
}

func (s *SQLite) restore(row db.ScheduledEntry) (*job.Entry, error) {
	j, err := s.resolver.Resolve(row.JobName, row.Parameter)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve job %q", row.JobName)
	}
	sched, err := schedule.ParseWithClock(row.ScheduleSpec, s.clock)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse schedule %q", row.ScheduleSpec)
	}

	if stored := job.MissedBehavior(row.MissedBehavior); stored != j.MissedBehavior() {
		s.logger.Warn("persisted missed behavior differs from job",
			"entry_id", row.ID,
			"job", row.JobName,
			"stored", stored.String(),
			"current", j.MissedBehavior().String())
	}

	e := job.NewEntry(j, sched, row.RunTime)
	e.SetID(row.ID)
	e.SetRunCount(row.RunCount)
	return e, nil
}

// Flush writes a snapshot of the pending entries, replacing what was stored.
// Entries whose schedule has no string form are not persisted.
func (s *SQLite) Flush(ctx context.Context) error {
	entries := s.Entries()
	rows := make([]db.ScheduledEntry, 0, len(entries))

	for _, e := range entries {
		if e.Cancelled() {
			continue
		}
		row, ok, err := s.persistable(e)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Debug("entry not persistable",
				"entry_id", e.ID(),
				"job", e.Job().Name())
			continue
		}
		rows = append(rows, row)
	}

	start := time.Now()
	if err := s.db.ReplaceScheduledEntries(ctx, s.Name(), rows); err != nil {
		return errors.Wrap(err, "failed to flush entries")
	}

	s.logger.Debug("flushed entries",
		"count", len(rows),
		"duration", time.Since(start))
	return nil
}

func (s *SQLite) persistable(e *job.Entry) (db.ScheduledEntry, bool, error) {
	spec, ok := schedule.SpecOf(e.Schedule())
	if !ok {
		return db.ScheduledEntry{}, false, nil
	}

	snap := e.Snapshot()
	row := db.ScheduledEntry{
		ID:             snap.ID,
		JobName:        snap.Job.Name(),
		ScheduleSpec:   spec,
		RunTime:        snap.RunTime,
		RunCount:       snap.RunCount,
		MissedBehavior: int(snap.MissedBehavior),
	}

	if p, ok := snap.Job.(job.Parameterized); ok {
		param, err := json.Marshal(p.Parameter())
		if err != nil {
			return db.ScheduledEntry{}, false, errors.Wrapf(err, "failed to encode parameter of entry %s", snap.ID)
		}
		row.Parameter = param
	}
	return row, true, nil
}

// Remove excises the entry from memory and deletes its persisted row, so a
// stopped entry is not restored by the next Initialize.
func (s *SQLite) Remove(id string) bool {
	removed := s.InMemory.Remove(id)

	if err := s.db.DeleteScheduledEntry(context.Background(), id); err != nil && !db.IsNotFound(err) {
		s.logger.Warn("failed to delete persisted entry",
			"entry_id", id,
			"error", err)
	}
	return removed
}

// CleanUp flushes the pending entries.
func (s *SQLite) CleanUp(ctx context.Context) error {
	return s.Flush(ctx)
}

// MaintenanceJob returns a job that flushes this continuum when run.
func (s *SQLite) MaintenanceJob() job.Job {
	return job.Func("flush-"+s.Name(), func(ctx context.Context, _ time.Time) error {
		return s.Flush(ctx)
	})
}
