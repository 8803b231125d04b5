package db

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

const scheduledEntriesSchema = `
	CREATE TABLE IF NOT EXISTS scheduled_entries (
		id              TEXT PRIMARY KEY,
		continuum       TEXT NOT NULL,
		job_name        TEXT NOT NULL,
		parameter       BLOB,
		schedule_spec   TEXT NOT NULL,
		run_time        TIMESTAMP NOT NULL,
		run_count       INTEGER NOT NULL DEFAULT 0,
		missed_behavior INTEGER NOT NULL DEFAULT 0,
		updated_at      TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scheduled_entries_continuum
		ON scheduled_entries (continuum, run_time);
`

// ScheduledEntry is the persisted form of a pending entry
type ScheduledEntry struct {
	ID             string
	Continuum      string
	JobName        string
	Parameter      []byte // nil when the job takes no parameter
	ScheduleSpec   string
	RunTime        time.Time
	RunCount       int
	MissedBehavior int
	UpdatedAt      time.Time
}

// =============================================================================
// Scheduled Entry Operations
// =============================================================================

// EnsureSchema creates the scheduled_entries table if it does not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, scheduledEntriesSchema); err != nil {
		return errors.Wrap(err, "failed to create scheduled_entries table")
	}
	return nil
}

// ListScheduledEntries retrieves every entry of a continuum ordered by run time
func (db *DB) ListScheduledEntries(ctx context.Context, continuum string) ([]ScheduledEntry, error) {
	query := `
		SELECT id, continuum, job_name, parameter, schedule_spec, run_time, run_count, missed_behavior, updated_at
		FROM scheduled_entries
		WHERE continuum = ?
		ORDER BY run_time ASC
	`

	rows, err := db.QueryContext(ctx, query, continuum)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled entries")
	}
	defer rows.Close()

	entries := []ScheduledEntry{}
	for rows.Next() {
		entry, err := scanScheduledEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan scheduled entry")
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate scheduled entries")
	}
	return entries, nil
}

// DeleteScheduledEntry removes a single entry
func (db *DB) DeleteScheduledEntry(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM scheduled_entries WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete scheduled entry %s", id)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceScheduledEntries swaps every row of a continuum for entries in one transaction
func (db *DB) ReplaceScheduledEntries(ctx context.Context, continuum string, entries []ScheduledEntry) error {
	return db.WithTransaction(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_entries WHERE continuum = ?`, continuum); err != nil {
			return errors.Wrap(err, "failed to clear scheduled entries")
		}
		for i := range entries {
			entries[i].Continuum = continuum
			if err := tx.InsertScheduledEntry(ctx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertScheduledEntry inserts an entry within a transaction
func (tx *Tx) InsertScheduledEntry(ctx context.Context, entry *ScheduledEntry) error {
	entry.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO scheduled_entries (id, continuum, job_name, parameter, schedule_spec, run_time, run_count, missed_behavior, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.Continuum,
		entry.JobName,
		entry.Parameter,
		entry.ScheduleSpec,
		entry.RunTime.UTC(),
		entry.RunCount,
		entry.MissedBehavior,
		entry.UpdatedAt,
	)
	if IsDuplicate(err) {
		return errors.Wrapf(ErrDuplicate, "scheduled entry %s", entry.ID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to insert scheduled entry %s", entry.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScheduledEntry(row rowScanner) (*ScheduledEntry, error) {
	var entry ScheduledEntry
	err := row.Scan(
		&entry.ID,
		&entry.Continuum,
		&entry.JobName,
		&entry.Parameter,
		&entry.ScheduleSpec,
		&entry.RunTime,
		&entry.RunCount,
		&entry.MissedBehavior,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
