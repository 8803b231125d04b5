package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/chroniton/internal/config"
	"github.com/livinlefevreloca/chroniton/internal/continuum"
	"github.com/livinlefevreloca/chroniton/internal/db"
	"github.com/livinlefevreloca/chroniton/internal/job"
	"github.com/livinlefevreloca/chroniton/internal/schedule"
	"github.com/livinlefevreloca/chroniton/internal/scheduler"
)

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return errors.Wrap(err, "invalid configuration")
		}

		logger, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := newDaemon(ctx, cfg, logger)
		if err != nil {
			return err
		}
		d.start()

		if configPath != "" {
			go func() {
				if err := config.Watch(ctx, configPath, logger, d.apply); err != nil {
					logger.Error("config watcher stopped", "error", err)
				}
			}()
		}

		logger.Info("chroniton is running")
		<-ctx.Done()

		logger.Info("shutting down gracefully")
		d.stop()
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (TOML)")
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// daemon wires the configured jobs, continuums and the dispatcher together.
type daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	sched    *scheduler.Scheduler
	database *db.DB
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	sched, err := scheduler.New(
		scheduler.WithConfig(cfg.Scheduler),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	d := &daemon{cfg: cfg, logger: logger, sched: sched}

	sched.OnScheduleError(func(s job.Snapshot, err error) {
		logger.Error("job retired", "entry_id", s.ID, "job", s.Job.Name(), "error", err)
	})

	target := continuum.InMemoryName
	if cfg.Persistence.Enabled {
		if err := d.openPersistence(ctx); err != nil {
			return nil, err
		}
		target = continuum.SQLiteName
	}

	js, err := sched.In(ctx, target)
	if err != nil {
		d.close()
		return nil, err
	}
	if err := d.scheduleJobs(js); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

// openPersistence registers the SQLite continuum and its periodic flush.
func (d *daemon) openPersistence(ctx context.Context) error {
	database, err := db.OpenWithConfig(d.cfg.Database)
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}
	d.database = database
	d.logger.Info("database connected", "driver", d.cfg.Database.Driver, "dsn", d.cfg.Database.DSN)

	store := continuum.NewSQLite(database, continuum.ResolverFunc(d.resolve), continuum.WithLogger(d.logger))
	d.sched.Registry().Register(continuum.SQLiteName, func() (continuum.Continuum, error) {
		return store, nil
	})
	if _, err := d.sched.In(ctx, continuum.SQLiteName); err != nil {
		return err
	}

	every, err := schedule.NewEvery(d.cfg.Persistence.FlushInterval)
	if err != nil {
		return err
	}
	if _, err := d.sched.ScheduleJob(every, store.MaintenanceJob(), false); err != nil {
		return errors.Wrap(err, "failed to schedule continuum flush")
	}
	return nil
}

// resolve rebuilds a persisted entry's job from the current config.
func (d *daemon) resolve(name string, _ []byte) (job.Job, error) {
	jc, ok := d.cfg.FindJob(name)
	if !ok {
		return nil, errors.Newf("job %q is no longer configured", name)
	}
	return jc.Build(d.logger)
}

// scheduleJobs adds every configured job that was not restored from the database.
func (d *daemon) scheduleJobs(js *scheduler.JobScheduler) error {
	restored := make(map[string]bool)
	for _, e := range js.Continuum().Entries() {
		restored[e.Job().Name()] = true
	}

	for _, jc := range d.cfg.Jobs {
		if restored[jc.Name] {
			d.logger.Info("job restored", "job", jc.Name)
			continue
		}
		sched, err := jc.ParseSchedule()
		if err != nil {
			return errors.Wrapf(err, "job %q", jc.Name)
		}
		j, err := jc.Build(d.logger)
		if err != nil {
			return errors.Wrapf(err, "job %q", jc.Name)
		}
		if _, err := js.ScheduleJob(sched, j, jc.RunImmediately); err != nil {
			return err
		}
	}
	return nil
}

func (d *daemon) start() {
	d.sched.Start()
}

func (d *daemon) stop() {
	d.sched.Stop()
	d.close()
}

func (d *daemon) close() {
	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.Warn("failed to close database", "error", err)
		}
		d.database = nil
	}
}

// apply copies the runtime tunables of a reloaded config onto the dispatcher.
func (d *daemon) apply(cfg *config.Config) {
	if err := d.sched.SetMaximumThreads(cfg.Scheduler.MaximumThreads); err != nil {
		d.logger.Warn("failed to apply maximum_threads", "error", err)
	}
	if err := d.sched.SetMillisecondWait(cfg.Scheduler.MillisecondWait); err != nil {
		d.logger.Warn("failed to apply millisecond_wait", "error", err)
	}
	d.logger.Info("scheduler tunables updated",
		"maximum_threads", d.sched.MaximumThreads(),
		"millisecond_wait", d.sched.MillisecondWait())
}
