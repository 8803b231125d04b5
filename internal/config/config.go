package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/livinlefevreloca/chroniton/internal/command"
	"github.com/livinlefevreloca/chroniton/internal/db"
	"github.com/livinlefevreloca/chroniton/internal/job"
	"github.com/livinlefevreloca/chroniton/internal/schedule"
	"github.com/livinlefevreloca/chroniton/internal/scheduler"
)

// Config represents the application configuration
type Config struct {
	Database    db.Config                 `toml:"database"`
	Scheduler   scheduler.SchedulerConfig `toml:"scheduler"`
	Persistence PersistenceConfig         `toml:"persistence"`
	Logging     LoggingConfig             `toml:"logging"`
	Jobs        []JobConfig               `toml:"jobs"`
}

// PersistenceConfig controls the SQLite backed continuum
type PersistenceConfig struct {
	Enabled       bool          `toml:"enabled"`
	FlushInterval time.Duration `toml:"flush_interval"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// JobConfig defines a command job scheduled at startup
type JobConfig struct {
	Name           string `toml:"name"`
	Schedule       string `toml:"schedule"`
	Command        string `toml:"command"`
	Dir            string `toml:"dir"`
	MissedBehavior string `toml:"missed_behavior"`
	RunImmediately bool   `toml:"run_immediately"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "chroniton.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Scheduler: scheduler.DefaultSchedulerConfig(),
		Persistence: PersistenceConfig{
			Enabled:       false,
			FlushInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Newf("config file does not exist: %s", path)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	// If no config file specified, return defaults
	if configPath == "" {
		return DefaultConfig(), nil
	}

	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Persistence.Enabled {
		if c.Database.Driver == "" {
			return errors.New("database driver must be specified")
		}
		if c.Database.Driver != "sqlite3" {
			return errors.Newf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
		}
		if c.Database.DSN == "" {
			return errors.New("database DSN must be specified")
		}
		if c.Persistence.FlushInterval <= 0 {
			return errors.New("persistence flush_interval must be positive")
		}
	}

	// Scheduler validation
	if err := c.Scheduler.Validate(); err != nil {
		return errors.Wrap(err, "invalid scheduler configuration")
	}

	// Logging validation
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.Newf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	// Job validation
	seen := make(map[string]bool, len(c.Jobs))
	for i, jc := range c.Jobs {
		if jc.Name == "" {
			return errors.Newf("jobs[%d]: name must be specified", i)
		}
		if seen[jc.Name] {
			return errors.Newf("jobs[%d]: duplicate job name %q", i, jc.Name)
		}
		seen[jc.Name] = true

		if _, err := jc.ParseSchedule(); err != nil {
			return errors.Wrapf(err, "job %q", jc.Name)
		}
		if _, err := jc.Build(nil); err != nil {
			return errors.Wrapf(err, "job %q", jc.Name)
		}
	}

	return nil
}

// ParseLevel maps a configured level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Newf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseSchedule parses the job's schedule spec string
func (jc JobConfig) ParseSchedule() (job.Schedule, error) {
	return schedule.Parse(jc.Schedule)
}

// Build creates the command job described by jc
func (jc JobConfig) Build(logger *slog.Logger) (*command.Job, error) {
	missed, err := job.ParseMissedBehavior(jc.MissedBehavior)
	if err != nil {
		return nil, err
	}

	opts := []command.Option{command.WithMissedBehavior(missed)}
	if jc.Dir != "" {
		opts = append(opts, command.WithDir(jc.Dir))
	}
	if logger != nil {
		opts = append(opts, command.WithLogger(logger))
	}
	return command.New(jc.Name, jc.Command, opts...)
}

// FindJob returns the job configuration named name
func (c *Config) FindJob(name string) (JobConfig, bool) {
	for _, jc := range c.Jobs {
		if jc.Name == name {
			return jc, true
		}
	}
	return JobConfig{}, false
}
