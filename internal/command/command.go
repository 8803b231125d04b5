// Package command provides a job that runs an operating system command line.
package command

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	"github.com/livinlefevreloca/chroniton/internal/job"
)

// ScheduledTimeEnv carries the entry's run time into the child process.
const ScheduledTimeEnv = "CHRONITON_SCHEDULED_TIME"

// maxLoggedOutput bounds the command output copied into log records.
const maxLoggedOutput = 4096

// ErrEmptyCommand is returned by New for a blank command line.
var ErrEmptyCommand = errors.New("command: empty command line")

// Option configures a command Job.
type Option func(*Job)

// WithMissedBehavior sets what happens when the job's schedule falls behind.
func WithMissedBehavior(b job.MissedBehavior) Option {
	return func(j *Job) { j.missed = b }
}

// WithDir sets the working directory.
func WithDir(dir string) Option {
	return func(j *Job) { j.dir = dir }
}

// WithEnv adds KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(j *Job) { j.env = append(j.env, env...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Job) { j.logger = l }
}

// Job runs a command line split with shell quoting rules. No shell is involved.
type Job struct {
	name   string
	line   string
	args   []string
	missed job.MissedBehavior
	dir    string
	env    []string
	logger *slog.Logger
}

// New parses line and returns a job named name.
func New(name, line string, opts ...Option) (*Job, error) {
	args, err := shellquote.Split(line)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse command line for %q", name)
	}
	if len(args) == 0 {
		return nil, errors.Wrapf(ErrEmptyCommand, "job %q", name)
	}

	j := &Job{
		name: name,
		line: line,
		args: args,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j, nil
}

func (j *Job) Name() string                       { return j.name }
func (j *Job) MissedBehavior() job.MissedBehavior { return j.missed }

// Line returns the command line as configured.
func (j *Job) Line() string { return j.line }

// Args returns a copy of the parsed argument vector.
func (j *Job) Args() []string {
	return append([]string(nil), j.args...)
}

// Execute runs the command and waits for it. A non-zero exit is returned as
// an error wrapping *exec.ExitError.
func (j *Job) Execute(ctx context.Context, scheduledTime time.Time) error {
	cmd := exec.CommandContext(ctx, j.args[0], j.args[1:]...)
	cmd.Dir = j.dir
	cmd.Env = append(os.Environ(), j.env...)
	cmd.Env = append(cmd.Env, ScheduledTimeEnv+"="+scheduledTime.Format(time.RFC3339))

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		j.logger.Warn("command failed",
			"job", j.name,
			"command", j.args[0],
			"duration", duration,
			"output", truncate(output.String()),
			"error", err)
		return errors.Wrapf(err, "command %q failed", j.args[0])
	}

	j.logger.Debug("command finished",
		"job", j.name,
		"command", j.args[0],
		"duration", duration,
		"output", truncate(output.String()))
	return nil
}

// ExitCode extracts the process exit code from an Execute error, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLoggedOutput {
		return s[:maxLoggedOutput] + "..."
	}
	return s
}
