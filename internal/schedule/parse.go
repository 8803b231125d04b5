package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"

	"github.com/livinlefevreloca/chroniton/internal/job"
)

const (
	prefixCron     = "cron:"
	prefixStandard = "standard:"
	prefixEvery    = "every:"
	prefixOnce     = "once:"
	specOnce       = "once"
	specConstant   = "constant"
)

// ErrInvalidSpec marks errors for schedule strings that match no known form.
var ErrInvalidSpec = errors.New("schedule: invalid spec")

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Parse converts a schedule string into a job.Schedule.
//
// Supported forms:
//   - "cron:<expr>" or any 6/7 field expression: Cron
//   - "standard:<expr>", descriptors like "@hourly" / "@every 5m", or any 5 field expression: Standard
//   - "every:<duration>", a bare Go duration like "55m", or HH:MM like "02:30": Every
//   - "once" or "once:<RFC3339>": Once
//   - "constant": Constant
func Parse(raw string) (job.Schedule, error) {
	return ParseWithClock(raw, nil)
}

// ParseWithClock is Parse with the clock handed to clock dependent schedules.
func ParseWithClock(raw string, clock clockwork.Clock) (job.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.Mark(errors.New("schedule required"), ErrInvalidSpec)
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, prefixCron):
		return cronSchedule(strings.TrimSpace(s[len(prefixCron):]))
	case strings.HasPrefix(low, prefixStandard):
		return standardSchedule(strings.TrimSpace(s[len(prefixStandard):]))
	case strings.HasPrefix(low, prefixEvery):
		return everySchedule(s[len(prefixEvery):])
	case low == specOnce:
		return &Once{}, nil
	case strings.HasPrefix(low, prefixOnce):
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(s[len(prefixOnce):]))
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "invalid once time in %q", raw), ErrInvalidSpec)
		}
		return OnceAt(at), nil
	case low == specConstant:
		return NewConstant(clock), nil
	case strings.HasPrefix(s, "@"):
		return standardSchedule(s)
	}

	switch len(strings.Fields(s)) {
	case 5:
		return standardSchedule(s)
	case 6, 7:
		return cronSchedule(s)
	case 1:
		if _, err := parseInterval(s); err == nil {
			return everySchedule(s)
		}
	}

	return nil, errors.Mark(errors.Newf(
		"invalid schedule %q (use cron like '0 */5 * * * ?', a standard spec like '@hourly', or a duration like '55m')",
		raw,
	), ErrInvalidSpec)
}

// The helpers below keep a nil concrete pointer from becoming a non-nil
// job.Schedule on error.

func cronSchedule(expr string) (job.Schedule, error) {
	c, err := NewCron(expr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func standardSchedule(spec string) (job.Schedule, error) {
	s, err := NewStandard(spec)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidSpec)
	}
	return s, nil
}

func everySchedule(v string) (job.Schedule, error) {
	d, err := parseInterval(v)
	if err != nil {
		return nil, err
	}
	e, err := NewEvery(d)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidSpec)
	}
	return e, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errors.Mark(errors.New("interval required"), ErrInvalidSpec)
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, errors.Mark(errors.Newf("invalid minutes in %q", v), ErrInvalidSpec)
		}
		return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Mark(errors.Newf("invalid interval %q (use HH:MM or Go duration like '55m')", v), ErrInvalidSpec)
	}
	return d, nil
}

// SpecOf returns the string form of s, or false when s cannot be persisted.
func SpecOf(s job.Schedule) (string, bool) {
	sp, ok := s.(Spec)
	if !ok {
		return "", false
	}
	return sp.Spec(), true
}
