package cron

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrParse marks every error returned for a malformed expression.
var ErrParse = errors.New("cron: invalid expression")

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dayNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "THUR": 4, "FRI": 5, "SAT": 6,
}

// bounds describes the value range and syntax allowed in one field.
type bounds struct {
	name    string
	min     int
	max     int
	modulus int // non-zero when steps are allowed
	names   map[string]int
}

var (
	secondBounds = bounds{name: "second", min: 0, max: 59, modulus: 60}
	minuteBounds = bounds{name: "minute", min: 0, max: 59, modulus: 60}
	hourBounds   = bounds{name: "hour", min: 0, max: 23, modulus: 24}
	domBounds    = bounds{name: "day-of-month", min: 1, max: 31}
	monthBounds  = bounds{name: "month", min: 1, max: 12, names: monthNames}
	dowBounds    = bounds{name: "day-of-week", min: 0, max: 6, names: dayNames}
	yearBounds   = bounds{name: "year", min: 1, max: 9999}
)

func parseErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrParse)
}

// parse parses a cron expression into an Expression
func parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)

	if len(fields) != 6 && len(fields) != 7 {
		return nil, parseErrorf("invalid cron expression %q: expected 6 or 7 fields, got %d", expr, len(fields))
	}
	if len(fields) == 6 {
		fields = append(fields, "*")
	}

	e := &Expression{original: expr}

	var err error
	if e.seconds, err = parseField(fields[0], secondBounds); err != nil {
		return nil, err
	}
	if e.minutes, err = parseField(fields[1], minuteBounds); err != nil {
		return nil, err
	}
	if e.hours, err = parseField(fields[2], hourBounds); err != nil {
		return nil, err
	}
	if e.months, err = parseField(fields[4], monthBounds); err != nil {
		return nil, err
	}
	if !isWildcard(fields[6]) {
		if e.years, err = parseField(fields[6], yearBounds); err != nil {
			return nil, err
		}
	}

	dom, dow := fields[3], fields[5]
	switch {
	case !isWildcard(dom) && !isWildcard(dow):
		return nil, parseErrorf("invalid cron expression %q: day-of-month and day-of-week cannot both be restricted", expr)
	case !isWildcard(dom):
		if e.days, err = parseMonthDays(dom); err != nil {
			return nil, err
		}
	case !isWildcard(dow):
		if e.days, err = parseWeekDays(dow); err != nil {
			return nil, err
		}
	default:
		e.days = anyDay{}
	}

	return e, nil
}

func isWildcard(field string) bool {
	return field == "*" || field == "?"
}

// parseField parses a simple enumerable field into a sorted set of values
func parseField(field string, b bounds) ([]int, error) {
	if field == "?" {
		return nil, parseErrorf("invalid %s field: '?' is only allowed for day-of-month and day-of-week", b.name)
	}

	// Handle wildcard
	if field == "*" {
		return expandRange(b.min, b.max), nil
	}

	// Handle step values: */N or V/N
	if strings.Contains(field, "/") {
		return parseStep(field, b)
	}

	return parseList(field, b)
}

// parseStep expands a step expression into the equivalent list of values
func parseStep(field string, b bounds) ([]int, error) {
	if b.modulus == 0 {
		return nil, parseErrorf("invalid %s field %q: steps are not allowed", b.name, field)
	}

	parts := strings.Split(field, "/")
	if len(parts) != 2 {
		return nil, parseErrorf("invalid %s field %q: invalid step syntax", b.name, field)
	}

	step, err := strconv.Atoi(parts[1])
	if err != nil || step <= 0 {
		return nil, parseErrorf("invalid %s field %q: step must be a positive integer", b.name, field)
	}
	if b.modulus%step != 0 {
		return nil, parseErrorf("invalid %s field %q: step %d does not divide %d", b.name, field, step, b.modulus)
	}

	start := b.min
	if parts[0] != "*" {
		start, err = parseValue(parts[0], b)
		if err != nil {
			return nil, err
		}
	}

	result := []int{}
	for v := start; v <= b.max; v += step {
		result = append(result, v)
	}
	return result, nil
}

// parseList parses comma-separated values and ranges like 1,3-5
func parseList(field string, b bounds) ([]int, error) {
	result := []int{}

	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return nil, parseErrorf("invalid %s field %q: empty value in list", b.name, field)
		}

		start, end, err := parseRange(part, b)
		if err != nil {
			return nil, err
		}
		result = append(result, expandRange(start, end)...)
	}

	return sortedUnique(result), nil
}

// parseRange parses a range like 1-5 or a single value, which is returned as
// a range of one
func parseRange(part string, b bounds) (int, int, error) {
	lo, hi, isRange := strings.Cut(part, "-")

	start, err := parseValue(lo, b)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return start, start, nil
	}

	end, err := parseValue(hi, b)
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, parseErrorf("invalid %s field: range start %d > end %d", b.name, start, end)
	}
	return start, end, nil
}

// parseValue parses a single integer or name
func parseValue(s string, b bounds) (int, error) {
	if v, ok := b.names[strings.ToUpper(s)]; ok {
		return v, nil
	}

	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, parseErrorf("invalid %s value %q", b.name, s)
	}
	if val < b.min || val > b.max {
		return 0, parseErrorf("invalid %s value: %d out of bounds [%d, %d]", b.name, val, b.min, b.max)
	}
	return val, nil
}

// parseMonthDays parses a restricted day-of-month field: values, ranges, L and NW
func parseMonthDays(field string) (dayRule, error) {
	var items []domItem

	for _, part := range strings.Split(field, ",") {
		switch {
		case part == "":
			return nil, parseErrorf("invalid day-of-month field %q: empty value in list", field)
		case strings.EqualFold(part, "L"):
			items = append(items, domItem{last: true})
		case len(part) > 1 && (part[len(part)-1] == 'W' || part[len(part)-1] == 'w'):
			day, err := parseValue(part[:len(part)-1], domBounds)
			if err != nil {
				return nil, err
			}
			items = append(items, domItem{day: day, weekday: true})
		default:
			start, end, err := parseRange(part, domBounds)
			if err != nil {
				return nil, err
			}
			for day := start; day <= end; day++ {
				items = append(items, domItem{day: day})
			}
		}
	}

	return monthDays{items: items}, nil
}

// parseWeekDays parses a restricted day-of-week field: values, names, ranges,
// N#K and NL
func parseWeekDays(field string) (dayRule, error) {
	var items []dowItem

	for _, part := range strings.Split(field, ",") {
		switch {
		case part == "":
			return nil, parseErrorf("invalid day-of-week field %q: empty value in list", field)
		case strings.Contains(part, "#"):
			day, nth, _ := strings.Cut(part, "#")
			weekday, err := parseValue(day, dowBounds)
			if err != nil {
				return nil, err
			}
			k, err := strconv.Atoi(nth)
			if err != nil || k < 1 || k > 5 {
				return nil, parseErrorf("invalid day-of-week field %q: occurrence must be between 1 and 5", field)
			}
			if k == 5 {
				items = append(items, dowItem{weekday: time.Weekday(weekday), last: true})
			} else {
				items = append(items, dowItem{weekday: time.Weekday(weekday), nth: k})
			}
		case len(part) > 1 && (part[len(part)-1] == 'L' || part[len(part)-1] == 'l'):
			weekday, err := parseValue(part[:len(part)-1], dowBounds)
			if err != nil {
				return nil, err
			}
			items = append(items, dowItem{weekday: time.Weekday(weekday), last: true})
		default:
			start, end, err := parseRange(part, dowBounds)
			if err != nil {
				return nil, err
			}
			for day := start; day <= end; day++ {
				items = append(items, dowItem{weekday: time.Weekday(day)})
			}
		}
	}

	return weekDays{items: items}, nil
}

// expandRange returns all values from min to max inclusive
func expandRange(min, max int) []int {
	result := make([]int, max-min+1)
	for i := range result {
		result[i] = min + i
	}
	return result
}

// deduplicate removes duplicate values from a sorted slice
func deduplicate(vals []int) []int {
	if len(vals) == 0 {
		return vals
	}

	result := []int{vals[0]}
	for i := 1; i < len(vals); i++ {
		if vals[i] != vals[i-1] {
			result = append(result, vals[i])
		}
	}
	return result
}
