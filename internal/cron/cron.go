package cron

import (
	"time"
)

// maxYearSearch bounds how far ahead an unrestricted year field is searched.
const maxYearSearch = 400

// Expression is a parsed seven field cron expression:
//
//	sec min hour day-of-month month day-of-week [year]
type Expression struct {
	seconds []int // 0-59
	minutes []int // 0-59
	hours   []int // 0-23
	months  []int // 1-12
	years   []int // nil means any year
	days    dayRule

	// Store original expression for debugging
	original string
}

// Parse parses a cron expression and validates all constraints.
// Returns an error marked with ErrParse if:
// - the expression does not have 6 or 7 fields
// - any field contains invalid syntax or out of range values
// - both day-of-month and day-of-week are restricted
func Parse(expr string) (*Expression, error) {
	return parse(expr)
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the expression as it was parsed.
func (e *Expression) String() string {
	return e.original
}

// NextAfter returns the first time strictly after the given time that satisfies
// every field. Sub-second precision is discarded. The result is in after's
// location. Returns false when the year field is exhausted.
func (e *Expression) NextAfter(after time.Time) (time.Time, bool) {
	loc := after.Location()
	start := cursorAt(after).advanceSecond()
	limit := after.Year() + maxYearSearch

	for {
		c, ok := e.search(start, limit)
		if !ok {
			return time.Time{}, false
		}
		next := c.time(loc)
		if next.After(after) {
			return next, true
		}
		// a repeated wall clock hour mapped the match back in time
		start = c.advanceSecond()
	}
}

// Next calculates the next N occurrences of this expression after the given time.
// "After" means strictly after - if 'after' is exactly at a scheduled time, that time is NOT included.
// Fewer than count times are returned when the expression runs out of years.
func (e *Expression) Next(after time.Time, count int) []time.Time {
	results := make([]time.Time, 0, count)

	current := after
	for len(results) < count {
		next, ok := e.NextAfter(current)
		if !ok {
			break
		}
		results = append(results, next)
		current = next
	}

	return results
}

// Between calculates all occurrences within the given time window [start, end).
// Start is inclusive, end is exclusive.
func (e *Expression) Between(start, end time.Time) []time.Time {
	results := []time.Time{}

	current := start.Add(-time.Second)
	for {
		next, ok := e.NextAfter(current)
		if !ok || !next.Before(end) {
			return results
		}
		if !next.Before(start) {
			results = append(results, next)
		}
		current = next
	}
}
