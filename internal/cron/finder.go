package cron

import (
	"sort"
	"time"
)

// part indexes the wall clock components of a cursor.
type part int

const (
	partSecond part = iota
	partMinute
	partHour
	partDay
	partMonth
	partYear
)

// cursor is a wall clock candidate walked like an odometer.
type cursor struct {
	parts [6]int
	limit int // last year an unrestricted year column may reach
}

func cursorAt(t time.Time) cursor {
	var c cursor
	y, m, d := t.Date()
	h, mi, s := t.Clock()
	c.parts = [6]int{s, mi, h, d, int(m), y}
	return c
}

func (c cursor) get(p part) int { return c.parts[p] }

func (c cursor) time(loc *time.Location) time.Time {
	return time.Date(c.parts[partYear], time.Month(c.parts[partMonth]), c.parts[partDay],
		c.parts[partHour], c.parts[partMinute], c.parts[partSecond], 0, loc)
}

// advanceSecond moves the cursor one wall clock second forward.
func (c cursor) advanceSecond() cursor {
	next := cursorAt(c.time(time.UTC).Add(time.Second))
	next.limit = c.limit
	return next
}

// column is one odometer digit of the search.
type column interface {
	part() part
	// nearestTo returns the smallest allowed value >= the cursor's current value.
	nearestTo(c *cursor) (int, bool)
	// nextAfter returns the smallest allowed value > the cursor's current value.
	nextAfter(c *cursor) (int, bool)
	// smallestValue is the value lower columns are reset to before settling.
	smallestValue(c *cursor) int
	setPart(c *cursor, v int)
}

// simpleColumn is a column with a fixed sorted set of allowed values.
type simpleColumn struct {
	p      part
	values []int
}

func (s simpleColumn) part() part { return s.p }

func (s simpleColumn) nearestTo(c *cursor) (int, bool) {
	return firstAtLeast(s.values, c.get(s.p))
}

func (s simpleColumn) nextAfter(c *cursor) (int, bool) {
	return firstAtLeast(s.values, c.get(s.p)+1)
}

func (s simpleColumn) smallestValue(*cursor) int { return s.values[0] }

func (s simpleColumn) setPart(c *cursor, v int) { c.parts[s.p] = v }

// yearColumn allows either a fixed set of years or any year up to the cursor limit.
type yearColumn struct {
	values []int
}

func (y yearColumn) part() part { return partYear }

func (y yearColumn) nearestTo(c *cursor) (int, bool) {
	return y.atLeast(c, c.get(partYear))
}

func (y yearColumn) nextAfter(c *cursor) (int, bool) {
	return y.atLeast(c, c.get(partYear)+1)
}

func (y yearColumn) atLeast(c *cursor, v int) (int, bool) {
	if y.values != nil {
		return firstAtLeast(y.values, v)
	}
	if v > c.limit {
		return 0, false
	}
	return v, true
}

func (y yearColumn) smallestValue(c *cursor) int {
	if y.values != nil {
		return y.values[0]
	}
	return c.get(partYear)
}

func (y yearColumn) setPart(c *cursor, v int) { c.parts[partYear] = v }

// dayColumn recomputes its allowed days for the cursor's year and month.
type dayColumn struct {
	rule dayRule
}

func (d dayColumn) part() part { return partDay }

func (d dayColumn) available(c *cursor) []int {
	return d.rule.days(c.get(partYear), time.Month(c.get(partMonth)))
}

func (d dayColumn) nearestTo(c *cursor) (int, bool) {
	return firstAtLeast(d.available(c), c.get(partDay))
}

func (d dayColumn) nextAfter(c *cursor) (int, bool) {
	return firstAtLeast(d.available(c), c.get(partDay)+1)
}

func (d dayColumn) smallestValue(*cursor) int { return 1 }

func (d dayColumn) setPart(c *cursor, v int) { c.parts[partDay] = v }

// columns returns the search order, most significant first.
func (e *Expression) columns() []column {
	return []column{
		yearColumn{values: e.years},
		simpleColumn{p: partMonth, values: e.months},
		dayColumn{rule: e.days},
		simpleColumn{p: partHour, values: e.hours},
		simpleColumn{p: partMinute, values: e.minutes},
		simpleColumn{p: partSecond, values: e.seconds},
	}
}

// search settles every column against start, carrying into more significant
// columns whenever one runs out of values. The returned cursor is the
// smallest match >= start.
func (e *Expression) search(start cursor, limit int) (cursor, bool) {
	c := start
	c.limit = limit
	cols := e.columns()

	i := 0
	for i < len(cols) {
		col := cols[i]
		if v, ok := col.nearestTo(&c); ok {
			if v != c.get(col.part()) {
				col.setPart(&c, v)
				resetBelow(cols, i, &c)
			}
			i++
			continue
		}

		// carry into the nearest more significant column that can advance
		k := i - 1
		for ; k >= 0; k-- {
			if v, ok := cols[k].nextAfter(&c); ok {
				cols[k].setPart(&c, v)
				break
			}
		}
		if k < 0 {
			return c, false
		}
		resetBelow(cols, k, &c)
		i = k + 1
	}
	return c, true
}

func resetBelow(cols []column, i int, c *cursor) {
	for j := i + 1; j < len(cols); j++ {
		cols[j].setPart(c, cols[j].smallestValue(c))
	}
}

// firstAtLeast returns the first element of a sorted slice that is >= v.
func firstAtLeast(values []int, v int) (int, bool) {
	i := sort.SearchInts(values, v)
	if i == len(values) {
		return 0, false
	}
	return values[i], true
}
