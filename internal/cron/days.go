package cron

import (
	"sort"
	"time"
)

// dayRule yields the allowed days of a given month.
type dayRule interface {
	days(year int, month time.Month) []int
}

// anyDay allows every day of the month.
type anyDay struct{}

func (anyDay) days(year int, month time.Month) []int {
	return expandRange(1, lastDayOf(year, month))
}

// domItem is one comma separated element of the day-of-month field.
type domItem struct {
	day     int  // 1-31, 0 when last is set
	last    bool // L
	weekday bool // NW
}

// monthDays implements the day-of-month field.
type monthDays struct {
	items []domItem
}

func (m monthDays) days(year int, month time.Month) []int {
	last := lastDayOf(year, month)
	out := make([]int, 0, len(m.items))
	for _, item := range m.items {
		day := item.day
		if item.last || day > last {
			day = last
		}
		if item.weekday {
			day = nearestWeekday(year, month, day, last)
		}
		out = append(out, day)
	}
	return sortedUnique(out)
}

// nearestWeekday moves a Saturday back to Friday and a Sunday forward to
// Monday without leaving the month.
func nearestWeekday(year int, month time.Month, day, last int) int {
	switch time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Weekday() {
	case time.Saturday:
		if day == 1 {
			return 3
		}
		return day - 1
	case time.Sunday:
		if day == last {
			return day - 2
		}
		return day + 1
	}
	return day
}

// dowItem is one comma separated element of the day-of-week field.
type dowItem struct {
	weekday time.Weekday
	nth     int  // N#K, 0 when unset
	last    bool // NL or N#5
}

// weekDays implements the day-of-week field.
type weekDays struct {
	items []dowItem
}

func (w weekDays) days(year int, month time.Month) []int {
	last := lastDayOf(year, month)
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()

	var out []int
	for _, item := range w.items {
		// first day of the month falling on the item's weekday
		start := 1 + (int(item.weekday)-int(first)+7)%7

		switch {
		case item.last:
			day := start
			for day+7 <= last {
				day += 7
			}
			out = append(out, day)
		case item.nth > 0:
			day := start + 7*(item.nth-1)
			if day <= last {
				out = append(out, day)
			}
		default:
			for day := start; day <= last; day += 7 {
				out = append(out, day)
			}
		}
	}
	return sortedUnique(out)
}

func lastDayOf(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func sortedUnique(vals []int) []int {
	sort.Ints(vals)
	return deduplicate(vals)
}
