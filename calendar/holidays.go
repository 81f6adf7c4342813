package calendar

import (
	"time"

	"github.com/ledgerfolio/engine/date"
)

// holidaysForYear returns the combined US+Canada market holiday list for a
// single calendar year. Holidays observed on a weekend shift to the nearest
// weekday the way the NYSE and TSX both do: Saturday holidays move to the
// preceding Friday, Sunday holidays move to the following Monday.
func holidaysForYear(y int) []date.Date {
	days := []date.Date{
		observed(date.New(y, time.January, 1)),   // New Year's Day
		nthWeekday(y, time.January, time.Monday, 3),   // Martin Luther King Jr. Day
		nthWeekday(y, time.February, time.Monday, 3),  // Presidents' Day / Family Day
		goodFriday(y),
		lastWeekday(y, time.May, time.Monday), // Memorial Day / Victoria Day (same week in practice)
		observed(date.New(y, time.July, 1)),   // Canada Day
		observed(date.New(y, time.July, 4)),   // Independence Day
		nthWeekday(y, time.September, time.Monday, 1), // Labor Day
		nthWeekday(y, time.October, time.Monday, 2),   // Thanksgiving (Canada) / Columbus Day window
		observed(date.New(y, time.November, 11)), // Veterans Day / Remembrance Day
		nthWeekday(y, time.November, time.Thursday, 4), // Thanksgiving (US)
		observed(date.New(y, time.December, 25)), // Christmas Day
		observed(date.New(y, time.December, 26)), // Boxing Day
	}
	return days
}

// observed shifts a fixed-date holiday off weekends per NYSE/TSX convention.
func observed(d date.Date) date.Date {
	switch d.Weekday() {
	case time.Saturday:
		return d.Add(-1)
	case time.Sunday:
		return d.Add(1)
	default:
		return d
	}
}

// nthWeekday returns the date of the nth occurrence of weekday in month/year.
func nthWeekday(y int, month time.Month, weekday time.Weekday, n int) date.Date {
	d := date.New(y, month, 1)
	offset := int(weekday - d.Weekday())
	if offset < 0 {
		offset += 7
	}
	return d.Add(offset + 7*(n-1))
}

// lastWeekday returns the date of the last occurrence of weekday in month/year.
func lastWeekday(y int, month time.Month, weekday time.Weekday) date.Date {
	d := date.New(y, month+1, 0) // last day of month
	offset := int(d.Weekday() - weekday)
	if offset < 0 {
		offset += 7
	}
	return d.Add(-offset)
}

// goodFriday returns the date of Good Friday for the given year, computed
// via the anonymous Gregorian algorithm for the date of Easter Sunday.
func goodFriday(y int) date.Date {
	a := y % 19
	b := y / 100
	c := y % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := date.New(y, time.Month(month), day)
	return easter.Add(-2)
}
