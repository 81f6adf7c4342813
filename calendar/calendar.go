// Package calendar implements trading-day and market-session logic for the
// combined US+Canada equity market calendar used throughout this module.
// All wall-clock comparisons happen in the configured trading timezone;
// conversion to UTC is left to callers at the moment of persistence.
package calendar

import (
	"time"

	"github.com/ledgerfolio/engine/date"
)

// Eastern is the trading timezone for US and Canadian equity markets.
var Eastern = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// America/New_York ships with every Go distribution's tzdata fallback;
		// a missing entry means a broken runtime, not a recoverable condition.
		panic("calendar: " + err.Error())
	}
	return loc
}

// openHour, openMinute, closeHour describe the regular trading session on
// both the NYSE/NASDAQ and the TSX, which share hours.
const (
	openHour    = 9
	openMinute  = 30
	closeHour   = 16
	closeMinute = 0
)

// MarketCalendar answers trading-day and trading-session questions for the
// combined US+Canada holiday list, in Eastern time.
type MarketCalendar struct {
	holidays map[date.Date]bool
}

// New builds a MarketCalendar with the combined US+Canada holiday list
// spanning the given years (inclusive). Callers pass the range of years
// they expect to query; New precomputes observed holiday dates for each.
func New(fromYear, toYear int) *MarketCalendar {
	c := &MarketCalendar{holidays: make(map[date.Date]bool)}
	for y := fromYear; y <= toYear; y++ {
		for _, h := range holidaysForYear(y) {
			c.holidays[h] = true
		}
	}
	return c
}

// TradingTimezone returns the timezone all calendar computations are
// performed in.
func (c *MarketCalendar) TradingTimezone() *time.Location { return Eastern }

// IsTradingDay reports whether d is a weekday that is not a market holiday.
func (c *MarketCalendar) IsTradingDay(d date.Date) bool {
	wd := d.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidays[d]
}

// MarketOpenTime returns the market open instant, in Eastern time, for d.
func (c *MarketCalendar) MarketOpenTime(d date.Date) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), openHour, openMinute, 0, 0, Eastern)
}

// MarketCloseTime returns the market close instant, in Eastern time, for d.
func (c *MarketCalendar) MarketCloseTime(d date.Date) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), closeHour, closeMinute, 0, 0, Eastern)
}

// IsMarketOpen reports whether the market is in its regular trading session
// at the given instant.
func (c *MarketCalendar) IsMarketOpen(at time.Time) bool {
	at = at.In(Eastern)
	today := date.New(at.Date())
	if !c.IsTradingDay(today) {
		return false
	}
	open, close := c.MarketOpenTime(today), c.MarketCloseTime(today)
	return !at.Before(open) && !at.After(close)
}

// NextTradingDay returns the first trading day strictly after d.
func (c *MarketCalendar) NextTradingDay(d date.Date) date.Date {
	next := d.Add(1)
	for !c.IsTradingDay(next) {
		next = next.Add(1)
	}
	return next
}

// PreviousTradingDay returns the first trading day strictly before d.
func (c *MarketCalendar) PreviousTradingDay(d date.Date) date.Date {
	prev := d.Add(-1)
	for !c.IsTradingDay(prev) {
		prev = prev.Add(-1)
	}
	return prev
}

// TradingDaysBetween returns every trading day in the closed interval [a, b].
// If b is before a, it returns an empty slice.
func (c *MarketCalendar) TradingDaysBetween(a, b date.Date) []date.Date {
	var days []date.Date
	for d := a; !d.After(b); d = d.Add(1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// MarketEvent names the kind of session boundary NextEvent reports.
type MarketEvent string

const (
	EventOpen  MarketEvent = "open"
	EventClose MarketEvent = "close"
)

// NextEvent returns the next market open or close instant strictly after
// at, and which kind of event it is: "close" while the market is currently
// in session, "open" otherwise.
func (c *MarketCalendar) NextEvent(at time.Time) (time.Time, MarketEvent) {
	at = at.In(Eastern)
	if c.IsMarketOpen(at) {
		today := date.New(at.Date())
		return c.MarketCloseTime(today), EventClose
	}

	today := date.New(at.Date())
	if c.IsTradingDay(today) {
		open := c.MarketOpenTime(today)
		if at.Before(open) {
			return open, EventOpen
		}
	}
	next := c.NextTradingDay(today)
	return c.MarketOpenTime(next), EventOpen
}

// LastTradingDate returns the most recent trading date as of the given
// instant. On a trading day before market open, it returns the previous
// trading day; otherwise the trading day containing at, or the most recent
// trading day before it for weekends and holidays.
func (c *MarketCalendar) LastTradingDate(at time.Time) date.Date {
	at = at.In(Eastern)
	today := date.New(at.Date())
	if c.IsTradingDay(today) {
		if at.Before(c.MarketOpenTime(today)) {
			return c.PreviousTradingDay(today)
		}
		return today
	}
	return c.PreviousTradingDay(today)
}
