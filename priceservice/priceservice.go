// Package priceservice orchestrates fetch, cache, and the trading calendar
// to answer the questions the rest of the module asks about prices: what
// did a ticker close at on a given day, what is it worth right now, and
// does today's portfolio snapshot need refreshing at all.
package priceservice

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerfolio/engine/cache"
	"github.com/ledgerfolio/engine/calendar"
	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/fetch"
	"github.com/ledgerfolio/engine/money"
	"github.com/ledgerfolio/engine/portfolio"
)

// Mode selects whether UpdatePositionsWithPrices uses the live or a
// historical close price.
type Mode int

const (
	Current Mode = iota
	Historical
)

// FetchStats reports the cache-hit/miss breakdown for one batch fetch, for
// observability per the spec's cache-first-strategy reporting requirement.
type FetchStats struct {
	CacheHits int
	APICalls  int
}

// PriceService is the single place that knows how to turn a ticker into a
// price, preferring the cache and falling through to the fetcher.
type PriceService struct {
	fetcher      *fetch.MarketDataFetcher
	prices       *cache.PriceCache
	fundamentals *cache.FundamentalsCache
	calendar     *calendar.MarketCalendar
	now          func() time.Time
}

// New builds a PriceService over an already-constructed fetcher and caches.
func New(fetcher *fetch.MarketDataFetcher, prices *cache.PriceCache, fundamentals *cache.FundamentalsCache, cal *calendar.MarketCalendar) *PriceService {
	return &PriceService{fetcher: fetcher, prices: prices, fundamentals: fundamentals, calendar: cal, now: time.Now}
}

// GetHistoricalPrices fetches per-ticker frames for [start, end], checking
// the price cache first and fanning remaining tickers out to the fetcher
// concurrently. A per-ticker error does not fail the batch; it is recorded
// in the returned error map and that ticker is simply absent from frames.
func (s *PriceService) GetHistoricalPrices(ctx context.Context, tickers []string, start, end date.Date) (map[string]fetch.Frame, FetchStats, map[string]error) {
	frames := make(map[string]fetch.Frame, len(tickers))
	errs := make(map[string]error)
	var stats FetchStats

	var misses []string
	for _, t := range tickers {
		if f, ok := s.prices.Get(t); ok {
			frames[t] = f
			stats.CacheHits++
			continue
		}
		misses = append(misses, t)
	}

	type result struct {
		ticker string
		frame  fetch.Frame
		err    error
	}
	results := make(chan result, len(misses))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range misses {
		t := t
		g.Go(func() error {
			frame, err := s.fetcher.FetchPrices(gctx, t, start, end)
			results <- result{ticker: t, frame: frame, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		stats.APICalls++
		if r.err != nil {
			errs[r.ticker] = r.err
			continue
		}
		frames[r.ticker] = r.frame
		s.prices.Put(r.ticker, r.frame, s.now())
	}

	return frames, stats, errs
}

// GetHistoricalClose resolves ticker's close on d using the fallback
// window from the rebuild algorithm: exact day, then +/-1 day, then +/-3
// days, returning the latest available close at or before d.
func (s *PriceService) GetHistoricalClose(ctx context.Context, ticker string, d date.Date) (money.Money, date.Date, error) {
	for _, window := range []int{0, 1, 3} {
		from, to := d.Add(-window), d.Add(window)
		frame, err := s.fetcher.FetchPrices(ctx, ticker, from, to)
		if err != nil || len(frame.Bars) == 0 {
			continue
		}
		var best *fetch.Bar
		for i := range frame.Bars {
			b := &frame.Bars[i]
			if b.Date.After(d) {
				continue
			}
			if best == nil || b.Date.After(best.Date) {
				best = b
			}
		}
		if best != nil {
			return money.M(best.AdjClose, ""), best.Date, nil
		}
	}
	return money.Money{}, date.Date{}, fmt.Errorf("priceservice: no close available for %s within 3 days of %s", ticker, d)
}

// GetCurrentPrices returns the latest price per ticker, fetched fresh every
// call and never written to the persistent cache: current prices are
// session-scoped, not persisted as official data.
func (s *PriceService) GetCurrentPrices(ctx context.Context, tickers []string) (map[string]money.Money, map[string]error) {
	today := date.Today()
	prices := make(map[string]money.Money, len(tickers))
	errs := make(map[string]error)

	type result struct {
		ticker string
		price  money.Money
		err    error
	}
	results := make(chan result, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tickers {
		t := t
		g.Go(func() error {
			frame, err := s.fetcher.FetchPrices(gctx, t, today.Add(-5), today)
			if err != nil {
				results <- result{ticker: t, err: err}
				return nil
			}
			last, ok := frame.Latest()
			if !ok {
				results <- result{ticker: t, err: fmt.Errorf("priceservice: no recent bar for %s", t)}
				return nil
			}
			results <- result{ticker: t, price: money.M(last.AdjClose, "")}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			errs[r.ticker] = r.err
			continue
		}
		prices[r.ticker] = r.price
	}
	return prices, errs
}

// UpdatePositionsWithPrices returns new Position values with current_price,
// market_value, and unrealized_pnl refreshed from either live or
// historical prices. A position whose price fetch fails is returned
// unchanged, never with a zeroed price.
func (s *PriceService) UpdatePositionsWithPrices(ctx context.Context, positions []portfolio.Position, mode Mode, asOf date.Date) []portfolio.Position {
	tickers := make([]string, len(positions))
	for i, p := range positions {
		tickers[i] = p.Ticker
	}

	prices := make(map[string]money.Money, len(positions))
	switch mode {
	case Current:
		got, _ := s.GetCurrentPrices(ctx, tickers)
		prices = got
	case Historical:
		for _, t := range tickers {
			if closePrice, _, err := s.GetHistoricalClose(ctx, t, asOf); err == nil {
				prices[t] = closePrice
			}
		}
	}

	out := make([]portfolio.Position, len(positions))
	for i, p := range positions {
		price, ok := prices[p.Ticker]
		if !ok {
			out[i] = p
			continue
		}
		out[i] = p.WithCurrentPrice(money.M(price.Decimal(), p.Currency))
	}
	return out
}

// Decision is the outcome of ShouldUpdatePortfolio.
type Decision int

const (
	NoUpdate Decision = iota
	UpdateCurrent
	UpdateBackfillThenCurrent
	UpdateHistoricalClose
)

// ShouldUpdatePortfolio implements the spec's decision table: whether and
// how the fund's portfolio snapshot needs refreshing given the latest
// snapshot on record and the current moment.
func (s *PriceService) ShouldUpdatePortfolio(hasSnapshot bool, latestDate date.Date, latestIsMarketClose bool, now time.Time) Decision {
	today := date.New(now.In(calendar.Eastern).Date())
	isTradingDay := s.calendar.IsTradingDay(today)

	if !hasSnapshot {
		if isTradingDay {
			return UpdateCurrent
		}
		return NoUpdate
	}

	if latestDate.Before(today) {
		if len(s.calendar.TradingDaysBetween(latestDate.Add(1), today)) > 0 {
			return UpdateBackfillThenCurrent
		}
		return NoUpdate
	}

	marketOpen := s.calendar.IsMarketOpen(now)
	if marketOpen {
		return UpdateCurrent
	}
	if latestIsMarketClose {
		return NoUpdate
	}
	return UpdateHistoricalClose
}
