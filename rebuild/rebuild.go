// Package rebuild regenerates a fund's historical snapshots after a
// backdated trade, and backfills snapshots for trading days that were
// never written. It implements portfolio.Rebuilder.
package rebuild

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ledgerfolio/engine/calendar"
	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/money"
	"github.com/ledgerfolio/engine/portfolio"
	"github.com/ledgerfolio/engine/priceservice"
)

// runningPosition tracks the simplified per-day replay state described in
// the spec: shares and cost move together, SELL reduces both
// proportionally at the running average cost. FIFO-accurate realized P&L
// stays in the trade log via the lot engine and is not re-derived here.
type runningPosition struct {
	shares   money.Quantity
	cost     money.Money
	currency string
}

// HistoricalRebuilder implements portfolio.Rebuilder by replaying trades
// day by day and upserting one snapshot per trading day.
type HistoricalRebuilder struct {
	repo     portfolio.Repository
	prices   *priceservice.PriceService
	calendar *calendar.MarketCalendar
	today    func() date.Date
	logger   zerolog.Logger
}

// New builds a HistoricalRebuilder.
func New(repo portfolio.Repository, prices *priceservice.PriceService, cal *calendar.MarketCalendar) *HistoricalRebuilder {
	return &HistoricalRebuilder{
		repo: repo, prices: prices, calendar: cal, today: date.Today,
		logger: log.With().Str("component", "rebuild").Logger(),
	}
}

// RebuildFrom regenerates every trading-day snapshot in [from, today] for
// fund, replaying the full trade history up to each day's close.
func (r *HistoricalRebuilder) RebuildFrom(fund string, from date.Date) error {
	return r.rebuildRange(context.Background(), fund, from, r.today())
}

func (r *HistoricalRebuilder) rebuildRange(ctx context.Context, fund string, from, to date.Date) error {
	trades, err := r.repo.GetTradeHistory(fund, "", portfolio.DateRange{})
	if err != nil {
		return fmt.Errorf("rebuild: load trades for %s: %w", fund, err)
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp.Before(trades[j].Timestamp) })

	for d := from; !d.After(to); d = d.Add(1) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !r.calendar.IsTradingDay(d) {
			continue
		}
		if err := r.rebuildDay(ctx, fund, d, trades); err != nil {
			return fmt.Errorf("rebuild: %s on %s: %w", fund, d, err)
		}
	}
	return nil
}

// rebuildDay replays trades through end-of-day d, fetches each held
// ticker's historical close, and upserts the resulting snapshot.
func (r *HistoricalRebuilder) rebuildDay(ctx context.Context, fund string, d date.Date, trades []portfolio.Trade) error {
	positions := replayThrough(trades, d)

	tickers := make([]string, 0, len(positions))
	for ticker, rp := range positions {
		if rp.shares.IsPositive() {
			tickers = append(tickers, ticker)
		}
	}
	sort.Strings(tickers)

	snapPositions := make([]portfolio.Position, 0, len(tickers))
	for _, ticker := range tickers {
		rp := positions[ticker]
		closePrice, _, err := r.prices.GetHistoricalClose(ctx, ticker, d)
		if err != nil {
			r.logger.Warn().Str("fund", fund).Str("ticker", ticker).Stringer("date", d).Err(err).
				Msg("no close available, carrying last known cost basis")
			snapPositions = append(snapPositions, portfolio.Position{
				Ticker: ticker, Shares: rp.shares, CostBasis: rp.cost, Currency: rp.currency,
				AvgPrice: rp.cost.Div(rp.shares).Round(),
			})
			continue
		}
		closePrice = money.M(closePrice.Decimal(), rp.currency)
		marketValue := closePrice.Mul(rp.shares).Round()
		unrealized := marketValue.Sub(rp.cost).Round()
		snapPositions = append(snapPositions, portfolio.Position{
			Ticker: ticker, Shares: rp.shares, CostBasis: rp.cost, Currency: rp.currency,
			AvgPrice: rp.cost.Div(rp.shares).Round(),
			CurrentPrice: &closePrice, MarketValue: &marketValue, UnrealizedPnL: &unrealized,
		})
	}

	snap := portfolio.PortfolioSnapshot{
		Fund:      fund,
		Timestamp: d,
		Kind:      portfolio.MarketClose,
		Positions: snapPositions,
	}
	return r.repo.SavePortfolioSnapshot(snap, true)
}

// replayThrough computes running per-ticker shares and cost from all
// trades with timestamp <= end-of-day d.
func replayThrough(trades []portfolio.Trade, d date.Date) map[string]runningPosition {
	positions := make(map[string]runningPosition)
	for _, t := range trades {
		if t.Timestamp.After(d) {
			break
		}
		rp := positions[t.Ticker]
		if rp.currency == "" {
			rp.currency = t.Currency
		}
		switch t.Action {
		case portfolio.BUY:
			rp.shares = rp.shares.Add(t.Shares).Round()
			rp.cost = rp.cost.Add(t.CostBasis).Round()
		case portfolio.SELL:
			if rp.shares.IsPositive() {
				avgCost := rp.cost.Div(rp.shares)
				rp.cost = avgCost.Mul(rp.shares.Sub(t.Shares)).Round()
			}
			rp.shares = rp.shares.Sub(t.Shares).Round()
			if !rp.shares.IsPositive() {
				rp.shares = money.Q(0)
				rp.cost = money.M(0, rp.currency)
			}
		}
		positions[t.Ticker] = rp
	}
	return positions
}

// BackfillMissingTradingDays fills every trading day between the fund's
// latest snapshot and today that has no snapshot on record. Each missing
// day is built by the same per-day replay RebuildFrom uses, over the full
// trade history; the latest snapshot's positions are not used as a
// starting point. Existing dates are determined exclusively through the
// repository, never by inspecting backend files directly.
func (r *HistoricalRebuilder) BackfillMissingTradingDays(ctx context.Context, fund string) error {
	latest, ok, err := r.repo.GetLatestPortfolioSnapshot(fund)
	if err != nil {
		return fmt.Errorf("backfill: load latest snapshot for %s: %w", fund, err)
	}
	if !ok {
		return nil
	}

	today := r.today()
	tradingDays := r.calendar.TradingDaysBetween(latest.Timestamp, today)
	if len(tradingDays) == 0 {
		return nil
	}

	existing, err := r.repo.GetPortfolioData(fund, portfolio.DateRange{From: latest.Timestamp, To: today})
	if err != nil {
		return fmt.Errorf("backfill: load existing snapshots for %s: %w", fund, err)
	}
	present := make(map[date.Date]bool, len(existing))
	for _, s := range existing {
		present[s.Timestamp] = true
	}

	var missing []date.Date
	for _, d := range tradingDays {
		if !present[d] {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	trades, err := r.repo.GetTradeHistory(fund, "", portfolio.DateRange{})
	if err != nil {
		return fmt.Errorf("backfill: load trades for %s: %w", fund, err)
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp.Before(trades[j].Timestamp) })

	for _, d := range missing {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.rebuildDay(ctx, fund, d, trades); err != nil {
			return fmt.Errorf("backfill: %s on %s: %w", fund, d, err)
		}
	}
	return nil
}

// Scheduler drives BackfillMissingTradingDays for one fund on a cron
// schedule. It does not run its own goroutine; a host process is expected
// to poll Next and call Run at or after the returned time, the way
// robfig/cron's own Cron type drives any cron.Job. This package never
// starts that loop itself, so embedding it in a long-running service
// remains the host's decision.
type Scheduler struct {
	Fund     string
	schedule cron.Schedule
	rebuild  *HistoricalRebuilder
}

// NewScheduler parses spec using standard five-field cron syntax and binds
// it to fund's backfill job.
func NewScheduler(rebuild *HistoricalRebuilder, fund, spec string) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("rebuild: parse cron schedule %q: %w", spec, err)
	}
	return &Scheduler{Fund: fund, schedule: schedule, rebuild: rebuild}, nil
}

// Next reports when this schedule should next fire on or after now,
// satisfying the same contract as cron.Schedule.Next.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now)
}

// Run executes one backfill pass, implementing cron.Job so a Scheduler can
// be registered directly with a cron.Cron.
func (s *Scheduler) Run() {
	if err := s.rebuild.BackfillMissingTradingDays(context.Background(), s.Fund); err != nil {
		s.rebuild.logger.Error().Str("fund", s.Fund).Err(err).Msg("scheduled backfill failed")
	}
}
