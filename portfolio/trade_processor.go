package portfolio

import (
	"fmt"
	"log"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/lots"
	"github.com/ledgerfolio/engine/money"
)

// DustThreshold is the market-value floor below which a remaining position
// is swept by an automatic zero-out cleanup trade rather than left open.
var DustThreshold = money.M(1, "")

// Rebuilder regenerates historical snapshots after a backdated trade.
// Defined here, rather than depending on the rebuild package directly, to
// keep portfolio at the bottom of the dependency graph; rebuild.HistoricalRebuilder
// implements this interface and is wired in by the caller that constructs
// a TradeProcessor.
type Rebuilder interface {
	RebuildFrom(fund string, from date.Date) error
}

// TradeProcessor is the single entry point for recording trades and
// keeping a fund's latest snapshot and lot ledger consistent with them.
type TradeProcessor struct {
	repo     Repository
	rebuild  Rebuilder
	calendar interface{ IsTradingDay(date.Date) bool }
	engines  map[string]*lots.Engine // fund -> FIFO engine, lazily built
	today    func() date.Date
}

// NewTradeProcessor returns a TradeProcessor. cal and rebuild may be nil in
// tests that only exercise same-day trades against the current snapshot.
func NewTradeProcessor(repo Repository, cal interface{ IsTradingDay(date.Date) bool }, rebuild Rebuilder) *TradeProcessor {
	return &TradeProcessor{
		repo:     repo,
		rebuild:  rebuild,
		calendar: cal,
		engines:  make(map[string]*lots.Engine),
		today:    date.Today,
	}
}

func (p *TradeProcessor) engineFor(fund string) (*lots.Engine, error) {
	if e, ok := p.engines[fund]; ok {
		return e, nil
	}
	trades, err := p.repo.GetTradeHistory(fund, "", DateRange{})
	if err != nil {
		return nil, fmt.Errorf("trade processor: load history for %s: %w", fund, err)
	}
	e := lots.NewEngine()
	inputs := make([]lots.TradeInput, len(trades))
	for i, t := range trades {
		side := lots.Buy
		if t.Action == SELL {
			side = lots.Sell
		}
		inputs[i] = lots.TradeInput{
			Ticker:    t.Ticker,
			Side:      side,
			Shares:    t.Shares,
			Price:     t.Price,
			Timestamp: t.Timestamp.UnixNano(),
		}
	}
	if errs := e.RebuildFromTrades(inputs); len(errs) > 0 {
		for _, err := range errs {
			log.Printf("trade processor: %s: lot ledger replay: %v", fund, err)
		}
	}
	p.engines[fund] = e
	return e, nil
}

// ExecuteBuy validates and records a BUY, updating or inserting the
// Position in the fund's latest snapshot. The returned Warning is non-nil
// when the fund's recorded cash balance looks short of the trade's cost
// basis; it never blocks the trade.
func (p *TradeProcessor) ExecuteBuy(fund, ticker string, shares money.Quantity, price money.Money, on date.Date, reason string) (Trade, *Warning, error) {
	trade, err := NewTrade(fund, ticker, BUY, shares, price, on, reason)
	if err != nil {
		return Trade{}, nil, err
	}
	warn := p.checkFundSufficiency(fund, trade.CostBasis)
	if err := p.processTradeEntry(trade, true, false); err != nil {
		return Trade{}, nil, err
	}
	// Drop the cached lot ledger so the next sell replays this buy.
	delete(p.engines, fund)
	return trade, warn, nil
}

// checkFundSufficiency is advisory only: it never blocks a BUY, it just
// reports when the fund's last recorded cash balance would go negative.
func (p *TradeProcessor) checkFundSufficiency(fund string, cost money.Money) *Warning {
	snap, ok, err := p.repo.GetLatestPortfolioSnapshot(fund)
	if err != nil || !ok || snap.CashBalance == nil {
		return nil
	}
	if cost.GreaterThan(*snap.CashBalance) {
		insufficient := &InsufficientFunds{Fund: fund, Requested: cost, Available: *snap.CashBalance}
		return &Warning{Reason: insufficient.Error()}
	}
	return nil
}

// ExecuteSell validates sufficiency against the latest snapshot, computes
// FIFO realized P&L, and records a SELL.
func (p *TradeProcessor) ExecuteSell(fund, ticker string, shares money.Quantity, price money.Money, on date.Date, reason string) (Trade, error) {
	return p.executeSell(fund, ticker, shares, price, on, reason, true)
}

// ExecuteStopLossSell behaves like ExecuteSell but skips the share check
// against the latest snapshot. The FIFO lot ledger still rejects a sell
// larger than the shares remaining in its lots.
func (p *TradeProcessor) ExecuteStopLossSell(fund, ticker string, shares money.Quantity, price money.Money, on date.Date) (Trade, error) {
	return p.executeSell(fund, ticker, shares, price, on, "stop_loss", false)
}

func (p *TradeProcessor) executeSell(fund, ticker string, shares money.Quantity, price money.Money, on date.Date, reason string, enforceSufficiency bool) (Trade, error) {
	ticker = Ticker(ticker)
	trade, err := NewTrade(fund, ticker, SELL, shares, price, on, reason)
	if err != nil {
		return Trade{}, err
	}

	if enforceSufficiency {
		snap, ok, err := p.repo.GetLatestPortfolioSnapshot(fund)
		if err != nil {
			return Trade{}, fmt.Errorf("trade processor: sell %s: %w", ticker, err)
		}
		if ok {
			if pos, found := snap.PositionByTicker(ticker); found && pos.Shares.LessThan(shares) {
				return Trade{}, &InsufficientShares{Ticker: ticker, Requested: shares, Available: pos.Shares}
			}
		}
	}

	engine, err := p.engineFor(fund)
	if err != nil {
		return Trade{}, err
	}
	slices, err := engine.SellFIFO(ticker, shares, price)
	if err != nil {
		return Trade{}, fmt.Errorf("trade processor: sell %s: %w", ticker, err)
	}
	realized := money.M(0, price.Currency())
	for _, s := range slices {
		realized = realized.Add(s.RealizedPnL)
	}
	realized = realized.Round()
	trade.RealizedPnL = &realized

	if err := p.processTradeEntry(trade, true, false); err != nil {
		return Trade{}, err
	}

	if !trade.Timestamp.Before(p.today()) {
		if err := p.closeDust(fund, ticker, trade.Price, trade.Timestamp); err != nil {
			return Trade{}, fmt.Errorf("trade processor: dust cleanup %s: %w", ticker, err)
		}
	}
	return trade, nil
}

// closeDust appends a zero-out cleanup trade when the shares left over
// after a sell are worth less than DustThreshold at the sell's own price,
// so a fractional remainder never lingers as an open position.
func (p *TradeProcessor) closeDust(fund, ticker string, lastPrice money.Money, on date.Date) error {
	engine, err := p.engineFor(fund)
	if err != nil {
		return err
	}
	remaining := engine.RemainingShares(ticker)
	if !remaining.IsPositive() {
		return nil
	}
	remainingValue := lastPrice.Mul(remaining)
	if !IsDust(Position{Shares: remaining, MarketValue: &remainingValue}) {
		return nil
	}

	cleanupPrice := money.M(0.01, lastPrice.Currency())
	slices, err := engine.SellFIFO(ticker, remaining, cleanupPrice)
	if err != nil {
		return err
	}
	realized := money.M(0, cleanupPrice.Currency())
	for _, s := range slices {
		realized = realized.Add(s.RealizedPnL)
	}
	realized = realized.Round()

	reason := fmt.Sprintf("dust cleanup: closed remaining %s shares", remaining)
	trade, err := NewTrade(fund, ticker, SELL, remaining, cleanupPrice, on, reason)
	if err != nil {
		return err
	}
	trade.RealizedPnL = &realized
	return p.processTradeEntry(trade, true, false)
}

// ProcessTradeEntry is the shared tail of every buy/sell flow: persist the
// trade (unless the caller already did) and update the current or
// historical snapshot. clearCaches resets the price-derived fields of a
// position the trade closes; no other cache is touched.
func (p *TradeProcessor) ProcessTradeEntry(trade Trade, clearCaches, alreadySaved bool) error {
	return p.processTradeEntry(trade, clearCaches, alreadySaved)
}

func (p *TradeProcessor) processTradeEntry(trade Trade, clearCaches, alreadySaved bool) error {
	if !alreadySaved {
		if err := p.repo.SaveTrade(trade); err != nil {
			return fmt.Errorf("trade processor: save trade %s: %w", trade.TradeID, err)
		}
	}

	today := p.today()
	if trade.Timestamp.Before(today) {
		if p.rebuild == nil {
			return fmt.Errorf("trade processor: backdated trade on %s requires a rebuilder", trade.Timestamp)
		}
		if err := p.rebuild.RebuildFrom(trade.Fund, trade.Timestamp); err != nil {
			return fmt.Errorf("trade processor: rebuild from %s: %w", trade.Timestamp, err)
		}
		return nil
	}

	snap, ok, err := p.repo.GetLatestPortfolioSnapshot(trade.Fund)
	if err != nil {
		return fmt.Errorf("trade processor: load latest snapshot for %s: %w", trade.Fund, err)
	}
	if !ok {
		snap = PortfolioSnapshot{Fund: trade.Fund, Timestamp: today, Kind: Intraday}
	}

	pos, found := snap.PositionByTicker(trade.Ticker)
	if !found {
		pos = Position{Ticker: trade.Ticker, Currency: trade.Currency}
	}

	switch trade.Action {
	case BUY:
		pos = applyBuy(pos, trade)
	case SELL:
		pos = applySell(pos, trade)
	}

	snap = upsertPosition(snap, pos)

	if pos.IsClosed() && clearCaches {
		// Dust and fully closed positions still need their aggregate
		// fields reset, so stale market_value never lingers after a full exit.
		pos.CurrentPrice, pos.MarketValue, pos.UnrealizedPnL = nil, nil, nil
		snap = upsertPosition(snap, pos)
	}

	if err := p.repo.SavePortfolioSnapshot(snap, true); err != nil {
		return fmt.Errorf("trade processor: save snapshot for %s: %w", trade.Fund, err)
	}

	if trade.Action == SELL {
		if err := p.repo.UpdateTickerInFutureSnapshots(trade.Fund, trade.Ticker, trade.Timestamp); err != nil {
			return fmt.Errorf("trade processor: propagate %s to future snapshots: %w", trade.Ticker, err)
		}
	}
	return nil
}

// applyBuy averages the new purchase into the existing position.
func applyBuy(pos Position, trade Trade) Position {
	newShares := pos.Shares.Add(trade.Shares)
	newCostBasis := pos.CostBasis.Add(trade.CostBasis).Round()
	pos.Shares = newShares.Round()
	pos.CostBasis = newCostBasis
	if newShares.IsPositive() {
		pos.AvgPrice = newCostBasis.Div(newShares).Round()
	}
	pos.Currency = trade.Currency
	return pos
}

// applySell reduces shares at the unchanged average price, per the sell
// flow's step 3; FIFO-accurate realized P&L is tracked separately by the
// lot ledger rather than by mutating this position's cost basis.
func applySell(pos Position, trade Trade) Position {
	pos.Shares = pos.Shares.Sub(trade.Shares).Round()
	if !pos.Shares.IsPositive() {
		pos.Shares = money.Q(0)
		pos.CostBasis = money.M(0, pos.Currency)
	} else {
		pos.CostBasis = pos.AvgPrice.Mul(pos.Shares).Round()
	}
	return pos
}

// upsertPosition returns a copy of snap with pos inserted or replacing the
// existing entry for its ticker.
func upsertPosition(snap PortfolioSnapshot, pos Position) PortfolioSnapshot {
	for i, existing := range snap.Positions {
		if existing.Ticker == pos.Ticker {
			snap.Positions[i] = pos
			return snap
		}
	}
	snap.Positions = append(snap.Positions, pos)
	return snap
}

// IsDust reports whether a position's market value falls below
// DustThreshold and should be swept by a zero-out cleanup trade.
func IsDust(pos Position) bool {
	if pos.MarketValue == nil || !pos.Shares.IsPositive() {
		return false
	}
	return pos.MarketValue.LessThan(DustThreshold)
}
