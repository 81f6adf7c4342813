// Package lots implements FIFO cost-basis tracking, the accounting method
// this module uses for every realized gain/loss calculation. It has no
// dependency on the root portfolio package; callers translate their own
// trade types into the TradeInput shape this package consumes.
package lots

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/ledgerfolio/engine/money"
)

// Side distinguishes a buy from a sell in a replayed trade history.
type Side int

const (
	Buy Side = iota
	Sell
)

// TradeInput is the minimal shape the engine needs to replay a trade. It
// exists so this package never imports the root portfolio package's Trade
// type, keeping the dependency graph acyclic.
type TradeInput struct {
	Ticker    string
	Side      Side
	Shares    money.Quantity
	Price     money.Money
	Timestamp int64 // unix nanoseconds, used only for ordering
}

// Lot represents a single purchase batch of shares, with the fraction of
// it that remains unsold.
type Lot struct {
	ID               string
	Ticker           string
	Shares           money.Quantity // original shares purchased
	RemainingShares  money.Quantity
	Price            money.Money
	CostBasis        money.Money // original total cost, shares * price
	PurchaseSequence int64
}

// IsFullySold reports whether every share in the lot has been sold.
func (l Lot) IsFullySold() bool { return !l.RemainingShares.IsPositive() }

// remainingCostBasis returns the cost basis attributable to the shares still
// held in this lot.
func (l Lot) remainingCostBasis() money.Money {
	if l.Shares.IsZero() {
		return money.M(0, l.CostBasis.Currency())
	}
	return l.CostBasis.Mul(l.RemainingShares).Div(l.Shares)
}

// SaleSlice records the result of consuming part or all of a single lot
// during a FIFO sell.
type SaleSlice struct {
	LotID         string
	Ticker        string
	SharesSold    money.Quantity
	CostBasisSold money.Money
	Proceeds      money.Money
	RealizedPnL   money.Money
}

// InsufficientShares is returned by SellFIFO when the requested quantity
// exceeds the shares remaining across all lots for a ticker.
type InsufficientShares struct {
	Ticker      string
	Requested   money.Quantity
	Available   money.Quantity
}

func (e *InsufficientShares) Error() string {
	return fmt.Sprintf("lots: insufficient shares of %s: requested %s, have %s", e.Ticker, e.Requested, e.Available)
}

// InvalidTrade is returned for a zero-share sell, a zero-or-negative-price
// trade, or any other structurally invalid TradeInput.
type InvalidTrade struct {
	Reason string
}

func (e *InvalidTrade) Error() string { return "lots: invalid trade: " + e.Reason }

// LotTracker holds the ordered lots for a single ticker.
type LotTracker struct {
	Ticker string
	lots   []*Lot
	seq    int64
}

// Engine maps ticker to its LotTracker and is the unit of FIFO cost-basis
// state for one fund.
type Engine struct {
	trackers map[string]*LotTracker
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{trackers: make(map[string]*LotTracker)}
}

func (e *Engine) tracker(ticker string) *LotTracker {
	t, ok := e.trackers[ticker]
	if !ok {
		t = &LotTracker{Ticker: ticker}
		e.trackers[ticker] = t
	}
	return t
}

// AddLot appends a new lot of shares bought at price.
func (e *Engine) AddLot(ticker string, shares money.Quantity, price money.Money) (Lot, error) {
	if !shares.IsPositive() {
		return Lot{}, &InvalidTrade{Reason: "shares must be positive"}
	}
	if !price.IsPositive() {
		return Lot{}, &InvalidTrade{Reason: "price must be positive"}
	}
	t := e.tracker(ticker)
	t.seq++
	lot := &Lot{
		ID:               uuid.NewString(),
		Ticker:           ticker,
		Shares:           shares,
		RemainingShares:  shares,
		Price:            price,
		CostBasis:        price.Mul(shares),
		PurchaseSequence: t.seq,
	}
	t.lots = append(t.lots, lot)
	return *lot, nil
}

// SellFIFO consumes shares from the oldest lots first, returning one
// SaleSlice per lot touched.
func (e *Engine) SellFIFO(ticker string, shares money.Quantity, sellPrice money.Money) ([]SaleSlice, error) {
	if !shares.IsPositive() {
		return nil, &InvalidTrade{Reason: "shares must be positive"}
	}
	if !sellPrice.IsPositive() {
		return nil, &InvalidTrade{Reason: "price must be positive"}
	}
	t := e.tracker(ticker)

	if avail := t.remainingShares(); avail.LessThan(shares) {
		return nil, &InsufficientShares{Ticker: ticker, Requested: shares, Available: avail}
	}

	remaining := shares
	var slices []SaleSlice
	for _, lot := range t.lots {
		if !remaining.IsPositive() {
			break
		}
		if !lot.RemainingShares.IsPositive() {
			continue
		}
		sellFromLot := lot.RemainingShares
		if remaining.LessThan(sellFromLot) {
			sellFromLot = remaining
		}

		costBasisSold := lot.CostBasis.Mul(sellFromLot).Div(lot.Shares)
		proceeds := sellPrice.Mul(sellFromLot)
		slices = append(slices, SaleSlice{
			LotID:         lot.ID,
			Ticker:        ticker,
			SharesSold:    sellFromLot,
			CostBasisSold: costBasisSold,
			Proceeds:      proceeds,
			RealizedPnL:   proceeds.Sub(costBasisSold),
		})

		lot.RemainingShares = lot.RemainingShares.Sub(sellFromLot)
		remaining = remaining.Sub(sellFromLot)
	}
	return slices, nil
}

func (t *LotTracker) remainingShares() money.Quantity {
	total := money.Q(0)
	for _, lot := range t.lots {
		total = total.Add(lot.RemainingShares)
	}
	return total
}

// RemainingShares returns the total unsold shares for ticker.
func (e *Engine) RemainingShares(ticker string) money.Quantity {
	return e.tracker(ticker).remainingShares()
}

// RemainingCostBasis returns the total cost basis attributable to unsold
// shares for ticker, in the currency of its lots (zero-value Money if no
// lots exist).
func (e *Engine) RemainingCostBasis(ticker string) money.Money {
	t := e.tracker(ticker)
	var total money.Money
	for _, lot := range t.lots {
		total = total.Add(lot.remainingCostBasis())
	}
	return total
}

// AverageCost returns RemainingCostBasis / RemainingShares, or a zero Money
// in the lots' currency when no shares remain.
func (e *Engine) AverageCost(ticker string) money.Money {
	shares := e.RemainingShares(ticker)
	basis := e.RemainingCostBasis(ticker)
	if !shares.IsPositive() {
		return money.M(0, basis.Currency())
	}
	return basis.Div(shares)
}

// RebuildFromTrades resets the engine and replays trades in ascending
// timestamp order, ties broken by their original slice order (insertion
// order), applying BUYs as AddLot and SELLs as SellFIFO. A SELL that cannot
// be satisfied from previously replayed BUYs indicates a corrupted trade
// history; RebuildFromTrades records it and continues so the caller's
// integrity check can surface every such gap in one pass, rather than
// aborting at the first one.
func (e *Engine) RebuildFromTrades(trades []TradeInput) []error {
	e.trackers = make(map[string]*LotTracker)

	ordered := make([]TradeInput, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	var errs []error
	for _, trd := range ordered {
		switch trd.Side {
		case Buy:
			if _, err := e.AddLot(trd.Ticker, trd.Shares, trd.Price); err != nil {
				errs = append(errs, fmt.Errorf("lots: rebuild %s: %w", trd.Ticker, err))
			}
		case Sell:
			if _, err := e.SellFIFO(trd.Ticker, trd.Shares, trd.Price); err != nil {
				errs = append(errs, fmt.Errorf("lots: rebuild %s: %w", trd.Ticker, err))
			}
		}
	}
	return errs
}
