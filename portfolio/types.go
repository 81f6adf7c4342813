// Package portfolio implements the fund-scoped domain model of a trading
// journal: trades, positions, snapshots, and the processors that enforce
// their invariants. Storage and market-data fetching are abstracted behind
// the Repository interface and the priceservice/rebuild packages that sit
// above this one; portfolio itself never imports a concrete backend.
package portfolio

import (
	"strings"

	"github.com/google/uuid"
	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/money"
)

// Action distinguishes a buy from a sell in a Trade record.
type Action string

const (
	BUY  Action = "BUY"
	SELL Action = "SELL"
)

// Ticker normalizes a security symbol to the module's canonical uppercase form.
func Ticker(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }

// Trade is an immutable record of a single transaction. Once constructed by
// NewTrade it is never mutated; corrections happen by appending an
// offsetting trade, not by editing this value.
type Trade struct {
	TradeID     string
	Fund        string
	Ticker      string
	Action      Action
	Shares      money.Quantity
	Price       money.Money
	Timestamp   date.Date
	CostBasis   money.Money
	RealizedPnL *money.Money // nil for BUY
	Reason      string
	Currency    string
}

// NewTrade builds a Trade, computing CostBasis = Shares*Price and validating
// the invariants from the data model: shares and price must be positive,
// and the ticker/fund must be non-empty.
func NewTrade(fund, ticker string, action Action, shares money.Quantity, price money.Money, on date.Date, reason string) (Trade, error) {
	ticker = Ticker(ticker)
	if fund == "" {
		return Trade{}, &DataValidationError{Field: "fund", Reason: "must not be empty"}
	}
	if ticker == "" {
		return Trade{}, &DataValidationError{Field: "ticker", Reason: "must not be empty"}
	}
	if !shares.IsPositive() {
		return Trade{}, &DataValidationError{Field: "shares", Reason: "must be positive"}
	}
	if !price.IsPositive() {
		return Trade{}, &DataValidationError{Field: "price", Reason: "must be positive"}
	}
	return Trade{
		TradeID:   uuid.NewString(),
		Fund:      fund,
		Ticker:    ticker,
		Action:    action,
		Shares:    shares.Round(),
		Price:     price.Round(),
		Timestamp: on,
		CostBasis: price.Mul(shares).Round(),
		Reason:    reason,
		Currency:  price.Currency(),
	}, nil
}

// Position is the net holding of a ticker as of a snapshot instant.
type Position struct {
	Ticker         string
	Shares         money.Quantity
	AvgPrice       money.Money
	CostBasis      money.Money
	Currency       string
	Company        string
	CurrentPrice   *money.Money
	MarketValue    *money.Money
	UnrealizedPnL  *money.Money
	StopLoss       *money.Money
}

// IsClosed reports whether the position has zero shares. Closed positions
// are retained in a snapshot, never deleted, so a later re-buy can reopen
// them without losing history.
func (p Position) IsClosed() bool { return !p.Shares.IsPositive() }

// WithCurrentPrice returns a copy of p with CurrentPrice, MarketValue, and
// UnrealizedPnL recomputed from the given price.
func (p Position) WithCurrentPrice(price money.Money) Position {
	mv := price.Mul(p.Shares).Round()
	pnl := mv.Sub(p.CostBasis).Round()
	p.CurrentPrice = &price
	p.MarketValue = &mv
	p.UnrealizedPnL = &pnl
	return p
}

// SnapshotKind distinguishes a market-close snapshot, which is authoritative
// for a calendar date, from an intraday snapshot, which may be overwritten
// freely and never coexists with a market-close snapshot for the same date.
type SnapshotKind int

const (
	Intraday SnapshotKind = iota
	MarketClose
)

// PortfolioSnapshot is the set of Positions for one fund at one instant.
type PortfolioSnapshot struct {
	SnapshotID   string
	Fund         string
	Timestamp    date.Date
	Kind         SnapshotKind
	Positions    []Position
	TotalValue   *money.Money
	CashBalance  *money.Money
	TotalShares  *money.Quantity
}

// PositionByTicker returns the position for ticker and whether it was found.
func (s PortfolioSnapshot) PositionByTicker(ticker string) (Position, bool) {
	ticker = Ticker(ticker)
	for _, p := range s.Positions {
		if p.Ticker == ticker {
			return p, true
		}
	}
	return Position{}, false
}

// MarketDataSource tags the origin of a MarketData row, recording which
// stage of the fetch fallback ladder produced it.
type MarketDataSource string

const (
	SourcePrimary     MarketDataSource = "primary"
	SourceSecondaryAPI MarketDataSource = "secondary-api"
	SourceSecondaryCSV MarketDataSource = "secondary-csv"
	SourceCache       MarketDataSource = "cache"
)

// ProxySource builds the MarketDataSource tag for a proxy-symbol fetch.
func ProxySource(symbol string) MarketDataSource { return MarketDataSource("proxy:" + symbol) }

// MarketData is one OHLCV row for a ticker on a date.
type MarketData struct {
	Ticker   string
	Date     date.Date
	Open     money.Money
	High     money.Money
	Low      money.Money
	Close    money.Money
	AdjClose money.Money
	Volume   int64
	Source   MarketDataSource
}

// RepositoryBackend names the storage backend a FundConfig binds to.
type RepositoryBackend string

const (
	BackendLocalFile RepositoryBackend = "local_file"
	BackendRemoteDB  RepositoryBackend = "remote_db"
	BackendDualWrite RepositoryBackend = "dual_write"
)

// FundConfig describes one fund: its identity, display metadata, and the
// repository backend it persists through.
type FundConfig struct {
	ID            string
	DisplayName   string
	Description   string
	Backend       RepositoryBackend
	BackendConfig map[string]string
	BaseCurrency  string
}
