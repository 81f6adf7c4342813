package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerfolio/engine/calendar"
	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/money"
	"github.com/ledgerfolio/engine/portfolio"
	"github.com/shopspring/decimal"
)

// localTradeCurrency is the currency assumed for every row of the local
// trades file, which (matching the original journal) carries no currency
// column of its own.
const localTradeCurrency = "USD"

// tradeCSVHeader is the column order of the local trades file, matching
// the original journal's tabular layout: action is never stored as its
// own column, it is inferred on read from Reason.
var tradeCSVHeader = []string{"Date", "Ticker", "Shares Bought", "Buy Price", "Cost Basis", "PnL", "Reason"}

// sellReasonMarkers are the case-insensitive Reason substrings that mark a
// row as a SELL; anything else is read back as a BUY.
var sellReasonMarkers = []string{"sell", "limit sell", "market sell"}

// tradeCSVRow renders t as a row matching tradeCSVHeader. Shares are
// formatted to 4 decimal places, money fields to 2, and Date carries the
// Eastern-time zone abbreviation for the trade's day.
func tradeCSVRow(t portfolio.Trade) []string {
	pnl := decimal.Zero
	if t.RealizedPnL != nil {
		pnl = t.RealizedPnL.Round().Decimal()
	}
	return []string{
		formatTradeDate(t.Timestamp),
		t.Ticker,
		t.Shares.Round().Decimal().StringFixed(money.SharesScale),
		t.Price.Round().Decimal().StringFixed(money.MoneyScale),
		t.CostBasis.Round().Decimal().StringFixed(money.MoneyScale),
		pnl.StringFixed(money.MoneyScale),
		t.Reason,
	}
}

// formatTradeDate renders d at midnight Eastern with its zone
// abbreviation (EST or EDT, depending on daylight saving for that day).
func formatTradeDate(d date.Date) string {
	at := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, calendar.Eastern)
	return at.Format("2006-01-02 15:04:05 MST")
}

// tradeFromCSVRow parses a row previously written by tradeCSVRow back into
// a Trade. Action is inferred from Reason, never read as its own column; a
// fresh TradeID is minted since the journal format never persisted one.
func tradeFromCSVRow(fund string, row []string) (portfolio.Trade, error) {
	if len(row) != len(tradeCSVHeader) {
		return portfolio.Trade{}, fmt.Errorf("repository: trade row has %d fields, want %d", len(row), len(tradeCSVHeader))
	}
	on, err := parseTradeDate(row[0])
	if err != nil {
		return portfolio.Trade{}, fmt.Errorf("repository: parse trade date %q: %w", row[0], err)
	}
	shares, err := decimal.NewFromString(row[2])
	if err != nil {
		return portfolio.Trade{}, fmt.Errorf("repository: parse shares %q: %w", row[2], err)
	}
	price, err := decimal.NewFromString(row[3])
	if err != nil {
		return portfolio.Trade{}, fmt.Errorf("repository: parse price %q: %w", row[3], err)
	}
	costBasis, err := decimal.NewFromString(row[4])
	if err != nil {
		return portfolio.Trade{}, fmt.Errorf("repository: parse cost basis %q: %w", row[4], err)
	}
	pnl, err := decimal.NewFromString(row[5])
	if err != nil {
		return portfolio.Trade{}, fmt.Errorf("repository: parse pnl %q: %w", row[5], err)
	}
	reason := row[6]

	action := portfolio.BUY
	lowerReason := strings.ToLower(reason)
	for _, marker := range sellReasonMarkers {
		if strings.Contains(lowerReason, marker) {
			action = portfolio.SELL
			break
		}
	}

	t := portfolio.Trade{
		TradeID:   uuid.NewString(),
		Fund:      fund,
		Ticker:    portfolio.Ticker(row[1]),
		Action:    action,
		Shares:    money.Q(shares),
		Price:     money.M(price, localTradeCurrency),
		Timestamp: on,
		CostBasis: money.M(costBasis, localTradeCurrency),
		Reason:    reason,
		Currency:  localTradeCurrency,
	}
	if action == portfolio.SELL {
		realized := money.M(pnl, localTradeCurrency)
		t.RealizedPnL = &realized
	}
	return t, nil
}

// parseTradeDate parses a Date column written by formatTradeDate, tolerant
// of any IANA zone abbreviation Go resolves for calendar.Eastern.
func parseTradeDate(s string) (date.Date, error) {
	fields := strings.Fields(s)
	if len(fields) < 1 {
		return date.Date{}, fmt.Errorf("empty date")
	}
	return date.Parse(fields[0])
}

// wirePosition is the on-disk JSON shape of a Position.
type wirePosition struct {
	Ticker        string         `json:"ticker"`
	Shares        money.Quantity `json:"shares"`
	AvgPrice      money.Money    `json:"avg_price"`
	CostBasis     money.Money    `json:"cost_basis"`
	Currency      string         `json:"currency"`
	Company       string         `json:"company,omitempty"`
	CurrentPrice  *money.Money   `json:"current_price,omitempty"`
	MarketValue   *money.Money   `json:"market_value,omitempty"`
	UnrealizedPnL *money.Money   `json:"unrealized_pnl,omitempty"`
	StopLoss      *money.Money   `json:"stop_loss,omitempty"`
}

func fromPosition(p portfolio.Position) wirePosition {
	return wirePosition{
		Ticker: p.Ticker, Shares: p.Shares, AvgPrice: p.AvgPrice, CostBasis: p.CostBasis,
		Currency: p.Currency, Company: p.Company, CurrentPrice: p.CurrentPrice,
		MarketValue: p.MarketValue, UnrealizedPnL: p.UnrealizedPnL, StopLoss: p.StopLoss,
	}
}

func (w wirePosition) toDomain() portfolio.Position {
	return portfolio.Position{
		Ticker: w.Ticker, Shares: w.Shares, AvgPrice: w.AvgPrice, CostBasis: w.CostBasis,
		Currency: w.Currency, Company: w.Company, CurrentPrice: w.CurrentPrice,
		MarketValue: w.MarketValue, UnrealizedPnL: w.UnrealizedPnL, StopLoss: w.StopLoss,
	}
}

// wireSnapshot is the on-disk JSON shape of a PortfolioSnapshot.
type wireSnapshot struct {
	SnapshotID  string         `json:"snapshot_id"`
	Timestamp   date.Date      `json:"timestamp"`
	Kind        int            `json:"kind"`
	Positions   []wirePosition `json:"positions"`
	TotalValue  *money.Money   `json:"total_value,omitempty"`
	CashBalance *money.Money   `json:"cash_balance,omitempty"`
	TotalShares *money.Quantity `json:"total_shares,omitempty"`
}

func fromDomain(s portfolio.PortfolioSnapshot) wireSnapshot {
	positions := make([]wirePosition, len(s.Positions))
	for i, p := range s.Positions {
		positions[i] = fromPosition(p)
	}
	return wireSnapshot{
		SnapshotID: s.SnapshotID, Timestamp: s.Timestamp, Kind: int(s.Kind),
		Positions: positions, TotalValue: s.TotalValue, CashBalance: s.CashBalance,
		TotalShares: s.TotalShares,
	}
}

func (w wireSnapshot) toDomain(fund string) portfolio.PortfolioSnapshot {
	positions := make([]portfolio.Position, len(w.Positions))
	for i, p := range w.Positions {
		positions[i] = p.toDomain()
	}
	return portfolio.PortfolioSnapshot{
		SnapshotID: w.SnapshotID, Fund: fund, Timestamp: w.Timestamp, Kind: portfolio.SnapshotKind(w.Kind),
		Positions: positions, TotalValue: w.TotalValue, CashBalance: w.CashBalance,
		TotalShares: w.TotalShares,
	}
}

// wireMarketData is the on-disk JSON shape of a MarketData row.
type wireMarketData struct {
	Ticker   string      `json:"ticker"`
	Date     date.Date   `json:"date"`
	Open     money.Money `json:"open"`
	High     money.Money `json:"high"`
	Low      money.Money `json:"low"`
	Close    money.Money `json:"close"`
	AdjClose money.Money `json:"adj_close"`
	Volume   int64       `json:"volume"`
	Source   string      `json:"source"`
}

func fromMarketData(m portfolio.MarketData) wireMarketData {
	return wireMarketData{
		Ticker: m.Ticker, Date: m.Date, Open: m.Open, High: m.High, Low: m.Low,
		Close: m.Close, AdjClose: m.AdjClose, Volume: m.Volume, Source: string(m.Source),
	}
}

func (w wireMarketData) toDomain() portfolio.MarketData {
	return portfolio.MarketData{
		Ticker: w.Ticker, Date: w.Date, Open: w.Open, High: w.High, Low: w.Low,
		Close: w.Close, AdjClose: w.AdjClose, Volume: w.Volume, Source: portfolio.MarketDataSource(w.Source),
	}
}
