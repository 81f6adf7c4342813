package portfolio

import "github.com/ledgerfolio/engine/date"

// DateRange bounds a query by calendar date, inclusive on both ends. A
// zero value on either field means unbounded in that direction.
type DateRange struct {
	From, To date.Date
}

// Repository is the storage abstraction every fund-scoped operation in this
// module is written against. It is implemented by LocalFileRepository,
// RemoteDatabaseRepository, and DualWriteRepository in the repository
// package; this package only ever depends on the interface.
type Repository interface {
	// GetPortfolioData returns snapshots in the optional date range, sorted
	// ascending by timestamp. A zero DateRange returns all snapshots.
	GetPortfolioData(fund string, r DateRange) ([]PortfolioSnapshot, error)

	// GetLatestPortfolioSnapshot returns the most recent snapshot for fund,
	// or ok=false if none exists.
	GetLatestPortfolioSnapshot(fund string) (snapshot PortfolioSnapshot, ok bool, err error)

	// SavePortfolioSnapshot appends or upserts a snapshot. isTradeExecution
	// marks writes originating from TradeProcessor, which are allowed to
	// supersede an existing market-close snapshot for the same date.
	SavePortfolioSnapshot(snapshot PortfolioSnapshot, isTradeExecution bool) error

	// UpdateDailyPortfolioSnapshot upserts by (fund, calendar date). It
	// refuses to overwrite an existing market-close snapshot unless
	// isTradeExecution is true.
	UpdateDailyPortfolioSnapshot(snapshot PortfolioSnapshot, isTradeExecution bool) error

	// GetTradeHistory returns trades for fund, optionally filtered by
	// ticker (empty string = all) and date range.
	GetTradeHistory(fund, ticker string, r DateRange) ([]Trade, error)

	// SaveTrade persists a single trade.
	SaveTrade(trade Trade) error

	// GetPositionsByTicker returns every position recorded for ticker
	// across all of the fund's snapshots, most recent first.
	GetPositionsByTicker(fund, ticker string) ([]Position, error)

	// GetMarketData returns OHLCV rows for ticker within the optional
	// date range, sorted ascending by date.
	GetMarketData(ticker string, r DateRange) ([]MarketData, error)

	// SaveMarketData persists one OHLCV row, keyed by (ticker, date).
	SaveMarketData(md MarketData) error

	// BackupData writes a full backup of the fund's data to path.
	BackupData(fund, path string) error

	// RestoreFromBackup replaces the fund's data with the contents of
	// the backup at path.
	RestoreFromBackup(fund, path string) error

	// ValidateDataIntegrity returns a list of human-readable issues found
	// in the fund's stored data, or an empty slice if none.
	ValidateDataIntegrity(fund string) ([]string, error)

	// UpdateTickerInFutureSnapshots rewrites every snapshot at or after
	// fromDate that mentions ticker, used after a backdated trade is
	// inserted ahead of snapshots that already exist.
	UpdateTickerInFutureSnapshots(fund, ticker string, fromDate date.Date) error
}

// WriteResult reports the per-backend outcome of a DualWriteRepository
// mutation.
type WriteResult struct {
	PrimaryOK   bool
	SecondaryOK bool
	Errors      []error
}

// OK reports whether both backends succeeded.
func (w WriteResult) OK() bool { return w.PrimaryOK && w.SecondaryOK }
