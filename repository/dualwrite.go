package repository

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/portfolio"
)

// DualWriteRepository reads from a primary backend considered authoritative
// and writes to both the primary and a secondary backend, reporting
// per-side outcomes rather than rolling back a partially successful write.
// Reconciliation of a partial failure is deferred to ValidateDataIntegrity.
type DualWriteRepository struct {
	Primary   portfolio.Repository
	Secondary portfolio.Repository
}

// NewDualWriteRepository returns a repository that reads from primary and
// writes through to both primary and secondary.
func NewDualWriteRepository(primary, secondary portfolio.Repository) *DualWriteRepository {
	return &DualWriteRepository{Primary: primary, Secondary: secondary}
}

// writeBoth runs fn against both backends and reports the combined outcome.
func (d *DualWriteRepository) writeBoth(op string, fn func(portfolio.Repository) error) portfolio.WriteResult {
	var result portfolio.WriteResult

	if err := fn(d.Primary); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("primary %s: %w", op, err))
		log.Error().Str("op", op).Str("side", "primary").Err(err).Msg("dual write: backend failed")
	} else {
		result.PrimaryOK = true
	}

	if err := fn(d.Secondary); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("secondary %s: %w", op, err))
		log.Error().Str("op", op).Str("side", "secondary").Err(err).Msg("dual write: backend failed")
	} else {
		result.SecondaryOK = true
	}

	return result
}

// writeResultError turns a non-OK WriteResult into a single error that
// still carries every underlying message, without discarding the partial
// success recorded in the result.
func writeResultError(op string, result portfolio.WriteResult) error {
	if result.OK() {
		return nil
	}
	return fmt.Errorf("dual write: %s partial failure (primary_ok=%v secondary_ok=%v): %v", op, result.PrimaryOK, result.SecondaryOK, result.Errors)
}

func (d *DualWriteRepository) GetPortfolioData(fund string, rng portfolio.DateRange) ([]portfolio.PortfolioSnapshot, error) {
	return d.Primary.GetPortfolioData(fund, rng)
}

func (d *DualWriteRepository) GetLatestPortfolioSnapshot(fund string) (portfolio.PortfolioSnapshot, bool, error) {
	return d.Primary.GetLatestPortfolioSnapshot(fund)
}

func (d *DualWriteRepository) SavePortfolioSnapshot(snap portfolio.PortfolioSnapshot, isTradeExecution bool) error {
	result := d.writeBoth("save_portfolio_snapshot", func(r portfolio.Repository) error {
		return r.SavePortfolioSnapshot(snap, isTradeExecution)
	})
	return writeResultError("save_portfolio_snapshot", result)
}

func (d *DualWriteRepository) UpdateDailyPortfolioSnapshot(snap portfolio.PortfolioSnapshot, isTradeExecution bool) error {
	result := d.writeBoth("update_daily_portfolio_snapshot", func(r portfolio.Repository) error {
		return r.UpdateDailyPortfolioSnapshot(snap, isTradeExecution)
	})
	return writeResultError("update_daily_portfolio_snapshot", result)
}

func (d *DualWriteRepository) GetTradeHistory(fund, ticker string, rng portfolio.DateRange) ([]portfolio.Trade, error) {
	return d.Primary.GetTradeHistory(fund, ticker, rng)
}

func (d *DualWriteRepository) SaveTrade(t portfolio.Trade) error {
	result := d.writeBoth("save_trade", func(r portfolio.Repository) error { return r.SaveTrade(t) })
	return writeResultError("save_trade", result)
}

func (d *DualWriteRepository) GetPositionsByTicker(fund, ticker string) ([]portfolio.Position, error) {
	return d.Primary.GetPositionsByTicker(fund, ticker)
}

func (d *DualWriteRepository) GetMarketData(ticker string, rng portfolio.DateRange) ([]portfolio.MarketData, error) {
	return d.Primary.GetMarketData(ticker, rng)
}

func (d *DualWriteRepository) SaveMarketData(md portfolio.MarketData) error {
	result := d.writeBoth("save_market_data", func(r portfolio.Repository) error { return r.SaveMarketData(md) })
	return writeResultError("save_market_data", result)
}

func (d *DualWriteRepository) BackupData(fund, path string) error {
	return d.Primary.BackupData(fund, path)
}

func (d *DualWriteRepository) RestoreFromBackup(fund, path string) error {
	result := d.writeBoth("restore_from_backup", func(r portfolio.Repository) error { return r.RestoreFromBackup(fund, path) })
	return writeResultError("restore_from_backup", result)
}

func (d *DualWriteRepository) ValidateDataIntegrity(fund string) ([]string, error) {
	issues, err := d.Primary.ValidateDataIntegrity(fund)
	if err != nil {
		return nil, err
	}
	diffs, err := d.ComparePositions(fund)
	if err != nil {
		return nil, err
	}
	return append(issues, diffs...), nil
}

func (d *DualWriteRepository) UpdateTickerInFutureSnapshots(fund, ticker string, from date.Date) error {
	result := d.writeBoth("update_ticker_in_future_snapshots", func(r portfolio.Repository) error {
		return r.UpdateTickerInFutureSnapshots(fund, ticker, from)
	})
	return writeResultError("update_ticker_in_future_snapshots", result)
}

// ComparePositions is the supplemented backend-parity diagnostic: it
// reports tickers whose latest-snapshot position differs between the
// primary and secondary backends, surfacing divergence that a silent
// dual-write failure could otherwise hide.
func (d *DualWriteRepository) ComparePositions(fund string) ([]string, error) {
	primary, _, err := d.Primary.GetLatestPortfolioSnapshot(fund)
	if err != nil {
		return nil, fmt.Errorf("compare positions: primary: %w", err)
	}
	secondary, _, err := d.Secondary.GetLatestPortfolioSnapshot(fund)
	if err != nil {
		return nil, fmt.Errorf("compare positions: secondary: %w", err)
	}

	var diffs []string
	seen := make(map[string]bool)
	for _, p := range primary.Positions {
		seen[p.Ticker] = true
		s, ok := secondary.PositionByTicker(p.Ticker)
		if !ok {
			diffs = append(diffs, fmt.Sprintf("%s: present in primary only", p.Ticker))
			continue
		}
		if !p.Shares.Equal(s.Shares) {
			diffs = append(diffs, fmt.Sprintf("%s: shares differ (primary=%s secondary=%s)", p.Ticker, p.Shares, s.Shares))
		}
		if !p.CostBasis.Equal(s.CostBasis) {
			diffs = append(diffs, fmt.Sprintf("%s: cost_basis differs (primary=%s secondary=%s)", p.Ticker, p.CostBasis, s.CostBasis))
		}
	}
	for _, p := range secondary.Positions {
		if !seen[p.Ticker] {
			diffs = append(diffs, fmt.Sprintf("%s: present in secondary only", p.Ticker))
		}
	}
	return diffs, nil
}
