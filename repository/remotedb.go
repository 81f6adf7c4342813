package repository

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/money"
	"github.com/ledgerfolio/engine/portfolio"

	_ "modernc.org/sqlite"
)

// mustDecimalString parses a decimal column value written by this same
// repository. A parse failure means the database was corrupted outside of
// this package's control, which no caller can recover from locally.
func mustDecimalString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("repository: corrupted decimal column %q: %v", s, err))
	}
	return d
}

// RemoteDatabaseRepository implements Repository against a SQLite database
// with tables trade_log, portfolio_positions, cash_balances, market_data,
// and funds, standing in for the remote, server-computed backend named in
// the data model. A view exposes each stored position with its prior and
// five-day-prior closes from market_data; no P&L figure is computed in
// SQL or elsewhere in this package.
type RemoteDatabaseRepository struct {
	db *sql.DB
}

// OpenRemoteDatabaseRepository opens (or creates) the SQLite database at
// path and runs its schema migration.
func OpenRemoteDatabaseRepository(path string) (*RemoteDatabaseRepository, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("repository: open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("repository: ping database %s: %w", path, err)
	}
	r := &RemoteDatabaseRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: migrate database %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("repository: opened remote database")
	return r, nil
}

func (r *RemoteDatabaseRepository) Close() error { return r.db.Close() }

func (r *RemoteDatabaseRepository) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS funds (
			id            TEXT PRIMARY KEY,
			display_name  TEXT NOT NULL,
			base_currency TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trade_log (
			trade_id     TEXT PRIMARY KEY,
			fund         TEXT NOT NULL,
			ticker       TEXT NOT NULL,
			action       TEXT NOT NULL,
			shares       TEXT NOT NULL,
			price        TEXT NOT NULL,
			timestamp    TEXT NOT NULL,
			cost_basis   TEXT NOT NULL,
			realized_pnl TEXT,
			reason       TEXT,
			currency     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trade_log_fund_ticker ON trade_log(fund, ticker);

		CREATE TABLE IF NOT EXISTS portfolio_positions (
			fund            TEXT NOT NULL,
			snapshot_id     TEXT NOT NULL,
			timestamp       TEXT NOT NULL,
			kind            INTEGER NOT NULL,
			ticker          TEXT NOT NULL,
			shares          TEXT NOT NULL,
			avg_price       TEXT NOT NULL,
			cost_basis      TEXT NOT NULL,
			currency        TEXT NOT NULL,
			current_price   TEXT,
			market_value    TEXT,
			unrealized_pnl  TEXT,
			PRIMARY KEY (fund, timestamp, ticker)
		);
		CREATE INDEX IF NOT EXISTS idx_positions_fund_date ON portfolio_positions(fund, timestamp);

		CREATE TABLE IF NOT EXISTS cash_balances (
			fund      TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			balance   TEXT NOT NULL,
			currency  TEXT NOT NULL,
			PRIMARY KEY (fund, timestamp)
		);

		CREATE TABLE IF NOT EXISTS market_data (
			ticker    TEXT NOT NULL,
			date      TEXT NOT NULL,
			open      TEXT NOT NULL,
			high      TEXT NOT NULL,
			low       TEXT NOT NULL,
			close     TEXT NOT NULL,
			adj_close TEXT NOT NULL,
			volume    INTEGER NOT NULL,
			source    TEXT NOT NULL,
			PRIMARY KEY (ticker, date)
		);

		CREATE VIEW IF NOT EXISTS latest_positions_with_trailing_closes AS
		SELECT
			p.fund, p.ticker, p.shares, p.cost_basis, p.timestamp,
			(SELECT m1.close FROM market_data m1
			 WHERE m1.ticker = p.ticker AND m1.date < p.timestamp
			 ORDER BY m1.date DESC LIMIT 1) AS prior_close,
			(SELECT m5.close FROM market_data m5
			 WHERE m5.ticker = p.ticker AND m5.date < p.timestamp
			 ORDER BY m5.date DESC LIMIT 1 OFFSET 4) AS five_day_prior_close
		FROM portfolio_positions p;
	`)
	return err
}

func (r *RemoteDatabaseRepository) GetPortfolioData(fund string, rng portfolio.DateRange) ([]portfolio.PortfolioSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT snapshot_id, timestamp, kind, ticker, shares, avg_price, cost_basis, currency,
		       current_price, market_value, unrealized_pnl
		FROM portfolio_positions WHERE fund = ? ORDER BY timestamp ASC`, fund)
	if err != nil {
		return nil, &portfolio.RepositoryError{Op: "get_portfolio_data", Err: err}
	}
	defer rows.Close()

	byTimestamp := make(map[string]*portfolio.PortfolioSnapshot)
	var order []string
	for rows.Next() {
		var snapshotID, ts string
		var kind int
		var ticker, shares, avgPrice, costBasis, currency string
		var currentPrice, marketValue, unrealizedPnL sql.NullString
		if err := rows.Scan(&snapshotID, &ts, &kind, &ticker, &shares, &avgPrice, &costBasis, &currency,
			&currentPrice, &marketValue, &unrealizedPnL); err != nil {
			return nil, &portfolio.RepositoryError{Op: "get_portfolio_data", Err: err}
		}
		snap, ok := byTimestamp[ts]
		if !ok {
			d, err := date.Parse(ts)
			if err != nil {
				return nil, &portfolio.RepositoryError{Op: "get_portfolio_data", Err: err}
			}
			snap = &portfolio.PortfolioSnapshot{SnapshotID: snapshotID, Fund: fund, Timestamp: d, Kind: portfolio.SnapshotKind(kind)}
			byTimestamp[ts] = snap
			order = append(order, ts)
		}
		pos, err := scanPosition(ticker, shares, avgPrice, costBasis, currency, currentPrice, marketValue, unrealizedPnL)
		if err != nil {
			return nil, &portfolio.RepositoryError{Op: "get_portfolio_data", Err: err}
		}
		snap.Positions = append(snap.Positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, &portfolio.RepositoryError{Op: "get_portfolio_data", Err: err}
	}

	var out []portfolio.PortfolioSnapshot
	for _, ts := range order {
		s := *byTimestamp[ts]
		if inRange(s.Timestamp, rng) {
			out = append(out, s)
		}
	}
	return out, nil
}

func scanPosition(ticker, shares, avgPrice, costBasis, currency string, currentPrice, marketValue, unrealizedPnL sql.NullString) (portfolio.Position, error) {
	pos := portfolio.Position{
		Ticker:    ticker,
		Shares:    money.Q(mustDecimalString(shares)),
		AvgPrice:  money.M(mustDecimalString(avgPrice), currency),
		CostBasis: money.M(mustDecimalString(costBasis), currency),
		Currency:  currency,
	}
	if currentPrice.Valid {
		v := money.M(mustDecimalString(currentPrice.String), currency)
		pos.CurrentPrice = &v
	}
	if marketValue.Valid {
		v := money.M(mustDecimalString(marketValue.String), currency)
		pos.MarketValue = &v
	}
	if unrealizedPnL.Valid {
		v := money.M(mustDecimalString(unrealizedPnL.String), currency)
		pos.UnrealizedPnL = &v
	}
	return pos, nil
}

func (r *RemoteDatabaseRepository) GetLatestPortfolioSnapshot(fund string) (portfolio.PortfolioSnapshot, bool, error) {
	snaps, err := r.GetPortfolioData(fund, portfolio.DateRange{})
	if err != nil {
		return portfolio.PortfolioSnapshot{}, false, err
	}
	if len(snaps) == 0 {
		return portfolio.PortfolioSnapshot{}, false, nil
	}
	return snaps[len(snaps)-1], true, nil
}

func (r *RemoteDatabaseRepository) SavePortfolioSnapshot(snap portfolio.PortfolioSnapshot, isTradeExecution bool) error {
	return r.UpdateDailyPortfolioSnapshot(snap, isTradeExecution)
}

func (r *RemoteDatabaseRepository) UpdateDailyPortfolioSnapshot(snap portfolio.PortfolioSnapshot, isTradeExecution bool) error {
	tx, err := r.db.Begin()
	if err != nil {
		return &portfolio.RepositoryError{Op: "update_daily_portfolio_snapshot", Err: err}
	}
	defer tx.Rollback()

	var existingKind sql.NullInt64
	err = tx.QueryRow(`SELECT kind FROM portfolio_positions WHERE fund = ? AND timestamp = ? LIMIT 1`,
		snap.Fund, snap.Timestamp.String()).Scan(&existingKind)
	if err != nil && err != sql.ErrNoRows {
		return &portfolio.RepositoryError{Op: "update_daily_portfolio_snapshot", Err: err}
	}
	if existingKind.Valid && portfolio.SnapshotKind(existingKind.Int64) == portfolio.MarketClose && !isTradeExecution {
		log.Warn().Str("fund", snap.Fund).Stringer("date", snap.Timestamp).
			Msg("repository: refused to overwrite market-close snapshot outside a trade execution")
		return &portfolio.RepositoryError{
			Op:  "update_daily_portfolio_snapshot",
			Err: fmt.Errorf("refusing to overwrite market-close snapshot for %s without is_trade_execution", snap.Timestamp),
		}
	}

	if _, err := tx.Exec(`DELETE FROM portfolio_positions WHERE fund = ? AND timestamp = ?`, snap.Fund, snap.Timestamp.String()); err != nil {
		return &portfolio.RepositoryError{Op: "update_daily_portfolio_snapshot", Err: err}
	}
	for _, p := range snap.Positions {
		if err := insertPosition(tx, snap, p); err != nil {
			return &portfolio.RepositoryError{Op: "update_daily_portfolio_snapshot", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &portfolio.RepositoryError{Op: "update_daily_portfolio_snapshot", Err: err}
	}
	return nil
}

func insertPosition(tx *sql.Tx, snap portfolio.PortfolioSnapshot, p portfolio.Position) error {
	var currentPrice, marketValue, unrealizedPnL any
	if p.CurrentPrice != nil {
		currentPrice = p.CurrentPrice.Decimal().String()
	}
	if p.MarketValue != nil {
		marketValue = p.MarketValue.Decimal().String()
	}
	if p.UnrealizedPnL != nil {
		unrealizedPnL = p.UnrealizedPnL.Decimal().String()
	}
	_, err := tx.Exec(`
		INSERT INTO portfolio_positions
		(fund, snapshot_id, timestamp, kind, ticker, shares, avg_price, cost_basis, currency, current_price, market_value, unrealized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Fund, snap.SnapshotID, snap.Timestamp.String(), int(snap.Kind),
		p.Ticker, p.Shares.Decimal().String(), p.AvgPrice.Decimal().String(), p.CostBasis.Decimal().String(),
		p.Currency, currentPrice, marketValue, unrealizedPnL)
	return err
}

func (r *RemoteDatabaseRepository) GetTradeHistory(fund, ticker string, rng portfolio.DateRange) ([]portfolio.Trade, error) {
	query := `SELECT trade_id, ticker, action, shares, price, timestamp, cost_basis, realized_pnl, reason, currency
	          FROM trade_log WHERE fund = ?`
	args := []any{fund}
	if ticker != "" {
		query += ` AND ticker = ?`
		args = append(args, portfolio.Ticker(ticker))
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &portfolio.RepositoryError{Op: "get_trade_history", Err: err}
	}
	defer rows.Close()

	var out []portfolio.Trade
	for rows.Next() {
		var tradeID, tkr, action, shares, price, ts, costBasis, currency, reason string
		var realizedPnL sql.NullString
		if err := rows.Scan(&tradeID, &tkr, &action, &shares, &price, &ts, &costBasis, &realizedPnL, &reason, &currency); err != nil {
			return nil, &portfolio.RepositoryError{Op: "get_trade_history", Err: err}
		}
		d, err := date.Parse(ts)
		if err != nil {
			return nil, &portfolio.RepositoryError{Op: "get_trade_history", Err: err}
		}
		t := portfolio.Trade{
			TradeID: tradeID, Fund: fund, Ticker: tkr, Action: portfolio.Action(action),
			Shares: money.Q(mustDecimalString(shares)), Price: money.M(mustDecimalString(price), currency),
			Timestamp: d, CostBasis: money.M(mustDecimalString(costBasis), currency), Reason: reason, Currency: currency,
		}
		if realizedPnL.Valid {
			v := money.M(mustDecimalString(realizedPnL.String), currency)
			t.RealizedPnL = &v
		}
		if inRange(t.Timestamp, rng) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

func (r *RemoteDatabaseRepository) SaveTrade(t portfolio.Trade) error {
	var realizedPnL any
	if t.RealizedPnL != nil {
		realizedPnL = t.RealizedPnL.Decimal().String()
	}
	_, err := r.db.Exec(`
		INSERT INTO trade_log (trade_id, fund, ticker, action, shares, price, timestamp, cost_basis, realized_pnl, reason, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Fund, t.Ticker, string(t.Action), t.Shares.Decimal().String(), t.Price.Decimal().String(),
		t.Timestamp.String(), t.CostBasis.Decimal().String(), realizedPnL, t.Reason, t.Currency)
	if err != nil {
		return &portfolio.RepositoryError{Op: "save_trade", Err: err}
	}
	return nil
}

func (r *RemoteDatabaseRepository) GetPositionsByTicker(fund, ticker string) ([]portfolio.Position, error) {
	snaps, err := r.GetPortfolioData(fund, portfolio.DateRange{})
	if err != nil {
		return nil, err
	}
	ticker = portfolio.Ticker(ticker)
	var out []portfolio.Position
	for i := len(snaps) - 1; i >= 0; i-- {
		if pos, ok := snaps[i].PositionByTicker(ticker); ok {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (r *RemoteDatabaseRepository) GetMarketData(ticker string, rng portfolio.DateRange) ([]portfolio.MarketData, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, open, high, low, close, adj_close, volume, source
		FROM market_data WHERE ticker = ? ORDER BY date ASC`, portfolio.Ticker(ticker))
	if err != nil {
		return nil, &portfolio.RepositoryError{Op: "get_market_data", Err: err}
	}
	defer rows.Close()

	var out []portfolio.MarketData
	for rows.Next() {
		var tkr, d, open, high, low, close, adjClose, source string
		var volume int64
		if err := rows.Scan(&tkr, &d, &open, &high, &low, &close, &adjClose, &volume, &source); err != nil {
			return nil, &portfolio.RepositoryError{Op: "get_market_data", Err: err}
		}
		day, err := date.Parse(d)
		if err != nil {
			return nil, &portfolio.RepositoryError{Op: "get_market_data", Err: err}
		}
		md := portfolio.MarketData{
			Ticker: tkr, Date: day,
			Open: money.M(mustDecimalString(open), ""), High: money.M(mustDecimalString(high), ""),
			Low: money.M(mustDecimalString(low), ""), Close: money.M(mustDecimalString(close), ""),
			AdjClose: money.M(mustDecimalString(adjClose), ""), Volume: volume,
			Source: portfolio.MarketDataSource(source),
		}
		if inRange(md.Date, rng) {
			out = append(out, md)
		}
	}
	return out, rows.Err()
}

func (r *RemoteDatabaseRepository) SaveMarketData(md portfolio.MarketData) error {
	_, err := r.db.Exec(`
		INSERT INTO market_data (ticker, date, open, high, low, close, adj_close, volume, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, date) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close,
			adj_close=excluded.adj_close, volume=excluded.volume, source=excluded.source`,
		md.Ticker, md.Date.String(), md.Open.Decimal().String(), md.High.Decimal().String(),
		md.Low.Decimal().String(), md.Close.Decimal().String(), md.AdjClose.Decimal().String(),
		md.Volume, string(md.Source))
	if err != nil {
		return &portfolio.RepositoryError{Op: "save_market_data", Err: err}
	}
	return nil
}

func (r *RemoteDatabaseRepository) BackupData(fund, path string) error {
	_, err := r.db.Exec(`VACUUM INTO ?`, path)
	if err != nil {
		return &portfolio.RepositoryError{Op: "backup_data", Err: err}
	}
	log.Info().Str("fund", fund).Str("path", path).Msg("repository: backed up remote database")
	return nil
}

func (r *RemoteDatabaseRepository) RestoreFromBackup(fund, path string) error {
	return &portfolio.RepositoryError{Op: "restore_from_backup", Err: fmt.Errorf("restore must be performed by reopening the database at %s", path)}
}

func (r *RemoteDatabaseRepository) ValidateDataIntegrity(fund string) ([]string, error) {
	snaps, err := r.GetPortfolioData(fund, portfolio.DateRange{})
	if err != nil {
		return nil, err
	}
	mgr := portfolio.NewSnapshotManager(r)
	var issues []string
	for _, s := range snaps {
		issues = append(issues, mgr.ValidateIntegrity(s)...)
	}
	_, warnings, err := mgr.Load(fund, portfolio.DateRange{})
	if err != nil {
		return nil, err
	}
	return append(issues, warnings...), nil
}

func (r *RemoteDatabaseRepository) UpdateTickerInFutureSnapshots(fund, ticker string, from date.Date) error {
	_, err := r.db.Exec(`DELETE FROM portfolio_positions WHERE fund = ? AND ticker = ? AND timestamp >= ?`,
		fund, portfolio.Ticker(ticker), from.String())
	if err != nil {
		return &portfolio.RepositoryError{Op: "update_ticker_in_future_snapshots", Err: err}
	}
	return nil
}
