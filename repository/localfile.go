// Package repository implements the Repository interface against a local
// CSV/JSONL file tree and a pure-Go SQLite database, plus a dual-write
// wrapper that replicates across both.
package repository

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/portfolio"
)

const (
	tradesFile    = "trades.csv"
	snapshotsFile = "snapshots.jsonl"
	cashFile      = "cash.jsonl"
	marketFile    = "market_data.jsonl"
)

// LocalFileRepository persists one directory per fund: trades in the
// tabular CSV journal format, snapshots (with their cash balance) in JSONL.
// No cash file is written; an existing cash.jsonl is only copied by backup
// and restore. Every file is
// read in full on query and rewritten atomically (write-to-temp-then-rename)
// on mutation, following the teacher's per-entity persistence layout.
type LocalFileRepository struct {
	root string
}

// NewLocalFileRepository returns a repository rooted at dir, one
// subdirectory per fund.
func NewLocalFileRepository(dir string) *LocalFileRepository {
	return &LocalFileRepository{root: dir}
}

func (r *LocalFileRepository) fundDir(fund string) string { return filepath.Join(r.root, fund) }

func (r *LocalFileRepository) path(fund, name string) string {
	return filepath.Join(r.fundDir(fund), name)
}

// writeAtomic marshals each record in records to one JSON line and writes
// them to path via a temp-file-then-rename swap so a crash mid-write never
// leaves a truncated file behind.
func writeAtomic[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("repository: mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("repository: create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("repository: encode record for %s: %w", path, err)
		}
		if _, err := w.Write(line); err != nil {
			tmp.Close()
			return fmt.Errorf("repository: write %s: %w", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			return fmt.Errorf("repository: write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("repository: flush %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("repository: close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("repository: rename into place %s: %w", path, err)
	}
	return nil
}

// readAll reads every JSON line from path into records of type T. A
// missing file is treated as empty, not an error.
func readAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: open %s: %w", path, err)
	}
	defer f.Close()

	var records []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("repository: decode line in %s: %w", path, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("repository: scan %s: %w", path, err)
	}
	return records, nil
}

// writeTradesCSV writes trades to path as a header row followed by one row
// per trade, via the same temp-file-then-rename swap writeAtomic uses.
func writeTradesCSV(path string, trades []portfolio.Trade) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("repository: mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("repository: create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(tradeCSVHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("repository: write header for %s: %w", path, err)
	}
	for _, t := range trades {
		if err := w.Write(tradeCSVRow(t)); err != nil {
			tmp.Close()
			return fmt.Errorf("repository: write row for %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("repository: flush %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("repository: close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("repository: rename into place %s: %w", path, err)
	}
	return nil
}

// readTradesCSV reads the header and every row from path. A missing file
// is treated as empty, not an error.
func readTradesCSV(fund, path string) ([]portfolio.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = len(tradeCSVHeader)

	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: read header of %s: %w", path, err)
	}

	var trades []portfolio.Trade
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("repository: read row of %s: %w", path, err)
		}
		t, err := tradeFromCSVRow(fund, row)
		if err != nil {
			return nil, fmt.Errorf("repository: %s: %w", path, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func (r *LocalFileRepository) GetPortfolioData(fund string, rng portfolio.DateRange) ([]portfolio.PortfolioSnapshot, error) {
	all, err := readAll[wireSnapshot](r.path(fund, snapshotsFile))
	if err != nil {
		return nil, &portfolio.RepositoryError{Op: "get_portfolio_data", Err: err}
	}
	var out []portfolio.PortfolioSnapshot
	for _, w := range all {
		s := w.toDomain(fund)
		if inRange(s.Timestamp, rng) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func inRange(d date.Date, rng portfolio.DateRange) bool {
	zero := date.Date{}
	if rng.From != zero && d.Before(rng.From) {
		return false
	}
	if rng.To != zero && d.After(rng.To) {
		return false
	}
	return true
}

func (r *LocalFileRepository) GetLatestPortfolioSnapshot(fund string) (portfolio.PortfolioSnapshot, bool, error) {
	snaps, err := r.GetPortfolioData(fund, portfolio.DateRange{})
	if err != nil {
		return portfolio.PortfolioSnapshot{}, false, err
	}
	if len(snaps) == 0 {
		return portfolio.PortfolioSnapshot{}, false, nil
	}
	return snaps[len(snaps)-1], true, nil
}

func (r *LocalFileRepository) SavePortfolioSnapshot(snap portfolio.PortfolioSnapshot, isTradeExecution bool) error {
	return r.UpdateDailyPortfolioSnapshot(snap, isTradeExecution)
}

func (r *LocalFileRepository) UpdateDailyPortfolioSnapshot(snap portfolio.PortfolioSnapshot, isTradeExecution bool) error {
	path := r.path(snap.Fund, snapshotsFile)
	all, err := readAll[wireSnapshot](path)
	if err != nil {
		return &portfolio.RepositoryError{Op: "update_daily_portfolio_snapshot", Err: err}
	}

	replaced := false
	for i, w := range all {
		existing := w.toDomain(snap.Fund)
		if existing.Timestamp != snap.Timestamp {
			continue
		}
		if existing.Kind == portfolio.MarketClose && !isTradeExecution {
			return &portfolio.RepositoryError{
				Op:  "update_daily_portfolio_snapshot",
				Err: fmt.Errorf("refusing to overwrite market-close snapshot for %s without is_trade_execution", snap.Timestamp),
			}
		}
		all[i] = fromDomain(snap)
		replaced = true
		break
	}
	if !replaced {
		all = append(all, fromDomain(snap))
	}

	if err := writeAtomic(path, all); err != nil {
		return &portfolio.RepositoryError{Op: "update_daily_portfolio_snapshot", Err: err}
	}
	return nil
}

func (r *LocalFileRepository) GetTradeHistory(fund, ticker string, rng portfolio.DateRange) ([]portfolio.Trade, error) {
	all, err := readTradesCSV(fund, r.path(fund, tradesFile))
	if err != nil {
		return nil, &portfolio.RepositoryError{Op: "get_trade_history", Err: err}
	}
	var out []portfolio.Trade
	for _, t := range all {
		if ticker != "" && t.Ticker != portfolio.Ticker(ticker) {
			continue
		}
		if !inRange(t.Timestamp, rng) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *LocalFileRepository) SaveTrade(t portfolio.Trade) error {
	path := r.path(t.Fund, tradesFile)
	all, err := readTradesCSV(t.Fund, path)
	if err != nil {
		return &portfolio.RepositoryError{Op: "save_trade", Err: err}
	}
	all = append(all, t)
	if err := writeTradesCSV(path, all); err != nil {
		return &portfolio.RepositoryError{Op: "save_trade", Err: err}
	}
	return nil
}

func (r *LocalFileRepository) GetPositionsByTicker(fund, ticker string) ([]portfolio.Position, error) {
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

func (r *LocalFileRepository) GetMarketData(ticker string, rng portfolio.DateRange) ([]portfolio.MarketData, error) {
	all, err := readAll[wireMarketData](filepath.Join(r.root, marketFile))
	if err != nil {
		return nil, &portfolio.RepositoryError{Op: "get_market_data", Err: err}
	}
	ticker = portfolio.Ticker(ticker)
	var out []portfolio.MarketData
	for _, w := range all {
		md := w.toDomain()
		if md.Ticker != ticker || !inRange(md.Date, rng) {
			continue
		}
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *LocalFileRepository) SaveMarketData(md portfolio.MarketData) error {
	path := filepath.Join(r.root, marketFile)
	all, err := readAll[wireMarketData](path)
	if err != nil {
		return &portfolio.RepositoryError{Op: "save_market_data", Err: err}
	}
	replaced := false
	for i, w := range all {
		existing := w.toDomain()
		if existing.Ticker == md.Ticker && existing.Date == md.Date {
			all[i] = fromMarketData(md)
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, fromMarketData(md))
	}
	if err := writeAtomic(path, all); err != nil {
		return &portfolio.RepositoryError{Op: "save_market_data", Err: err}
	}
	return nil
}

func (r *LocalFileRepository) BackupData(fund, dest string) error {
	src := r.fundDir(fund)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &portfolio.RepositoryError{Op: "backup_data", Err: err}
	}
	for _, name := range []string{tradesFile, snapshotsFile, cashFile} {
		data, err := os.ReadFile(filepath.Join(src, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &portfolio.RepositoryError{Op: "backup_data", Err: err}
		}
		if err := os.WriteFile(filepath.Join(dest, name), data, 0o644); err != nil {
			return &portfolio.RepositoryError{Op: "backup_data", Err: err}
		}
	}
	return nil
}

func (r *LocalFileRepository) RestoreFromBackup(fund, src string) error {
	dest := r.fundDir(fund)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &portfolio.RepositoryError{Op: "restore_from_backup", Err: err}
	}
	for _, name := range []string{tradesFile, snapshotsFile, cashFile} {
		data, err := os.ReadFile(filepath.Join(src, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &portfolio.RepositoryError{Op: "restore_from_backup", Err: err}
		}
		if err := os.WriteFile(filepath.Join(dest, name), data, 0o644); err != nil {
			return &portfolio.RepositoryError{Op: "restore_from_backup", Err: err}
		}
	}
	return nil
}

func (r *LocalFileRepository) ValidateDataIntegrity(fund string) ([]string, error) {
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
	issues = append(issues, warnings...)
	return issues, nil
}

func (r *LocalFileRepository) UpdateTickerInFutureSnapshots(fund, ticker string, from date.Date) error {
	path := r.path(fund, snapshotsFile)
	all, err := readAll[wireSnapshot](path)
	if err != nil {
		return &portfolio.RepositoryError{Op: "update_ticker_in_future_snapshots", Err: err}
	}
	ticker = portfolio.Ticker(ticker)
	for i, w := range all {
		s := w.toDomain(fund)
		if s.Timestamp.Before(from) {
			continue
		}
		if _, ok := s.PositionByTicker(ticker); ok {
			all[i] = fromDomain(s)
		}
	}
	return writeAtomic(path, all)
}
