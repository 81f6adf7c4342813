package portfolio

import (
	"testing"
	"time"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/money"
)

// memRepo is a minimal in-memory Repository used to exercise TradeProcessor
// without a concrete storage backend.
type memRepo struct {
	trades            []Trade
	snapshots         []PortfolioSnapshot
	futureUpdateCalls int
}

func (r *memRepo) GetPortfolioData(fund string, rng DateRange) ([]PortfolioSnapshot, error) {
	var out []PortfolioSnapshot
	for _, s := range r.snapshots {
		if s.Fund == fund {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) GetLatestPortfolioSnapshot(fund string) (PortfolioSnapshot, bool, error) {
	var latest PortfolioSnapshot
	found := false
	for _, s := range r.snapshots {
		if s.Fund != fund {
			continue
		}
		if !found || s.Timestamp.After(latest.Timestamp) {
			latest, found = s, true
		}
	}
	return latest, found, nil
}

func (r *memRepo) SavePortfolioSnapshot(snap PortfolioSnapshot, isTradeExecution bool) error {
	for i, s := range r.snapshots {
		if s.Fund == snap.Fund && s.Timestamp == snap.Timestamp {
			r.snapshots[i] = snap
			return nil
		}
	}
	r.snapshots = append(r.snapshots, snap)
	return nil
}

func (r *memRepo) UpdateDailyPortfolioSnapshot(snap PortfolioSnapshot, isTradeExecution bool) error {
	return r.SavePortfolioSnapshot(snap, isTradeExecution)
}

func (r *memRepo) GetTradeHistory(fund, ticker string, rng DateRange) ([]Trade, error) {
	var out []Trade
	for _, t := range r.trades {
		if t.Fund == fund && (ticker == "" || t.Ticker == ticker) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memRepo) SaveTrade(t Trade) error {
	r.trades = append(r.trades, t)
	return nil
}

func (r *memRepo) GetPositionsByTicker(fund, ticker string) ([]Position, error) { return nil, nil }
func (r *memRepo) GetMarketData(ticker string, rng DateRange) ([]MarketData, error) { return nil, nil }
func (r *memRepo) SaveMarketData(md MarketData) error                            { return nil }
func (r *memRepo) BackupData(fund, path string) error                           { return nil }
func (r *memRepo) RestoreFromBackup(fund, path string) error                    { return nil }
func (r *memRepo) ValidateDataIntegrity(fund string) ([]string, error)          { return nil, nil }
func (r *memRepo) UpdateTickerInFutureSnapshots(fund, ticker string, from date.Date) error {
	r.futureUpdateCalls++
	return nil
}

func newTestProcessor() (*TradeProcessor, *memRepo) {
	repo := &memRepo{}
	p := NewTradeProcessor(repo, nil, nil)
	p.today = func() date.Date { return date.New(2026, time.August, 1) }
	return p, repo
}

func TestExecuteBuyCreatesPosition(t *testing.T) {
	p, repo := newTestProcessor()
	today := p.today()

	_, _, err := p.ExecuteBuy("growth", "AAPL", money.Q(10), money.M(100, "USD"), today, "initial buy")
	if err != nil {
		t.Fatalf("ExecuteBuy() error = %v", err)
	}

	snap, ok, err := repo.GetLatestPortfolioSnapshot("growth")
	if err != nil || !ok {
		t.Fatalf("GetLatestPortfolioSnapshot() ok=%v err=%v", ok, err)
	}
	pos, found := snap.PositionByTicker("AAPL")
	if !found {
		t.Fatal("expected AAPL position to exist")
	}
	if !pos.Shares.Equal(money.Q(10)) {
		t.Errorf("Shares = %s, want 10", pos.Shares)
	}
	want := money.M(1000, "USD")
	if !pos.CostBasis.Equal(want) {
		t.Errorf("CostBasis = %s, want %s", pos.CostBasis, want)
	}
}

func TestExecuteBuyAveragesCost(t *testing.T) {
	p, _ := newTestProcessor()
	today := p.today()

	if _, _, err := p.ExecuteBuy("growth", "AAPL", money.Q(10), money.M(100, "USD"), today, ""); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, _, err := p.ExecuteBuy("growth", "AAPL", money.Q(10), money.M(200, "USD"), today, ""); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	repo := p.repo.(*memRepo)
	snap, _, _ := repo.GetLatestPortfolioSnapshot("growth")
	pos, _ := snap.PositionByTicker("AAPL")

	if !pos.Shares.Equal(money.Q(20)) {
		t.Errorf("Shares = %s, want 20", pos.Shares)
	}
	wantAvg := money.M(150, "USD")
	if !pos.AvgPrice.Equal(wantAvg) {
		t.Errorf("AvgPrice = %s, want %s", pos.AvgPrice, wantAvg)
	}
}

func TestExecuteSellRejectsInsufficientShares(t *testing.T) {
	p, _ := newTestProcessor()
	today := p.today()
	if _, _, err := p.ExecuteBuy("growth", "AAPL", money.Q(5), money.M(100, "USD"), today, ""); err != nil {
		t.Fatalf("buy: %v", err)
	}
	_, err := p.ExecuteSell("growth", "AAPL", money.Q(10), money.M(120, "USD"), today, "")
	if _, ok := err.(*InsufficientShares); !ok {
		t.Errorf("ExecuteSell() error = %v (%T), want *InsufficientShares", err, err)
	}
}

func TestExecuteSellComputesRealizedPnL(t *testing.T) {
	p, _ := newTestProcessor()
	today := p.today()
	if _, _, err := p.ExecuteBuy("growth", "AAPL", money.Q(10), money.M(100, "USD"), today, ""); err != nil {
		t.Fatalf("buy: %v", err)
	}
	trade, err := p.ExecuteSell("growth", "AAPL", money.Q(10), money.M(150, "USD"), today, "")
	if err != nil {
		t.Fatalf("ExecuteSell() error = %v", err)
	}
	if trade.RealizedPnL == nil {
		t.Fatal("expected RealizedPnL to be set for a sell")
	}
	want := money.M(500, "USD")
	if !trade.RealizedPnL.Equal(want) {
		t.Errorf("RealizedPnL = %s, want %s", *trade.RealizedPnL, want)
	}
}

func TestExecuteSellFullyClosesPosition(t *testing.T) {
	p, _ := newTestProcessor()
	today := p.today()
	if _, _, err := p.ExecuteBuy("growth", "AAPL", money.Q(10), money.M(100, "USD"), today, ""); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := p.ExecuteSell("growth", "AAPL", money.Q(10), money.M(150, "USD"), today, ""); err != nil {
		t.Fatalf("sell: %v", err)
	}
	repo := p.repo.(*memRepo)
	snap, _, _ := repo.GetLatestPortfolioSnapshot("growth")
	pos, found := snap.PositionByTicker("AAPL")
	if !found {
		t.Fatal("expected closed position to be retained, not deleted")
	}
	if !pos.Shares.IsZero() {
		t.Errorf("Shares = %s, want 0", pos.Shares)
	}
}

func TestBackdatedBuyRequiresRebuilder(t *testing.T) {
	p, _ := newTestProcessor()
	yesterday := p.today().Add(-1)
	_, _, err := p.ExecuteBuy("growth", "AAPL", money.Q(5), money.M(100, "USD"), yesterday, "")
	if err == nil {
		t.Fatal("expected an error when backdating without a configured rebuilder")
	}
}

func TestExecuteBuyWarnsOnInsufficientCash(t *testing.T) {
	p, repo := newTestProcessor()
	today := p.today()
	cash := money.M(500, "USD")
	repo.snapshots = append(repo.snapshots, PortfolioSnapshot{Fund: "growth", Timestamp: today, CashBalance: &cash})

	_, warn, err := p.ExecuteBuy("growth", "AAPL", money.Q(10), money.M(100, "USD"), today, "")
	if err != nil {
		t.Fatalf("ExecuteBuy() error = %v", err)
	}
	if warn == nil {
		t.Fatal("expected a non-nil Warning when cost basis exceeds cash balance")
	}
}

func TestExecuteBuyNoWarningWithSufficientCash(t *testing.T) {
	p, repo := newTestProcessor()
	today := p.today()
	cash := money.M(5000, "USD")
	repo.snapshots = append(repo.snapshots, PortfolioSnapshot{Fund: "growth", Timestamp: today, CashBalance: &cash})

	_, warn, err := p.ExecuteBuy("growth", "AAPL", money.Q(10), money.M(100, "USD"), today, "")
	if err != nil {
		t.Fatalf("ExecuteBuy() error = %v", err)
	}
	if warn != nil {
		t.Errorf("expected no Warning, got %v", warn)
	}
}

func TestExecuteSellClosesDustRemainder(t *testing.T) {
	p, _ := newTestProcessor()
	today := p.today()
	if _, _, err := p.ExecuteBuy("growth", "AAPL", money.Q(10), money.M(100, "USD"), today, ""); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// Selling 9.99 of 10 shares at $0.05 leaves 0.01 share worth $0.0005,
	// well under DustThreshold, so it should be swept automatically.
	if _, err := p.ExecuteSell("growth", "AAPL", money.Q(9.99), money.M(0.05, "USD"), today, ""); err != nil {
		t.Fatalf("sell: %v", err)
	}

	engine, err := p.engineFor("growth")
	if err != nil {
		t.Fatalf("engineFor() error = %v", err)
	}
	if !engine.RemainingShares("AAPL").IsZero() {
		t.Errorf("RemainingShares() = %s, want 0 after dust cleanup", engine.RemainingShares("AAPL"))
	}

	repo := p.repo.(*memRepo)
	snap, _, _ := repo.GetLatestPortfolioSnapshot("growth")
	pos, found := snap.PositionByTicker("AAPL")
	if !found {
		t.Fatal("expected AAPL position to be retained")
	}
	if !pos.Shares.IsZero() {
		t.Errorf("Shares = %s, want 0 after dust cleanup", pos.Shares)
	}
}

func TestExecuteSellPropagatesToFutureSnapshots(t *testing.T) {
	p, repo := newTestProcessor()
	today := p.today()
	if _, _, err := p.ExecuteBuy("growth", "AAPL", money.Q(10), money.M(100, "USD"), today, ""); err != nil {
		t.Fatalf("buy: %v", err)
	}
	repo.futureUpdateCalls = 0
	if _, err := p.ExecuteSell("growth", "AAPL", money.Q(5), money.M(150, "USD"), today, ""); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if repo.futureUpdateCalls == 0 {
		t.Error("expected UpdateTickerInFutureSnapshots to be called after a non-backdated sell")
	}
}
