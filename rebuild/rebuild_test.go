package rebuild

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ledgerfolio/engine/cache"
	"github.com/ledgerfolio/engine/calendar"
	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/fetch"
	"github.com/ledgerfolio/engine/money"
	"github.com/ledgerfolio/engine/portfolio"
	"github.com/ledgerfolio/engine/priceservice"
)

// memRepo is a minimal in-memory portfolio.Repository for exercising the
// rebuilder without a concrete storage backend.
type memRepo struct {
	trades    []portfolio.Trade
	snapshots []portfolio.PortfolioSnapshot
}

func (r *memRepo) GetPortfolioData(fund string, rng portfolio.DateRange) ([]portfolio.PortfolioSnapshot, error) {
	var out []portfolio.PortfolioSnapshot
	for _, s := range r.snapshots {
		if s.Fund == fund {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) GetLatestPortfolioSnapshot(fund string) (portfolio.PortfolioSnapshot, bool, error) {
	var latest portfolio.PortfolioSnapshot
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

func (r *memRepo) SavePortfolioSnapshot(snap portfolio.PortfolioSnapshot, isTradeExecution bool) error {
	for i, s := range r.snapshots {
		if s.Fund == snap.Fund && s.Timestamp == snap.Timestamp {
			r.snapshots[i] = snap
			return nil
		}
	}
	r.snapshots = append(r.snapshots, snap)
	return nil
}

func (r *memRepo) UpdateDailyPortfolioSnapshot(snap portfolio.PortfolioSnapshot, isTradeExecution bool) error {
	return r.SavePortfolioSnapshot(snap, isTradeExecution)
}

func (r *memRepo) GetTradeHistory(fund, ticker string, rng portfolio.DateRange) ([]portfolio.Trade, error) {
	var out []portfolio.Trade
	for _, t := range r.trades {
		if t.Fund == fund && (ticker == "" || t.Ticker == ticker) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memRepo) SaveTrade(t portfolio.Trade) error { r.trades = append(r.trades, t); return nil }

func (r *memRepo) GetPositionsByTicker(fund, ticker string) ([]portfolio.Position, error) {
	return nil, nil
}
func (r *memRepo) GetMarketData(ticker string, rng portfolio.DateRange) ([]portfolio.MarketData, error) {
	return nil, nil
}
func (r *memRepo) SaveMarketData(md portfolio.MarketData) error { return nil }
func (r *memRepo) BackupData(fund, path string) error           { return nil }
func (r *memRepo) RestoreFromBackup(fund, path string) error    { return nil }
func (r *memRepo) ValidateDataIntegrity(fund string) ([]string, error) {
	return nil, nil
}
func (r *memRepo) UpdateTickerInFutureSnapshots(fund, ticker string, from date.Date) error {
	return nil
}

func newTestRebuilder(t *testing.T, closePrice string) (*HistoricalRebuilder, *memRepo) {
	t.Helper()
	// The stub dates its single bar at the request's start date, so every
	// close lookup finds a bar at or before the day being rebuilt.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"date":"` + r.URL.Query().Get("from") + `","open":` + closePrice + `,"high":` + closePrice + `,"low":` + closePrice + `,"close":` + closePrice + `,"adjusted_close":` + closePrice + `,"volume":1000}]`))
	}))
	t.Cleanup(srv.Close)

	f, err := fetch.New(fetch.Config{PrimaryBaseURL: srv.URL, PrimaryAPIKey: "key"})
	if err != nil {
		t.Fatalf("fetch.New() error = %v", err)
	}
	prices, err := cache.NewPriceCache(100, time.Minute)
	if err != nil {
		t.Fatalf("NewPriceCache() error = %v", err)
	}
	cal := calendar.New(2020, 2030)
	svc := priceservice.New(f, prices, nil, cal)

	repo := &memRepo{}
	rb := New(repo, svc, cal)
	return rb, repo
}

func TestRebuildFromRegeneratesSnapshotsAcrossRange(t *testing.T) {
	rb, repo := newTestRebuilder(t, "150")
	rb.today = func() date.Date { return date.New(2026, time.July, 8) }

	monday := date.New(2026, time.July, 6)
	repo.trades = []portfolio.Trade{
		{Fund: "growth", Ticker: "AAPL", Action: portfolio.BUY, Shares: money.Q(10), Price: money.M(100, "USD"),
			Timestamp: monday, CostBasis: money.M(1000, "USD"), Currency: "USD"},
	}

	if err := rb.RebuildFrom("growth", monday); err != nil {
		t.Fatalf("RebuildFrom() error = %v", err)
	}

	snaps, err := repo.GetPortfolioData("growth", portfolio.DateRange{})
	if err != nil {
		t.Fatalf("GetPortfolioData() error = %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("len(snapshots) = %d, want 3 (Mon, Tue, Wed trading days)", len(snaps))
	}
	for _, s := range snaps {
		pos, found := s.PositionByTicker("AAPL")
		if !found {
			t.Fatalf("snapshot on %s missing AAPL position", s.Timestamp)
		}
		if !pos.Shares.Equal(money.Q(10)) {
			t.Errorf("snapshot on %s: Shares = %s, want 10", s.Timestamp, pos.Shares)
		}
	}
}

func TestRebuildFromSkipsWeekends(t *testing.T) {
	rb, repo := newTestRebuilder(t, "150")
	rb.today = func() date.Date { return date.New(2026, time.July, 6) } // Monday

	friday := date.New(2026, time.July, 3)
	repo.trades = []portfolio.Trade{
		{Fund: "growth", Ticker: "AAPL", Action: portfolio.BUY, Shares: money.Q(5), Price: money.M(100, "USD"),
			Timestamp: friday, CostBasis: money.M(500, "USD"), Currency: "USD"},
	}

	if err := rb.RebuildFrom("growth", friday); err != nil {
		t.Fatalf("RebuildFrom() error = %v", err)
	}

	snaps, _ := repo.GetPortfolioData("growth", portfolio.DateRange{})
	for _, s := range snaps {
		if s.Timestamp.Weekday() == time.Saturday || s.Timestamp.Weekday() == time.Sunday {
			t.Errorf("unexpected weekend snapshot on %s", s.Timestamp)
		}
	}
}

func TestRebuildFromIsIdempotent(t *testing.T) {
	rb, repo := newTestRebuilder(t, "150")
	rb.today = func() date.Date { return date.New(2026, time.July, 6) }

	monday := date.New(2026, time.July, 6)
	repo.trades = []portfolio.Trade{
		{Fund: "growth", Ticker: "AAPL", Action: portfolio.BUY, Shares: money.Q(10), Price: money.M(100, "USD"),
			Timestamp: monday, CostBasis: money.M(1000, "USD"), Currency: "USD"},
	}

	if err := rb.RebuildFrom("growth", monday); err != nil {
		t.Fatalf("first RebuildFrom() error = %v", err)
	}
	first, _ := repo.GetPortfolioData("growth", portfolio.DateRange{})

	if err := rb.RebuildFrom("growth", monday); err != nil {
		t.Fatalf("second RebuildFrom() error = %v", err)
	}
	second, _ := repo.GetPortfolioData("growth", portfolio.DateRange{})

	if len(first) != len(second) {
		t.Fatalf("snapshot count changed across reruns: %d vs %d", len(first), len(second))
	}
	for i := range first {
		pos1, _ := first[i].PositionByTicker("AAPL")
		pos2, _ := second[i].PositionByTicker("AAPL")
		if !pos1.MarketValue.Equal(*pos2.MarketValue) {
			t.Errorf("market value diverged on rerun: %s vs %s", pos1.MarketValue, pos2.MarketValue)
		}
	}
}

func TestBackfillMissingTradingDaysOnlyFillsTradingDays(t *testing.T) {
	rb, repo := newTestRebuilder(t, "150")
	rb.today = func() date.Date { return date.New(2026, time.July, 9) } // Thursday

	monday := date.New(2026, time.July, 6)
	repo.trades = []portfolio.Trade{
		{Fund: "growth", Ticker: "AAPL", Action: portfolio.BUY, Shares: money.Q(10), Price: money.M(100, "USD"),
			Timestamp: monday, CostBasis: money.M(1000, "USD"), Currency: "USD"},
	}
	repo.snapshots = []portfolio.PortfolioSnapshot{
		{Fund: "growth", Timestamp: monday, Kind: portfolio.MarketClose,
			Positions: []portfolio.Position{{Ticker: "AAPL", Shares: money.Q(10), CostBasis: money.M(1000, "USD"), Currency: "USD"}}},
	}

	if err := rb.BackfillMissingTradingDays(context.Background(), "growth"); err != nil {
		t.Fatalf("BackfillMissingTradingDays() error = %v", err)
	}

	snaps, _ := repo.GetPortfolioData("growth", portfolio.DateRange{})
	if len(snaps) != 4 {
		t.Fatalf("len(snapshots) = %d, want 4 (Mon existing + Tue, Wed, Thu backfilled)", len(snaps))
	}
	for _, s := range snaps {
		if s.Timestamp.Weekday() == time.Saturday || s.Timestamp.Weekday() == time.Sunday {
			t.Errorf("backfill created a weekend snapshot on %s", s.Timestamp)
		}
	}
}
