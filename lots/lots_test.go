package lots

import (
	"testing"

	"github.com/ledgerfolio/engine/money"
)

func TestSellFIFOConsumesOldestLotFirst(t *testing.T) {
	e := NewEngine()
	e.AddLot("AAPL", money.Q(10), money.M(100, "USD"))
	e.AddLot("AAPL", money.Q(10), money.M(200, "USD"))

	slices, err := e.SellFIFO("AAPL", money.Q(15), money.M(150, "USD"))
	if err != nil {
		t.Fatalf("SellFIFO() error = %v", err)
	}
	if len(slices) != 2 {
		t.Fatalf("SellFIFO() returned %d slices, want 2", len(slices))
	}
	if !slices[0].SharesSold.Equal(money.Q(10)) {
		t.Errorf("first slice shares = %s, want 10 (fully consumes first lot)", slices[0].SharesSold)
	}
	if !slices[1].SharesSold.Equal(money.Q(5)) {
		t.Errorf("second slice shares = %s, want 5 (partial from second lot)", slices[1].SharesSold)
	}
	if !e.RemainingShares("AAPL").Equal(money.Q(5)) {
		t.Errorf("RemainingShares() = %s, want 5", e.RemainingShares("AAPL"))
	}
}

func TestSellFIFOExactLotExhaustion(t *testing.T) {
	e := NewEngine()
	e.AddLot("MSFT", money.Q(10), money.M(50, "USD"))
	slices, err := e.SellFIFO("MSFT", money.Q(10), money.M(75, "USD"))
	if err != nil {
		t.Fatalf("SellFIFO() error = %v", err)
	}
	if len(slices) != 1 {
		t.Fatalf("SellFIFO() returned %d slices, want 1", len(slices))
	}
	if !e.RemainingShares("MSFT").IsZero() {
		t.Errorf("RemainingShares() = %s, want 0", e.RemainingShares("MSFT"))
	}
}

func TestSellFIFOInsufficientShares(t *testing.T) {
	e := NewEngine()
	e.AddLot("TSLA", money.Q(5), money.M(100, "USD"))
	_, err := e.SellFIFO("TSLA", money.Q(10), money.M(120, "USD"))
	if err == nil {
		t.Fatal("SellFIFO() expected InsufficientShares error, got nil")
	}
	if _, ok := err.(*InsufficientShares); !ok {
		t.Errorf("SellFIFO() error type = %T, want *InsufficientShares", err)
	}
}

func TestSellFIFOZeroSharesRejected(t *testing.T) {
	e := NewEngine()
	e.AddLot("TSLA", money.Q(5), money.M(100, "USD"))
	_, err := e.SellFIFO("TSLA", money.Q(0), money.M(100, "USD"))
	if _, ok := err.(*InvalidTrade); !ok {
		t.Errorf("SellFIFO() error type = %T, want *InvalidTrade", err)
	}
}

func TestSellFIFOZeroOrNegativePriceRejected(t *testing.T) {
	e := NewEngine()
	e.AddLot("TSLA", money.Q(5), money.M(100, "USD"))
	if _, err := e.SellFIFO("TSLA", money.Q(1), money.M(0, "USD")); err == nil {
		t.Fatal("SellFIFO() with zero price expected InvalidTrade error, got nil")
	} else if _, ok := err.(*InvalidTrade); !ok {
		t.Errorf("SellFIFO() error type = %T, want *InvalidTrade", err)
	}
	if _, err := e.SellFIFO("TSLA", money.Q(1), money.M(-10, "USD")); err == nil {
		t.Fatal("SellFIFO() with negative price expected InvalidTrade error, got nil")
	} else if _, ok := err.(*InvalidTrade); !ok {
		t.Errorf("SellFIFO() error type = %T, want *InvalidTrade", err)
	}
}

func TestRealizedPnLComputation(t *testing.T) {
	e := NewEngine()
	e.AddLot("NFLX", money.Q(10), money.M(100, "USD")) // cost basis 1000
	slices, err := e.SellFIFO("NFLX", money.Q(10), money.M(150, "USD"))
	if err != nil {
		t.Fatalf("SellFIFO() error = %v", err)
	}
	want := money.M(500, "USD") // proceeds 1500 - cost basis 1000
	if !slices[0].RealizedPnL.Equal(want) {
		t.Errorf("RealizedPnL = %s, want %s", slices[0].RealizedPnL, want)
	}
}

func TestAverageCostAfterPartialSell(t *testing.T) {
	e := NewEngine()
	e.AddLot("GOOG", money.Q(4), money.M(100, "USD"))
	e.SellFIFO("GOOG", money.Q(2), money.M(120, "USD"))
	// 2 remaining shares, cost basis proportionally halved to 200, avg cost 100.
	want := money.M(100, "USD")
	if got := e.AverageCost("GOOG"); !got.Equal(want) {
		t.Errorf("AverageCost() = %s, want %s", got, want)
	}
}

func TestRebuildFromTradesReplaysInTimestampOrder(t *testing.T) {
	e := NewEngine()
	trades := []TradeInput{
		{Ticker: "AAPL", Side: Sell, Shares: money.Q(5), Price: money.M(150, "USD"), Timestamp: 2},
		{Ticker: "AAPL", Side: Buy, Shares: money.Q(10), Price: money.M(100, "USD"), Timestamp: 1},
	}
	errs := e.RebuildFromTrades(trades)
	if len(errs) != 0 {
		t.Fatalf("RebuildFromTrades() errors = %v, want none", errs)
	}
	if !e.RemainingShares("AAPL").Equal(money.Q(5)) {
		t.Errorf("RemainingShares() = %s, want 5", e.RemainingShares("AAPL"))
	}
}

func TestRebuildFromTradesSurfacesCorruption(t *testing.T) {
	e := NewEngine()
	trades := []TradeInput{
		{Ticker: "AAPL", Side: Sell, Shares: money.Q(5), Price: money.M(150, "USD"), Timestamp: 1},
	}
	errs := e.RebuildFromTrades(trades)
	if len(errs) != 1 {
		t.Fatalf("RebuildFromTrades() errors = %d, want 1", len(errs))
	}
}
