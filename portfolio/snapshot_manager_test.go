package portfolio

import (
	"testing"
	"time"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/money"
)

func TestLoadDetectsDuplicateSnapshotDates(t *testing.T) {
	d := date.New(2026, time.July, 1)
	repo := &memRepo{snapshots: []PortfolioSnapshot{
		{SnapshotID: "a", Fund: "growth", Timestamp: d},
		{SnapshotID: "b", Fund: "growth", Timestamp: d},
	}}
	m := NewSnapshotManager(repo)
	_, warnings, err := m.Load("growth", DateRange{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(warnings) == 0 {
		t.Error("expected a duplicate-date warning in lenient mode")
	}
}

func TestLoadStrictModeFailsOnDuplicate(t *testing.T) {
	d := date.New(2026, time.July, 1)
	repo := &memRepo{snapshots: []PortfolioSnapshot{
		{SnapshotID: "a", Fund: "growth", Timestamp: d},
		{SnapshotID: "b", Fund: "growth", Timestamp: d},
	}}
	m := NewSnapshotManager(repo)
	m.Strict = true
	_, _, err := m.Load("growth", DateRange{})
	if _, ok := err.(*DataCorruptionError); !ok {
		t.Errorf("Load() error = %v (%T), want *DataCorruptionError", err, err)
	}
}

func TestValidateIntegrityFlagsCostBasisMismatch(t *testing.T) {
	m := NewSnapshotManager(&memRepo{})
	snap := PortfolioSnapshot{
		SnapshotID: "s1",
		Positions: []Position{
			{Ticker: "AAPL", Shares: money.Q(10), AvgPrice: money.M(100, "USD"), CostBasis: money.M(500, "USD")},
		},
	}
	issues := m.ValidateIntegrity(snap)
	if len(issues) == 0 {
		t.Error("expected a cost_basis mismatch issue")
	}
}

func TestValidateIntegrityPassesConsistentSnapshot(t *testing.T) {
	m := NewSnapshotManager(&memRepo{})
	price := money.M(150, "USD")
	mv := money.M(1500, "USD")
	pnl := money.M(500, "USD")
	snap := PortfolioSnapshot{
		SnapshotID: "s1",
		Positions: []Position{
			{
				Ticker: "AAPL", Shares: money.Q(10),
				AvgPrice: money.M(100, "USD"), CostBasis: money.M(1000, "USD"),
				CurrentPrice: &price, MarketValue: &mv, UnrealizedPnL: &pnl,
			},
		},
		TotalValue: &mv,
	}
	issues := m.ValidateIntegrity(snap)
	if len(issues) != 0 {
		t.Errorf("ValidateIntegrity() issues = %v, want none", issues)
	}
}

func TestValidateIntegrityFlagsNegativeShares(t *testing.T) {
	m := NewSnapshotManager(&memRepo{})
	snap := PortfolioSnapshot{
		SnapshotID: "s1",
		Positions: []Position{
			{Ticker: "AAPL", Shares: money.Q(-5), AvgPrice: money.M(100, "USD"), CostBasis: money.M(-500, "USD")},
		},
	}
	issues := m.ValidateIntegrity(snap)
	found := false
	for _, issue := range issues {
		if issue == "negative shares for AAPL in snapshot s1" {
			found = true
		}
	}
	if !found {
		t.Errorf("ValidateIntegrity() issues = %v, want a negative-shares issue", issues)
	}
}
