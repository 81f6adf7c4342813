package portfolio

import (
	"fmt"
	"sort"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/money"
)

// IntegrityTolerance is the absolute tolerance, in major currency units,
// allowed between a derived field and its recomputed value before
// SnapshotManager flags a mismatch.
var IntegrityTolerance = money.M(0.01, "")

// SnapshotManager loads and validates a fund's snapshots. It holds no
// persistent state of its own; every call reads through the Repository
// passed to it.
type SnapshotManager struct {
	repo   Repository
	Strict bool // when true, corruption findings return a DataCorruptionError instead of a warning string
}

// NewSnapshotManager returns a SnapshotManager backed by repo, defaulting
// to lenient (warning-only) duplicate handling.
func NewSnapshotManager(repo Repository) *SnapshotManager {
	return &SnapshotManager{repo: repo}
}

// Load returns a fund's snapshots in r, sorted ascending by timestamp, and
// performs duplicate-date detection per the integrity rules.
func (m *SnapshotManager) Load(fund string, r DateRange) ([]PortfolioSnapshot, []string, error) {
	snapshots, err := m.repo.GetPortfolioData(fund, r)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot manager: load %s: %w", fund, err)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Timestamp.Before(snapshots[j].Timestamp) })

	warnings, err := m.checkDuplicates(fund, snapshots)
	if err != nil {
		return nil, nil, err
	}
	return snapshots, warnings, nil
}

// checkDuplicates groups snapshots by calendar date. More than one snapshot
// per date is corruption; a market-close snapshot and an intraday snapshot
// may never coexist for the same date either.
func (m *SnapshotManager) checkDuplicates(fund string, snapshots []PortfolioSnapshot) ([]string, error) {
	byDate := make(map[date.Date][]PortfolioSnapshot)
	for _, s := range snapshots {
		byDate[s.Timestamp] = append(byDate[s.Timestamp], s)
	}

	var warnings []string
	for d, group := range byDate {
		if len(group) <= 1 {
			continue
		}
		msg := fmt.Sprintf("fund %s has %d snapshots for %s", fund, len(group), d)
		if m.Strict {
			return nil, &DataCorruptionError{Fund: fund, Reason: msg}
		}
		warnings = append(warnings, msg)

		hasMarketClose, hasIntraday := false, false
		for _, s := range group {
			if s.Kind == MarketClose {
				hasMarketClose = true
			} else {
				hasIntraday = true
			}
		}
		if hasMarketClose && hasIntraday {
			coexist := fmt.Sprintf("fund %s: market-close and intraday snapshots coexist for %s", fund, d)
			if m.Strict {
				return nil, &DataCorruptionError{Fund: fund, Reason: coexist}
			}
			warnings = append(warnings, coexist)
		}
	}
	sort.Strings(warnings)
	return warnings, nil
}

// ValidateIntegrity checks the derived-field invariants of a single
// snapshot and returns a human-readable issue per violation found.
func (m *SnapshotManager) ValidateIntegrity(s PortfolioSnapshot) []string {
	var issues []string

	seen := make(map[string]bool)
	var totalValue money.Money
	haveTotalValue := false

	for _, p := range s.Positions {
		if seen[p.Ticker] {
			issues = append(issues, fmt.Sprintf("duplicate ticker %s in snapshot %s", p.Ticker, s.SnapshotID))
		}
		seen[p.Ticker] = true

		if p.Shares.IsNegative() {
			issues = append(issues, fmt.Sprintf("negative shares for %s in snapshot %s", p.Ticker, s.SnapshotID))
		}

		wantCostBasis := p.AvgPrice.Mul(p.Shares)
		if !withinTolerance(p.CostBasis, wantCostBasis) {
			issues = append(issues, fmt.Sprintf("cost_basis mismatch for %s: have %s, want ~%s", p.Ticker, p.CostBasis, wantCostBasis))
		}

		if p.CurrentPrice != nil && p.MarketValue != nil {
			wantMV := p.CurrentPrice.Mul(p.Shares)
			if !withinTolerance(*p.MarketValue, wantMV) {
				issues = append(issues, fmt.Sprintf("market_value mismatch for %s: have %s, want ~%s", p.Ticker, *p.MarketValue, wantMV))
			}
			if p.UnrealizedPnL != nil {
				wantPnL := p.MarketValue.Sub(p.CostBasis)
				if !withinTolerance(*p.UnrealizedPnL, wantPnL) {
					issues = append(issues, fmt.Sprintf("unrealized_pnl mismatch for %s: have %s, want ~%s", p.Ticker, *p.UnrealizedPnL, wantPnL))
				}
			}
			if !haveTotalValue {
				totalValue = *p.MarketValue
				haveTotalValue = true
			} else {
				totalValue = totalValue.Add(*p.MarketValue)
			}
		}
	}

	if s.TotalValue != nil && haveTotalValue && !withinTolerance(*s.TotalValue, totalValue) {
		issues = append(issues, fmt.Sprintf("total_value mismatch for snapshot %s: have %s, want ~%s", s.SnapshotID, *s.TotalValue, totalValue))
	}

	return issues
}

// withinTolerance reports whether |have-want| <= IntegrityTolerance,
// ignoring currency mismatches from uncurrencied zero values.
func withinTolerance(have, want money.Money) bool {
	diff := have.Sub(want)
	if diff.IsNegative() {
		diff = diff.Neg()
	}
	return !diff.GreaterThan(IntegrityTolerance)
}
