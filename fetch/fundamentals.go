package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ledgerfolio/engine/date"
)

// Fundamentals is the merged vendor+override view of a ticker's reference
// data. Sector, Industry, MarketCap, TrailingPE and DividendYield are left
// at their zero value when neither the vendor nor the overrides supply
// them. Country is never left empty: without a vendor value it falls back
// to Canada for .TO/.V tickers and USA otherwise. Missing 52-week bounds
// are derived from price history when any is available.
type Fundamentals struct {
	Ticker           string
	Sector           string
	Industry         string
	Country          string
	MarketCap        decimal.Decimal
	TrailingPE       decimal.Decimal
	DividendYield    decimal.Decimal // percent, e.g. 2.3 means 2.3%
	FiftyTwoWeekHigh decimal.Decimal
	FiftyTwoWeekLow  decimal.Decimal
}

var countryAliases = map[string]string{
	"United States":             "USA",
	"United States of America":  "USA",
	"US":                        "USA",
	"Canada":                    "Canada",
	"United Kingdom":            "UK",
	"Great Britain":             "UK",
}

// FetchFundamentals queries the primary vendor, fills in derived fields the
// vendor omitted, applies the country alias/suffix fallback, and finally
// overlays the static overrides file (which unconditionally wins).
func (f *MarketDataFetcher) FetchFundamentals(ctx context.Context, ticker string) (Fundamentals, error) {
	fd := Fundamentals{Ticker: ticker}

	if f.cfg.PrimaryBaseURL != "" {
		vendor, err := f.fetchFundamentalsVendor(ctx, ticker)
		if err == nil {
			fd = vendor
			fd.Ticker = ticker
		}
	}

	if fd.Country == "" || fd.Country == "N/A" {
		if alias, ok := countryAliases[fd.Country]; ok {
			fd.Country = alias
		} else if strings.HasSuffix(ticker, ".TO") || strings.HasSuffix(ticker, ".V") {
			fd.Country = "Canada"
		} else {
			fd.Country = "USA"
		}
	} else if alias, ok := countryAliases[fd.Country]; ok {
		fd.Country = alias
	}

	if fd.DividendYield.IsZero() || fd.FiftyTwoWeekHigh.IsZero() || fd.FiftyTwoWeekLow.IsZero() {
		if err := f.fillDerivedFields(ctx, ticker, &fd); err != nil {
			return fd, fmt.Errorf("fetch: derive fundamentals for %s: %w", ticker, err)
		}
	}

	f.applyOverrides(ticker, &fd)
	return fd, nil
}

func (f *MarketDataFetcher) fetchFundamentalsVendor(ctx context.Context, ticker string) (Fundamentals, error) {
	addr := fmt.Sprintf("%s/fundamentals/%s?fmt=json&api_token=%s",
		strings.TrimRight(f.cfg.PrimaryBaseURL, "/"), ticker, f.cfg.PrimaryAPIKey)

	var payload struct {
		Sector           string          `json:"sector"`
		Industry         string          `json:"industry"`
		Country          string          `json:"country"`
		MarketCap        decimal.Decimal `json:"marketCap"`
		TrailingPE       decimal.Decimal `json:"trailingPE"`
		DividendYield    decimal.Decimal `json:"dividendYield"`
		FiftyTwoWeekHigh decimal.Decimal `json:"fiftyTwoWeekHigh"`
		FiftyTwoWeekLow  decimal.Decimal `json:"fiftyTwoWeekLow"`
	}
	if err := f.getJSON(ctx, addr, &payload); err != nil {
		return Fundamentals{}, err
	}
	return Fundamentals{
		Sector: payload.Sector, Industry: payload.Industry, Country: payload.Country,
		MarketCap: payload.MarketCap, TrailingPE: payload.TrailingPE,
		DividendYield: payload.DividendYield, FiftyTwoWeekHigh: payload.FiftyTwoWeekHigh,
		FiftyTwoWeekLow: payload.FiftyTwoWeekLow,
	}, nil
}

// fillDerivedFields computes the 52-week high and low from one year of
// price history when the vendor payload omitted either. Dividend yield is
// not derived here; it keeps whatever value the vendor returned.
func (f *MarketDataFetcher) fillDerivedFields(ctx context.Context, ticker string, fd *Fundamentals) error {
	end := date.Today()
	start := end.Add(-365)
	frame, err := f.FetchPrices(ctx, ticker, start, end)
	if err != nil || len(frame.Bars) == 0 {
		return nil
	}

	if fd.FiftyTwoWeekHigh.IsZero() || fd.FiftyTwoWeekLow.IsZero() {
		high, low := frame.Bars[0].High, frame.Bars[0].Low
		for _, b := range frame.Bars[1:] {
			if b.High.GreaterThan(high) {
				high = b.High
			}
			if b.Low.LessThan(low) {
				low = b.Low
			}
		}
		fd.FiftyTwoWeekHigh, fd.FiftyTwoWeekLow = high, low
	}
	return nil
}

// applyOverrides merges the overrides file for one ticker into fd. Override
// values win unconditionally over whatever the vendor or derivation stage
// produced.
func (f *MarketDataFetcher) applyOverrides(ticker string, fd *Fundamentals) {
	fields, ok := f.overrides[ticker]
	if !ok {
		return
	}
	if v, ok := fields["sector"].(string); ok {
		fd.Sector = v
	}
	if v, ok := fields["industry"].(string); ok {
		fd.Industry = v
	}
	if v, ok := fields["country"].(string); ok {
		fd.Country = v
	}
	if v, ok := fields["marketCap"]; ok {
		fd.MarketCap = toDecimal(v)
	}
	if v, ok := fields["trailingPE"]; ok {
		fd.TrailingPE = toDecimal(v)
	}
	if v, ok := fields["dividendYield"]; ok {
		fd.DividendYield = toDecimal(v)
	}
	if v, ok := fields["fiftyTwoWeekHigh"]; ok {
		fd.FiftyTwoWeekHigh = toDecimal(v)
	}
	if v, ok := fields["fiftyTwoWeekLow"]; ok {
		fd.FiftyTwoWeekLow = toDecimal(v)
	}
}

func toDecimal(v any) decimal.Decimal {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x)
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
