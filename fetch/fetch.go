// Package fetch retrieves historical and current market data through a
// layered fallback ladder, and merges vendor fundamentals with a static
// overrides file. It knows nothing about caching or trading calendars;
// priceservice composes it with cache and calendar.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/money"
	"github.com/ledgerfolio/engine/portfolio"
)

// Bar is one OHLCV row, indexed by a timezone-naive trading date.
type Bar struct {
	Date     date.Date
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	AdjClose decimal.Decimal
	Volume   int64
}

// Frame is a date-ordered run of Bars for one ticker.
type Frame struct {
	Ticker string
	Bars   []Bar
	Source portfolio.MarketDataSource
}

// indexRemap maps a primary-vendor index symbol to its secondary-vendor
// spelling, mirroring the teacher's MIC/exchange remap tables.
var indexRemap = map[string]string{
	"^GSPC": "^SPX",
	"^DJI":  "^DJI",
	"^IXIC": "^IXIC",
}

// proxyMap maps an illiquid or vendor-unsupported symbol to a liquid proxy
// fetchable through the primary vendor.
var proxyMap = map[string]string{
	"^GSPC": "SPY",
	"^RUT":  "IWM",
	"^IXIC": "QQQ",
	"^DJI":  "DIA",
}

// Config wires the fetcher to its two vendor endpoints and the symbol
// exception lists a deployment accumulates over time.
type Config struct {
	PrimaryBaseURL   string // e.g. EODHD-style /eod/<ticker>?from=&to=
	PrimaryAPIKey    string
	SecondaryBaseURL string // Stooq-style CSV endpoint
	Blocklist        map[string]bool
	OverridesPath    string // JSON map of ticker -> {field: value}
}

// MarketDataFetcher implements the four-stage fallback ladder described in
// the teacher's eodhd.go (single-vendor JSON GET) and extended with a
// secondary CSV vendor and proxy-symbol stage.
type MarketDataFetcher struct {
	cfg       Config
	client    *retryablehttp.Client
	overrides map[string]map[string]any
}

// New builds a fetcher. Overrides are loaded once, at startup, matching the
// spec's "loaded once" fundamentals-override contract.
func New(cfg Config) (*MarketDataFetcher, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil

	f := &MarketDataFetcher{cfg: cfg, client: client}
	if cfg.OverridesPath != "" {
		overrides, err := loadOverrides(cfg.OverridesPath)
		if err != nil {
			return nil, fmt.Errorf("fetch: load overrides: %w", err)
		}
		f.overrides = overrides
	}
	return f, nil
}

func loadOverrides(path string) (map[string]map[string]any, error) {
	b, err := httpOrFileRead(path)
	if err != nil {
		return nil, err
	}
	var out map[string]map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse overrides file: %w", err)
	}
	return out, nil
}

// FetchPrices runs the fallback ladder for [start, end] and returns the
// first non-empty result, tagging its Source accordingly.
func (f *MarketDataFetcher) FetchPrices(ctx context.Context, ticker string, start, end date.Date) (Frame, error) {
	if bars, err := f.fetchPrimary(ctx, ticker, start, end); err == nil && len(bars) > 0 {
		return Frame{Ticker: ticker, Bars: bars, Source: portfolio.SourcePrimary}, nil
	}

	if !f.cfg.Blocklist[ticker] {
		if bars, err := f.fetchSecondaryLibrary(ctx, ticker, start, end); err == nil && len(bars) > 0 {
			return Frame{Ticker: ticker, Bars: bars, Source: portfolio.SourceSecondaryAPI}, nil
		}
		if bars, err := f.fetchSecondaryCSV(ctx, ticker, start, end); err == nil && len(bars) > 0 {
			return Frame{Ticker: ticker, Bars: bars, Source: portfolio.SourceSecondaryCSV}, nil
		}
	}

	if proxy, ok := proxyMap[ticker]; ok {
		if bars, err := f.fetchPrimary(ctx, proxy, start, end); err == nil && len(bars) > 0 {
			return Frame{Ticker: ticker, Bars: bars, Source: portfolio.ProxySource(proxy)}, nil
		}
	}

	return Frame{}, fmt.Errorf("fetch: all stages exhausted for %s", ticker)
}

// fetchPrimary mirrors the teacher's eodhdDaily: a single JSON GET of the
// date-bounded EOD series for one ticker.
func (f *MarketDataFetcher) fetchPrimary(ctx context.Context, ticker string, start, end date.Date) ([]Bar, error) {
	if f.cfg.PrimaryBaseURL == "" {
		return nil, fmt.Errorf("fetch: no primary vendor configured")
	}
	addr := fmt.Sprintf("%s/%s?fmt=json&api_token=%s&from=%s&to=%s",
		strings.TrimRight(f.cfg.PrimaryBaseURL, "/"), ticker, f.cfg.PrimaryAPIKey, start, end)

	type row struct {
		Date     date.Date       `json:"date"`
		Open     decimal.Decimal `json:"open"`
		High     decimal.Decimal `json:"high"`
		Low      decimal.Decimal `json:"low"`
		Close    decimal.Decimal `json:"close"`
		AdjClose decimal.Decimal `json:"adjusted_close"`
		Volume   int64           `json:"volume"`
	}
	var rows []row
	if err := f.getJSON(ctx, addr, &rows); err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, Bar{Date: r.Date, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, AdjClose: r.AdjClose, Volume: r.Volume})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// fetchSecondaryLibrary applies the index remap table and the market-suffix
// normalization (.TO retained, otherwise default to .us) before delegating
// to the same secondary endpoint used by fetchSecondaryCSV; a real secondary
// vendor client library would replace this HTTP call.
func (f *MarketDataFetcher) fetchSecondaryLibrary(ctx context.Context, ticker string, start, end date.Date) ([]Bar, error) {
	if f.cfg.SecondaryBaseURL == "" {
		return nil, fmt.Errorf("fetch: no secondary vendor configured")
	}
	sym := secondarySymbol(ticker)
	addr := fmt.Sprintf("%s/q/d/l/?s=%s&i=d&from=%s&to=%s", strings.TrimRight(f.cfg.SecondaryBaseURL, "/"), sym, start, end)
	return f.getCSV(ctx, addr, start, end)
}

// fetchSecondaryCSV is stage 3: the same vendor's plain CSV endpoint, used
// when the library path above is unavailable or returned nothing.
func (f *MarketDataFetcher) fetchSecondaryCSV(ctx context.Context, ticker string, start, end date.Date) ([]Bar, error) {
	if f.cfg.SecondaryBaseURL == "" {
		return nil, fmt.Errorf("fetch: no secondary vendor configured")
	}
	sym := secondarySymbol(ticker)
	addr := fmt.Sprintf("%s/q/d/l/?s=%s&i=d", strings.TrimRight(f.cfg.SecondaryBaseURL, "/"), sym)
	return f.getCSV(ctx, addr, start, end)
}

func secondarySymbol(ticker string) string {
	if remapped, ok := indexRemap[ticker]; ok {
		ticker = remapped
	}
	if strings.HasPrefix(ticker, "^") {
		return strings.ToLower(ticker)
	}
	sym := strings.ToLower(ticker)
	if !strings.HasSuffix(sym, ".to") && !strings.HasSuffix(sym, ".us") {
		sym += ".us"
	}
	return sym
}

// getCSV parses a Date,Open,High,Low,Close[,Volume] CSV body, synthesizing
// Adj Close from Close when the column is absent, and filters to [start,end].
func (f *MarketDataFetcher) getCSV(ctx context.Context, addr string, start, end date.Date) ([]Bar, error) {
	body, err := f.get(ctx, addr)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) < 2 {
		return nil, nil
	}
	header := strings.Split(lines[0], ",")
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	adjIdx, hasAdj := col["Adj Close"]

	var bars []Bar
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			continue
		}
		d, err := date.Parse(fields[col["Date"]])
		if err != nil || d.Before(start) || end.Before(d) {
			continue
		}
		open := mustDecimal(fields[col["Open"]])
		high := mustDecimal(fields[col["High"]])
		low := mustDecimal(fields[col["Low"]])
		close := mustDecimal(fields[col["Close"]])
		adj := close
		if hasAdj && adjIdx < len(fields) {
			adj = mustDecimal(fields[adjIdx])
		}
		var volume int64
		if vIdx, ok := col["Volume"]; ok && vIdx < len(fields) {
			volume, _ = strconv.ParseInt(strings.TrimSpace(fields[vIdx]), 10, 64)
		}
		bars = append(bars, Bar{Date: d, Open: open, High: high, Low: low, Close: close, AdjClose: adj, Volume: volume})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// getJSON is the jwget equivalent: GET, check status, unmarshal.
func (f *MarketDataFetcher) getJSON(ctx context.Context, addr string, data any) error {
	body, err := f.get(ctx, addr)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, data)
}

func (f *MarketDataFetcher) get(ctx context.Context, addr string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: GET %s: %s", addr, resp.Status)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func httpOrFileRead(path string) ([]byte, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		resp, err := http.Get(path)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(path)
}

// Latest returns the frame's most recent bar, used by priceservice to pull
// the current price when fundamentals or a market-close close is needed.
func (fr Frame) Latest() (Bar, bool) {
	if len(fr.Bars) == 0 {
		return Bar{}, false
	}
	return fr.Bars[len(fr.Bars)-1], true
}

// AsMoney converts a bar to portfolio.MarketData carrying the given
// currency, the only point at which fetch's plain decimals become the
// domain's currency-aware Money values.
func (b Bar) AsMoney(ticker, currency string, source portfolio.MarketDataSource) portfolio.MarketData {
	return portfolio.MarketData{
		Ticker:   ticker,
		Date:     b.Date,
		Open:     money.M(b.Open, currency),
		High:     money.M(b.High, currency),
		Low:      money.M(b.Low, currency),
		Close:    money.M(b.Close, currency),
		AdjClose: money.M(b.AdjClose, currency),
		Volume:   b.Volume,
		Source:   source,
	}
}
