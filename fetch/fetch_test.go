package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/portfolio"
)

func TestFetchPricesPrimarySucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"date":"2026-07-01","open":10,"high":11,"low":9,"close":10.5,"adjusted_close":10.5,"volume":1000}]`))
	}))
	defer srv.Close()

	f, err := New(Config{PrimaryBaseURL: srv.URL, PrimaryAPIKey: "key"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	frame, err := f.FetchPrices(context.Background(), "AAPL", date.New(2026, time.July, 1), date.New(2026, time.July, 1))
	if err != nil {
		t.Fatalf("FetchPrices() error = %v", err)
	}
	if frame.Source != portfolio.SourcePrimary {
		t.Errorf("Source = %s, want %s", frame.Source, portfolio.SourcePrimary)
	}
	if len(frame.Bars) != 1 {
		t.Fatalf("len(Bars) = %d, want 1", len(frame.Bars))
	}
}

func TestFetchPricesFallsBackToSecondaryVendor(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer primary.Close()

	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Date,Open,High,Low,Close,Volume\n2026-07-01,10,11,9,10.5,1000\n"))
	}))
	defer secondary.Close()

	f, err := New(Config{PrimaryBaseURL: primary.URL, SecondaryBaseURL: secondary.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	frame, err := f.FetchPrices(context.Background(), "AAPL.us", date.New(2026, time.July, 1), date.New(2026, time.July, 1))
	if err != nil {
		t.Fatalf("FetchPrices() error = %v", err)
	}
	if frame.Source != portfolio.SourceSecondaryAPI {
		t.Errorf("Source = %s, want %s", frame.Source, portfolio.SourceSecondaryAPI)
	}
	if len(frame.Bars) != 1 || !frame.Bars[0].AdjClose.Equal(frame.Bars[0].Close) {
		t.Errorf("Bars = %+v, want one bar with AdjClose synthesized from Close", frame.Bars)
	}
}

func TestFetchPricesBlocklistSkipsSecondaryStages(t *testing.T) {
	calls := 0
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("Date,Open,High,Low,Close,Volume\n2026-07-01,10,11,9,10.5,1000\n"))
	}))
	defer secondary.Close()
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer primary.Close()

	f, err := New(Config{PrimaryBaseURL: primary.URL, SecondaryBaseURL: secondary.URL, Blocklist: map[string]bool{"^RUT": true}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = f.FetchPrices(context.Background(), "^RUT", date.New(2026, time.July, 1), date.New(2026, time.July, 1))
	if err == nil {
		t.Fatal("expected error, all stages exhausted for a blocklisted index whose proxy symbol also returns no data")
	}
	if calls != 0 {
		t.Errorf("secondary vendor called %d times, want 0 for a blocklisted symbol", calls)
	}
}

func TestFetchPricesUsesProxyForUnsupportedIndex(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/SPY" {
			w.Write([]byte(`[{"date":"2026-07-01","open":400,"high":410,"low":395,"close":405,"adjusted_close":405,"volume":5000}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer primary.Close()

	f, err := New(Config{PrimaryBaseURL: primary.URL, Blocklist: map[string]bool{"^GSPC": true}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	frame, err := f.FetchPrices(context.Background(), "^GSPC", date.New(2026, time.July, 1), date.New(2026, time.July, 1))
	if err != nil {
		t.Fatalf("FetchPrices() error = %v", err)
	}
	if frame.Source != portfolio.ProxySource("SPY") {
		t.Errorf("Source = %s, want %s", frame.Source, portfolio.ProxySource("SPY"))
	}
}

func TestSecondarySymbolNormalization(t *testing.T) {
	cases := map[string]string{
		"AAPL":   "aapl.us",
		"SHOP.TO": "shop.to",
		"^GSPC":  "^spx",
	}
	for in, want := range cases {
		if got := secondarySymbol(in); got != want {
			t.Errorf("secondarySymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
