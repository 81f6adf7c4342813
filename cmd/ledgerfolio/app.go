// Package main wires the portfolio engine into a command-line tool: a
// cobra root command carrying global flags, dispatching into a
// subcommands.Commander tree of trade, snapshot, rebuild, and fetch
// commands, following the teacher's cmd/app.go grouping.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ledgerfolio/engine/cache"
	"github.com/ledgerfolio/engine/calendar"
	"github.com/ledgerfolio/engine/fetch"
	"github.com/ledgerfolio/engine/portfolio"
	"github.com/ledgerfolio/engine/priceservice"
	"github.com/ledgerfolio/engine/rebuild"
	"github.com/ledgerfolio/engine/repository"
)

// Exit codes per the module's documented CLI contract.
const (
	ExitSuccess         = 0
	ExitGenericError    = 1
	ExitValidationError = 2
	ExitDataCorruption  = 3
)

// App bundles everything a command needs: the active fund, the repository
// stack, and the market-data pipeline.
type App struct {
	Fund       string
	Repo       portfolio.Repository
	Processor  *portfolio.TradeProcessor
	Prices     *priceservice.PriceService
	Fetcher    *fetch.MarketDataFetcher
	Rebuilder  *rebuild.HistoricalRebuilder
	Calendar   *calendar.MarketCalendar
	priceCache *cache.PriceCache
	dataDir    string
}

// Close persists the warm price cache so the next invocation can start
// without refetching every ticker, and releases the underlying database
// connection.
func (a *App) Close() {
	if a.priceCache != nil {
		if err := a.priceCache.SaveSnapshot(filepath.Join(a.dataDir, "price_cache.msgpack")); err != nil {
			log.Warn().Err(err).Msg("ledgerfolio: failed to persist price cache snapshot")
		}
	}
	if closer, ok := a.Repo.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// NewApp constructs the full dependency graph for one invocation: local
// file storage mirrored into a SQLite database via dual-write, the
// four-stage market-data fetcher, its caches, and the price service and
// rebuilder layered on top.
func NewApp(cfg Config) (*App, error) {
	if err := godotenv.Load(cfg.EnvFile); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", cfg.EnvFile).Msg("ledgerfolio: could not load .env file")
	}

	local := repository.NewLocalFileRepository(cfg.DataDir)
	remote, err := repository.OpenRemoteDatabaseRepository(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("ledgerfolio: open remote database: %w", err)
	}
	repo := repository.NewDualWriteRepository(local, remote)

	cal := calendar.New(2015, 2035)

	apiKey := os.Getenv("LEDGERFOLIO_PRIMARY_API_KEY")
	fetcher, err := fetch.New(fetch.Config{
		PrimaryBaseURL:   envOr("LEDGERFOLIO_PRIMARY_URL", "https://eodhd.example.com/api"),
		PrimaryAPIKey:    apiKey,
		SecondaryBaseURL: envOr("LEDGERFOLIO_SECONDARY_URL", "https://stooq.example.com"),
		Blocklist:        map[string]bool{"^RUT": true},
		OverridesPath:    filepath.Join(cfg.DataDir, "fundamentals_overrides.json"),
	})
	if err != nil {
		return nil, fmt.Errorf("ledgerfolio: build market data fetcher: %w", err)
	}

	priceCache, err := cache.NewPriceCache(500, cache.PriceCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("ledgerfolio: build price cache: %w", err)
	}
	priceCache.LoadSnapshot(filepath.Join(cfg.DataDir, "price_cache.msgpack"), nowFunc())
	fundamentalsCache := cache.NewFundamentalsCache(filepath.Join(cfg.DataDir, "fundamentals_cache.json"), cache.FundamentalsCacheTTL, nowFunc())

	svc := priceservice.New(fetcher, priceCache, fundamentalsCache, cal)
	rebuilder := rebuild.New(repo, svc, cal)
	processor := portfolio.NewTradeProcessor(repo, cal, rebuilder)

	return &App{
		Fund: cfg.Fund, Repo: repo, Processor: processor,
		Prices: svc, Fetcher: fetcher, Rebuilder: rebuilder, Calendar: cal,
		priceCache: priceCache, dataDir: cfg.DataDir,
	}, nil
}

// Config holds the global flags every command shares.
type Config struct {
	Fund    string
	DataDir string
	DBPath  string
	EnvFile string
}

func nowFunc() time.Time { return time.Now() }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func configureLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}

// ExitWithError maps a returned error to the module's documented exit
// codes and prints it to stderr.
func ExitWithError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "ledgerfolio:", err)
	switch {
	case portfolio.IsDataCorruption(err):
		os.Exit(ExitDataCorruption)
	case portfolio.IsValidationError(err):
		os.Exit(ExitValidationError)
	default:
		os.Exit(ExitGenericError)
	}
}
