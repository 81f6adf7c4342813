package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/ledgerfolio/engine/date"
)

// fetchPricesCommand pulls a price history for one ticker through the
// four-stage fallback ladder and prints the resolved source and bar count,
// for diagnosing vendor outages without touching the trade log.
type fetchPricesCommand struct {
	app      *App
	ticker   string
	from, to string
}

func (*fetchPricesCommand) Name() string     { return "fetch-prices" }
func (*fetchPricesCommand) Synopsis() string { return "fetch a ticker's price history" }
func (*fetchPricesCommand) Usage() string    { return "fetch-prices -ticker TICKER [-from DATE] [-to DATE]\n" }

func (c *fetchPricesCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "ticker", "", "ticker symbol")
	f.StringVar(&c.from, "from", "", "start date, defaults to 30 days before -to")
	f.StringVar(&c.to, "to", "", "end date, defaults to today")
}

func (c *fetchPricesCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	to, err := resolveDate(c.to)
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitUsageError
	}
	from := to.Add(-30)
	if c.from != "" {
		if from, err = date.Parse(c.from); err != nil {
			fmt.Println(err)
			return subcommands.ExitUsageError
		}
	}

	frame, err := c.app.Fetcher.FetchPrices(ctx, c.ticker, from, to)
	if err != nil {
		ExitWithError(err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s: %d bars from %s via %s\n", c.ticker, len(frame.Bars), from, frame.Source)
	if last, ok := frame.Latest(); ok {
		fmt.Printf("  latest close on %s: %s\n", last.Date, last.AdjClose)
	}
	return subcommands.ExitSuccess
}

// fetchFundamentalsCommand pulls and prints fundamentals for one ticker.
type fetchFundamentalsCommand struct {
	app    *App
	ticker string
}

func (*fetchFundamentalsCommand) Name() string     { return "fetch-fundamentals" }
func (*fetchFundamentalsCommand) Synopsis() string { return "fetch a ticker's fundamentals" }
func (*fetchFundamentalsCommand) Usage() string    { return "fetch-fundamentals -ticker TICKER\n" }

func (c *fetchFundamentalsCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "ticker", "", "ticker symbol")
}

func (c *fetchFundamentalsCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	fd, err := c.app.Fetcher.FetchFundamentals(ctx, c.ticker)
	if err != nil {
		ExitWithError(err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s: %s / %s, country %s, market cap %s\n", fd.Ticker, fd.Sector, fd.Industry, fd.Country, fd.MarketCap)
	return subcommands.ExitSuccess
}
