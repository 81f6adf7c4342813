package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/ledgerfolio/engine/date"
	"github.com/ledgerfolio/engine/money"
)

// buyCommand executes a BUY trade against the active fund.
type buyCommand struct {
	app           *App
	ticker        string
	shares, price float64
	reason        string
	on            string
}

func (*buyCommand) Name() string     { return "buy" }
func (*buyCommand) Synopsis() string { return "record a BUY trade" }
func (*buyCommand) Usage() string {
	return "buy -ticker TICKER -shares N -price P [-on YYYY-MM-DD] [-reason TEXT]\n"
}

func (c *buyCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "ticker", "", "ticker symbol")
	f.Float64Var(&c.shares, "shares", 0, "share count")
	f.Float64Var(&c.price, "price", 0, "fill price")
	f.StringVar(&c.reason, "reason", "", "optional free-text reason")
	f.StringVar(&c.on, "on", "", "trade date YYYY-MM-DD, defaults to today")
}

func (c *buyCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	on, err := resolveDate(c.on)
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitUsageError
	}
	trade, warn, err := c.app.Processor.ExecuteBuy(c.app.Fund, c.ticker, money.Q(c.shares), money.M(c.price, ""), on, c.reason)
	if err != nil {
		ExitWithError(err)
		return subcommands.ExitFailure
	}
	if warn != nil {
		fmt.Println("warning:", warn.Reason)
	}
	fmt.Printf("recorded BUY %s %s shares @ %s (trade %s)\n", trade.Ticker, trade.Shares, trade.Price, trade.TradeID)
	return subcommands.ExitSuccess
}

// sellCommand executes a SELL trade against the active fund.
type sellCommand struct {
	app           *App
	ticker        string
	shares, price float64
	reason        string
	on            string
}

func (*sellCommand) Name() string     { return "sell" }
func (*sellCommand) Synopsis() string { return "record a SELL trade" }
func (*sellCommand) Usage() string {
	return "sell -ticker TICKER -shares N -price P [-on YYYY-MM-DD] [-reason TEXT]\n"
}

func (c *sellCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "ticker", "", "ticker symbol")
	f.Float64Var(&c.shares, "shares", 0, "share count")
	f.Float64Var(&c.price, "price", 0, "fill price")
	f.StringVar(&c.reason, "reason", "", "optional free-text reason")
	f.StringVar(&c.on, "on", "", "trade date YYYY-MM-DD, defaults to today")
}

func (c *sellCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	on, err := resolveDate(c.on)
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitUsageError
	}
	trade, err := c.app.Processor.ExecuteSell(c.app.Fund, c.ticker, money.Q(c.shares), money.M(c.price, ""), on, c.reason)
	if err != nil {
		ExitWithError(err)
		return subcommands.ExitFailure
	}
	fmt.Printf("recorded SELL %s %s shares @ %s (trade %s)\n", trade.Ticker, trade.Shares, trade.Price, trade.TradeID)
	return subcommands.ExitSuccess
}

func resolveDate(s string) (date.Date, error) {
	if s == "" {
		return date.Today(), nil
	}
	return date.Parse(s)
}
