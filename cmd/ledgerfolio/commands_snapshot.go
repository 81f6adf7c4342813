package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"github.com/ledgerfolio/engine/priceservice"
)

// showCommand prints the fund's latest snapshot, optionally refreshed with
// live prices first.
type showCommand struct {
	app   *App
	fresh bool
}

func (*showCommand) Name() string     { return "show" }
func (*showCommand) Synopsis() string { return "print the fund's latest portfolio snapshot" }
func (*showCommand) Usage() string    { return "show [-fresh]\n" }

func (c *showCommand) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.fresh, "fresh", false, "refresh current prices before printing")
}

func (c *showCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	snap, ok, err := c.app.Repo.GetLatestPortfolioSnapshot(c.app.Fund)
	if err != nil {
		ExitWithError(err)
		return subcommands.ExitFailure
	}
	if !ok {
		fmt.Println("no snapshot on record for", c.app.Fund)
		return subcommands.ExitSuccess
	}

	positions := snap.Positions
	if c.fresh {
		positions = c.app.Prices.UpdatePositionsWithPrices(ctx, positions, priceservice.Current, snap.Timestamp)
	}

	fmt.Printf("%s as of %s (%d positions)\n", c.app.Fund, snap.Timestamp, len(positions))
	for _, p := range positions {
		mv := "n/a"
		if p.MarketValue != nil {
			mv = p.MarketValue.String()
		}
		fmt.Printf("  %-8s %10s sh  cost %12s  value %12s\n", p.Ticker, p.Shares, p.CostBasis, mv)
	}
	return subcommands.ExitSuccess
}

// validateCommand runs the fund's integrity checks.
type validateCommand struct {
	app *App
}

func (*validateCommand) Name() string     { return "validate" }
func (*validateCommand) Synopsis() string { return "check the fund's snapshots for integrity issues" }
func (*validateCommand) Usage() string    { return "validate\n" }
func (*validateCommand) SetFlags(*flag.FlagSet) {}

func (c *validateCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	issues, err := c.app.Repo.ValidateDataIntegrity(c.app.Fund)
	if err != nil {
		ExitWithError(err)
		return subcommands.ExitFailure
	}
	if len(issues) == 0 {
		fmt.Println("no issues found")
		return subcommands.ExitSuccess
	}
	for _, issue := range issues {
		fmt.Println("-", issue)
	}
	return subcommands.ExitStatus(ExitDataCorruption)
}

// backupCommand snapshots the fund's data to a file, reporting its size in
// human-readable form.
type backupCommand struct {
	app  *App
	path string
}

func (*backupCommand) Name() string     { return "backup" }
func (*backupCommand) Synopsis() string { return "back up the fund's data to a file" }
func (*backupCommand) Usage() string    { return "backup -path FILE\n" }

func (c *backupCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.path, "path", "", "destination file path")
}

func (c *backupCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.path == "" {
		fmt.Println("backup: -path is required")
		return subcommands.ExitUsageError
	}
	if err := c.app.Repo.BackupData(c.app.Fund, c.path); err != nil {
		ExitWithError(err)
		return subcommands.ExitFailure
	}
	if info, err := statSize(c.path); err == nil {
		fmt.Printf("backed up %s to %s (%s)\n", c.app.Fund, c.path, humanize.Bytes(info))
	} else {
		fmt.Printf("backed up %s to %s\n", c.app.Fund, c.path)
	}
	return subcommands.ExitSuccess
}
