package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
)

// rebuildCommand regenerates every trading-day snapshot from a given date
// forward, for correcting history after a backdated trade.
type rebuildCommand struct {
	app  *App
	from string
}

func (*rebuildCommand) Name() string     { return "rebuild" }
func (*rebuildCommand) Synopsis() string { return "regenerate historical snapshots from a date forward" }
func (*rebuildCommand) Usage() string    { return "rebuild -from YYYY-MM-DD\n" }

func (c *rebuildCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "earliest date to regenerate, required")
}

func (c *rebuildCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	from, err := resolveDate(c.from)
	if err != nil || c.from == "" {
		fmt.Println("rebuild: -from YYYY-MM-DD is required")
		return subcommands.ExitUsageError
	}
	start := time.Now()
	if err := c.app.Rebuilder.RebuildFrom(c.app.Fund, from); err != nil {
		ExitWithError(err)
		return subcommands.ExitFailure
	}
	fmt.Printf("rebuilt %s from %s (started %s)\n", c.app.Fund, from, humanize.Time(start))
	return subcommands.ExitSuccess
}

// backfillCommand fills every trading day missing a snapshot between the
// fund's latest snapshot and today.
type backfillCommand struct {
	app *App
}

func (*backfillCommand) Name() string { return "backfill" }
func (*backfillCommand) Synopsis() string {
	return "fill missing snapshots between the latest one and today"
}
func (*backfillCommand) Usage() string          { return "backfill\n" }
func (*backfillCommand) SetFlags(*flag.FlagSet) {}

func (c *backfillCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.app.Rebuilder.BackfillMissingTradingDays(ctx, c.app.Fund); err != nil {
		ExitWithError(err)
		return subcommands.ExitFailure
	}
	fmt.Println("backfill complete for", c.app.Fund)
	return subcommands.ExitSuccess
}
