package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/spf13/cobra"
)

var rootFlags Config
var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "ledgerfolio",
		Short: "Multi-fund portfolio engine: trade log, snapshots, and rebuilds",
		Args:  cobra.ArbitraryArgs,
		// Subcommand-specific flags (-ticker, -shares, ...) are parsed by
		// subcommands.Commander below, not by cobra/pflag, so unknown
		// flags must pass through rather than failing here.
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE:               run,
	}
	root.PersistentFlags().StringVar(&rootFlags.Fund, "fund", "default", "active fund identifier")
	root.PersistentFlags().StringVar(&rootFlags.DataDir, "data-dir", "./data", "local snapshot/trade-log directory")
	root.PersistentFlags().StringVar(&rootFlags.DBPath, "db", "./data/ledgerfolio.db", "SQLite mirror database path")
	root.PersistentFlags().StringVar(&rootFlags.EnvFile, "env-file", ".env", "dotenv file for vendor API keys")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitGenericError)
	}
}

// run builds the application context from cobra's parsed global flags and
// hands the remaining positional arguments to a subcommands.Commander,
// matching the teacher's grouped-command layout.
func run(cmd *cobra.Command, args []string) error {
	configureLogging(verbose)

	app, err := NewApp(rootFlags)
	if err != nil {
		return err
	}
	defer app.Close()

	fs := flag.NewFlagSet("ledgerfolio", flag.ContinueOnError)
	commander := subcommands.NewCommander(fs, "ledgerfolio")
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&buyCommand{app: app}, "transactions")
	commander.Register(&sellCommand{app: app}, "transactions")

	commander.Register(&showCommand{app: app}, "reports")
	commander.Register(&validateCommand{app: app}, "reports")
	commander.Register(&backupCommand{app: app}, "reports")

	commander.Register(&rebuildCommand{app: app}, "tools")
	commander.Register(&backfillCommand{app: app}, "tools")

	commander.Register(&fetchPricesCommand{app: app}, "providers")
	commander.Register(&fetchFundamentalsCommand{app: app}, "providers")

	if err := fs.Parse(args); err != nil {
		return err
	}
	status := commander.Execute(context.Background())
	if status != subcommands.ExitSuccess {
		os.Exit(int(status))
	}
	return nil
}
