package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// rootCommand keeps the state every subcommand needs: grounded on
// `cmd/root.go`'s rootCommand.
type rootCommand struct {
	globalState *globalState
	cmd         *cobra.Command
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{globalState: gs}

	rootCmd := &cobra.Command{
		Use:           "collector",
		Short:         "Tracing and log collection server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logger, ok := gs.logger.(*logrus.Logger)
			if !ok {
				return
			}
			if gs.flags.verbose {
				logger.SetLevel(logrus.DebugLevel)
			}
			if f, ok := logger.Formatter.(*logrus.TextFormatter); ok && gs.flags.noColor {
				f.DisableColors = true
				f.ForceColors = false
			}
		},
	}
	rootCmd.PersistentFlags().AddFlagSet(rootCmdPersistentFlagSet(gs))
	if len(gs.args) > 1 {
		rootCmd.SetArgs(gs.args[1:])
	}

	rootCmd.AddCommand(
		getServeCmd(gs),
		getMigrateCmd(gs),
	)

	c.cmd = rootCmd
	return c
}

func rootCmdPersistentFlagSet(gs *globalState) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVar(&gs.flags.listenAddress, "listen", gs.flags.listenAddress, "address the collector listens on")
	flags.StringVar(&gs.flags.databaseURL, "database-url", gs.flags.databaseURL, "Postgres connection string")
	flags.StringVar(&gs.flags.environment, "environment", gs.flags.environment, "deployment environment tag")
	flags.BoolVar(&gs.flags.noColor, "no-color", gs.flags.noColor, "disable colored log output")
	flags.BoolVarP(&gs.flags.verbose, "verbose", "v", gs.flags.verbose, "enable debug logging")
	return flags
}

// Execute builds the root command over the real process state and runs
// it. Called once from main.main().
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gs := newGlobalState(ctx)
	root := newRootCommand(gs)
	if err := root.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
