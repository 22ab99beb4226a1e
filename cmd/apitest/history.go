package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/studiowebux/apitest/internal/cli"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse the history of single-call runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.history.LoadForSource(cmd.Context(), flagHistorySource, flagHistoryLimit)
		if err != nil {
			return err
		}
		return cli.WriteHistory(os.Stdout, entries, flagOutput)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid history id %q", args[0])
		}

		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		entry, err := a.history.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		format := flagOutput
		if format == "" {
			format = cli.FormatText
		}
		return cli.WriteExecution(os.Stdout, entry.Execution, format, true)
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-endpoint call statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.history.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return cli.WriteHistoryStats(os.Stdout, stats, flagOutput)
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every history entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.history.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Removed %d entries\n", removed)
		return nil
	},
}

var (
	flagHistoryLimit  int
	flagHistorySource string
)

func init() {
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "l", 20, "Maximum number of entries (0 for all)")
	historyCmd.Flags().StringVar(&flagHistorySource, "file", "", "Only entries recorded from this definition file")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyClearCmd)
}
