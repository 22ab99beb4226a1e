package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiowebux/apitest/internal/cli"
	"github.com/studiowebux/apitest/internal/config"
	"github.com/studiowebux/apitest/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "List, show and export stored reports",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reports, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		reports, err := a.engine.Reports(cmd.Context(), flagLimit)
		if err != nil {
			return err
		}
		return cli.WriteReportList(os.Stdout, reports, flagOutput)
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show one report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.engine.Report(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return cli.WriteReport(os.Stdout, rep, flagOutput)
	},
}

var reportExportCmd = &cobra.Command{
	Use:   "export <report-id>",
	Short: "Export a report as text or CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.engine.Report(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if flagExportOut == "" {
			return report.Export(os.Stdout, rep, flagExportFormat)
		}

		f, err := os.OpenFile(flagExportOut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.FilePermissions)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", flagExportOut, err)
		}
		if err := report.Export(f, rep, flagExportFormat); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Report exported to %s\n", flagExportOut)
		return nil
	},
}

var (
	flagLimit        int
	flagExportFormat string
	flagExportOut    string
)

func init() {
	reportListCmd.Flags().IntVarP(&flagLimit, "limit", "l", 20, "Maximum number of reports (0 for all)")
	reportExportCmd.Flags().StringVar(&flagExportFormat, "format", report.FormatText, "Export format (text/csv)")
	reportExportCmd.Flags().StringVar(&flagExportOut, "out", "", "Write to file instead of stdout")

	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportExportCmd)
}
