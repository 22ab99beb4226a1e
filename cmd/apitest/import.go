package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiowebux/apitest/internal/config"
	"github.com/studiowebux/apitest/internal/converter"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Convert captures into definition files",
}

var importHARCmd = &cobra.Command{
	Use:   "har <file.har>",
	Short: "Convert a HAR capture into a suite",
	Long: `Convert a HAR capture (browser devtools export) into a suite of call
definitions. Sensitive headers are dropped unless --import-headers is set;
a bearer token becomes the {{token}} variable.

Use "-" to read the capture from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read HAR file: %w", err)
		}

		suite, err := converter.ImportHAR(data, converter.HAROptions{
			Name:          flagHARName,
			Filter:        flagHARFilter,
			ImportHeaders: flagHARHeaders,
			AssertStatus:  !flagHARNoAssert,
		})
		if err != nil {
			return err
		}

		if flagHAROut == "" {
			return converter.WriteSuite(os.Stdout, suite, flagHARFormat)
		}
		f, err := os.OpenFile(flagHAROut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.FilePermissions)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", flagHAROut, err)
		}
		if err := converter.WriteSuite(f, suite, flagHARFormat); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Converted %d entries to %s\n", len(suite.Definitions), flagHAROut)
		return nil
	},
}

// Flags for import har
var (
	flagHARName     string
	flagHARFilter   string
	flagHARHeaders  bool
	flagHARNoAssert bool
	flagHARFormat   string
	flagHAROut      string
)

func init() {
	importHARCmd.Flags().StringVar(&flagHARName, "name", "", "Suite name")
	importHARCmd.Flags().StringVar(&flagHARFilter, "filter", "", "Only keep entries whose URL contains this")
	importHARCmd.Flags().BoolVar(&flagHARHeaders, "import-headers", false, "Include sensitive headers")
	importHARCmd.Flags().BoolVar(&flagHARNoAssert, "no-assert", false, "Do not add status-code assertions")
	importHARCmd.Flags().StringVarP(&flagHARFormat, "format", "f", "yaml", "Output format (yaml/json)")
	importHARCmd.Flags().StringVar(&flagHAROut, "out", "", "Write to file instead of stdout")

	importCmd.AddCommand(importHARCmd)
}
