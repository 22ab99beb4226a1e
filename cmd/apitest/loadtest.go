package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/studiowebux/apitest/internal/cli"
	"github.com/studiowebux/apitest/internal/engine"
	"github.com/studiowebux/apitest/internal/loadtest"
	"github.com/studiowebux/apitest/internal/logging"
	"github.com/studiowebux/apitest/internal/parser"
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Start, inspect and collect load tests",
}

var loadtestStartCmd = &cobra.Command{
	Use:   "start <file>...",
	Short: "Start a load test over the definitions of one or more files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		req, err := loadTestRequest(args)
		if err != nil {
			return err
		}
		id, err := a.engine.StartLoadTest(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, id)

		if !flagWait {
			return nil
		}

		// Keep collecting after an interrupt; the interrupt only stops the job
		ctx := context.WithoutCancel(cmd.Context())
		interrupted := cmd.Context().Done()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-interrupted:
				interrupted = nil
				fmt.Fprintf(os.Stderr, "Interrupted, stopping %s\n", id)
				if _, err := a.engine.StopLoadTest(ctx, id); err != nil {
					return err
				}
			case <-ticker.C:
			}

			snap, err := a.engine.LoadTestStatus(id)
			if err != nil {
				return err
			}
			if snap.Terminal() {
				break
			}
			cli.WriteSnapshot(os.Stderr, snap, cli.FormatText)
		}

		rep, err := a.engine.CollectLoadTest(ctx, id)
		if err != nil {
			return err
		}
		return cli.WriteReport(os.Stdout, rep, flagOutput)
	},
}

var loadtestPreviewCmd = &cobra.Command{
	Use:   "preview <file>...",
	Short: "Print the resolved load test config without starting it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		req, err := loadTestRequest(args)
		if err != nil {
			return err
		}
		preview, err := a.engine.PreviewLoadTestConfig(req)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, preview)
		return nil
	},
}

var loadtestStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the live status of a load test",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.engine.LoadTestStatus(args[0])
		if err != nil {
			return err
		}
		return cli.WriteSnapshot(os.Stdout, snap, flagOutput)
	},
}

var loadtestStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Stop a running load test",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.engine.StopLoadTest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return cli.WriteSnapshot(os.Stdout, snap, flagOutput)
	},
}

var loadtestCollectCmd = &cobra.Command{
	Use:   "collect <job-id>",
	Short: "Collect the results of a finished load test into a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.engine.CollectLoadTest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return cli.WriteReport(os.Stdout, rep, flagOutput)
	},
}

// loadtestWorkerCmd is spawned by the controller; it talks back through files only
var loadtestWorkerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a load test worker (internal)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New("info", logging.JSON)
		if err != nil {
			return err
		}
		defer logger.Sync()

		return loadtest.RunWorkerProcess(loadtest.Paths{
			Config: flagWorkerConfig,
			Status: flagWorkerStatus,
			Result: flagWorkerResult,
		}, logger)
	},
}

// Flags for loadtest start/preview
var (
	flagUsers     int
	flagSpawnRate int
	flagDuration  string
	flagLoadName  string
	flagWait      bool
)

// Flags for loadtest worker
var (
	flagWorkerConfig string
	flagWorkerStatus string
	flagWorkerResult string
)

func init() {
	for _, c := range []*cobra.Command{loadtestStartCmd, loadtestPreviewCmd} {
		c.Flags().IntVarP(&flagUsers, "users", "u", 0, "Concurrent virtual users")
		c.Flags().IntVarP(&flagSpawnRate, "spawn-rate", "r", 0, "Users started per second")
		c.Flags().StringVarP(&flagDuration, "duration", "d", "", "Run time, e.g. 30s or 5m")
		c.Flags().StringVar(&flagLoadName, "name", "", "Load test name (default: first suite name)")
	}
	loadtestStartCmd.Flags().BoolVarP(&flagWait, "wait", "w", false, "Wait for completion and print the report")

	loadtestWorkerCmd.Flags().StringVar(&flagWorkerConfig, "config", "", "Config artifact path")
	loadtestWorkerCmd.Flags().StringVar(&flagWorkerStatus, "status", "", "Status artifact path")
	loadtestWorkerCmd.Flags().StringVar(&flagWorkerResult, "result", "", "Result artifact path")
	for _, name := range []string{"config", "status", "result"} {
		_ = loadtestWorkerCmd.MarkFlagRequired(name)
	}

	loadtestCmd.AddCommand(loadtestStartCmd)
	loadtestCmd.AddCommand(loadtestPreviewCmd)
	loadtestCmd.AddCommand(loadtestStatusCmd)
	loadtestCmd.AddCommand(loadtestStopCmd)
	loadtestCmd.AddCommand(loadtestCollectCmd)
	loadtestCmd.AddCommand(loadtestWorkerCmd)
}

// loadTestRequest merges the suites of paths with the -e variables
func loadTestRequest(paths []string) (*engine.LoadTestRequest, error) {
	req := &engine.LoadTestRequest{
		Name:      flagLoadName,
		Users:     flagUsers,
		SpawnRate: flagSpawnRate,
		Duration:  flagDuration,
		Variables: make(map[string]string),
	}
	for _, path := range paths {
		suite, err := cli.LoadSuite(path)
		if err != nil {
			return nil, err
		}
		req.Definitions = append(req.Definitions, suite.Definitions...)
		for k, v := range suite.Variables {
			req.Variables[k] = v
		}
		if req.Name == "" {
			req.Name = suite.Name
		}
	}
	for k, v := range parser.ParseAssignments(flagExtraVars) {
		req.Variables[k] = v
	}
	return req, nil
}
