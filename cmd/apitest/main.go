package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/studiowebux/apitest/internal/cli"
	"github.com/studiowebux/apitest/internal/config"
	"github.com/studiowebux/apitest/internal/engine"
	"github.com/studiowebux/apitest/internal/history"
	"github.com/studiowebux/apitest/internal/logging"
	"github.com/studiowebux/apitest/internal/metrics"
	"github.com/studiowebux/apitest/internal/report"
	"github.com/studiowebux/apitest/internal/server"
	"github.com/studiowebux/apitest/internal/session"
)

var (
	version = "0.1.0"
)

// errFailed makes the process exit 1 after results were already printed
var errFailed = errors.New("one or more calls failed")

func main() {
	ctx, stop := signalContext()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "apitest",
	Short: "API testing engine with load test orchestration",
	Long: `apitest executes HTTP call definitions with variables, assertions,
SQL and Redis hooks, and runs them as batches or as load tests.

Examples:
  apitest run users.yaml                      # Run the first definition
  apitest run users.yaml -n create-user       # Run one definition by name
  apitest run api -e userId=123               # Provide a variable
  apitest batch smoke.yaml orders.yaml        # Run suites as one batch
  apitest loadtest start api.yaml --users 50  # Start a load test
  apitest serve                               # Start the controller API`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute one call definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		passed, err := cli.Run(cmd.Context(), a.engine, cli.RunOptions{
			FilePath:     args[0],
			Name:         flagName,
			OutputFormat: flagOutput,
			SavePath:     flagSave,
			BodyOverride: flagBody,
			ShowFull:     flagFull,
			ExtraVars:    flagExtraVars,
			Filter:       flagFilter,
			Query:        flagQuery,
			Prompt:       !flagNoPrompt,
		})
		if err != nil {
			return err
		}
		if !passed {
			return errFailed
		}
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <file>...",
	Short: "Run every definition of one or more files as a batch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		passed, err := cli.RunBatch(cmd.Context(), a.engine, cli.BatchOptions{
			FilePaths:     args,
			Name:          flagBatchName,
			StopOnFailure: flagStopOnFailure,
			ExtraVars:     flagExtraVars,
			OutputFormat:  flagOutput,
		})
		if err != nil {
			return err
		}
		if !passed {
			return errFailed
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the controller HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		addr := a.settings.ListenAddr
		if flagListen != "" {
			addr = flagListen
		}

		srv := server.New(server.Options{
			Addr:           addr,
			Engine:         a.engine,
			Metrics:        a.metrics,
			Logger:         a.logger,
			AllowedOrigins: flagOrigins,
		})
		return srv.Run(cmd.Context())
	},
}

// Flags shared by the root and its subcommands
var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
	flagOutput    string
	flagExtraVars []string
	flagEnvFile   string
)

// Flags for run
var (
	flagName     string
	flagSave     string
	flagBody     string
	flagFull     bool
	flagFilter   string
	flagQuery    string
	flagNoPrompt bool
)

// Flags for batch
var (
	flagBatchName     string
	flagStopOnFailure bool
)

// Flags for serve
var (
	flagListen  string
	flagOrigins []string
)

func init() {
	// Root command flags
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.apitest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", logging.Console, "Log format (console/json)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "Output format (json/yaml/text)")
	rootCmd.PersistentFlags().StringArrayVarP(&flagExtraVars, "extra-vars", "e", []string{}, "Set variable (key=value), can be repeated")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file")

	// Run command flags
	runCmd.Flags().StringVarP(&flagName, "name", "n", "", "Definition to run (default: first)")
	runCmd.Flags().StringVarP(&flagSave, "save", "s", "", "Save output to file")
	runCmd.Flags().StringVarP(&flagBody, "body", "b", "", "Override request body")
	runCmd.Flags().BoolVarP(&flagFull, "full", "f", false, "Show full output (status, headers, body)")
	runCmd.Flags().StringVar(&flagFilter, "filter", "", "JMESPath filter applied to the response body")
	runCmd.Flags().StringVar(&flagQuery, "query", "", "JMESPath query applied after the filter")
	runCmd.Flags().BoolVar(&flagNoPrompt, "no-prompt", false, "Never prompt for missing variables")

	// Batch command flags
	batchCmd.Flags().StringVar(&flagBatchName, "name", "", "Batch name (default: first suite name)")
	batchCmd.Flags().BoolVar(&flagStopOnFailure, "stop-on-failure", false, "Stop at the first failing call")

	// Serve command flags
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().StringSliceVar(&flagOrigins, "cors-origin", nil, "Allowed CORS origins, can be repeated")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loadtestCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(varsCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(historyCmd)
}

// app bundles what every engine-backed command needs
type app struct {
	settings *config.Settings
	logger   *zap.Logger
	metrics  *metrics.Metrics
	reports  *report.SQLiteStore
	history  *history.Manager
	engine   *engine.Engine
}

// bootstrap loads configuration and opens the stores behind the engine
func bootstrap() (*app, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	path := flagConfig
	if path == "" {
		path = config.ConfigFile
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := settings.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logger, err := logging.New(level, flagLogFormat)
	if err != nil {
		return nil, err
	}

	env, err := cli.LoadEnv(flagEnvFile)
	if err != nil {
		return nil, err
	}

	vars, err := session.Open(settings.VariablesFile)
	if err != nil {
		return nil, err
	}
	reports, err := report.OpenSQLite(settings.DatabasePath)
	if err != nil {
		return nil, err
	}
	hist, err := history.NewManager(settings.DatabasePath)
	if err != nil {
		reports.Close()
		return nil, err
	}

	m := metrics.New()
	eng, err := engine.New(engine.Options{
		Settings:  settings,
		Variables: vars,
		Reports:   reports,
		History:   hist,
		Logger:    logger,
		Metrics:   m,
		Env:       env,
	})
	if err != nil {
		reports.Close()
		hist.Close()
		return nil, err
	}

	return &app{
		settings: settings,
		logger:   logger,
		metrics:  m,
		reports:  reports,
		history:  hist,
		engine:   eng,
	}, nil
}

// Close releases the engine and both database handles
func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("failed to close engine", zap.Error(err))
	}
	if err := a.reports.Close(); err != nil {
		a.logger.Warn("failed to close report store", zap.Error(err))
	}
	if err := a.history.Close(); err != nil {
		a.logger.Warn("failed to close history", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
