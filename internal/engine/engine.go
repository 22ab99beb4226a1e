// Package engine wires the executor, batch runner and load-test orchestrator
// behind the operations a controller calls.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/apitest/internal/batch"
	"github.com/studiowebux/apitest/internal/config"
	"github.com/studiowebux/apitest/internal/datasource"
	"github.com/studiowebux/apitest/internal/executor"
	"github.com/studiowebux/apitest/internal/history"
	"github.com/studiowebux/apitest/internal/loadtest"
	"github.com/studiowebux/apitest/internal/metrics"
	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/report"
	"github.com/studiowebux/apitest/internal/session"
	"github.com/studiowebux/apitest/internal/types"
)

// Options configure an Engine. Only Settings is required.
type Options struct {
	Settings  *config.Settings
	Variables *session.Store
	Reports   report.Store
	History   *history.Manager
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// WorkerCommand overrides how load-test workers are spawned
	WorkerCommand loadtest.CommandFunc

	// Env is the environment tier exposed as {{env.NAME}}
	Env map[string]string
}

// Engine is the controller-facing API
type Engine struct {
	settings *config.Settings
	vars     *session.Store
	reports  report.Store
	history  *history.Manager
	env      map[string]string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	exec      *executor.Executor
	data      *datasource.Registry
	pipeline  *Pipeline
	batches   *batch.Runner
	loadtests *loadtest.Orchestrator
}

// LoadTestRequest describes a load test over call definitions. The
// definitions are resolved once at start; every virtual user replays the
// resolved requests.
type LoadTestRequest struct {
	Name        string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Users       int                    `json:"users,omitempty" yaml:"users,omitempty"`
	SpawnRate   int                    `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`
	Duration    string                 `json:"duration,omitempty" yaml:"duration,omitempty"`
	Definitions []types.CallDefinition `json:"definitions" yaml:"definitions"`
	Variables   map[string]string      `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// New creates an engine and picks up load tests left by a previous controller
func New(opts Options) (*Engine, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &Engine{
		settings: opts.Settings,
		vars:     opts.Variables,
		reports:  opts.Reports,
		history:  opts.History,
		env:      opts.Env,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}

	e.exec = executor.New(
		executor.WithLogger(opts.Logger),
		executor.WithCertificates(opts.Settings.Certificates),
		executor.WithMaxConns(opts.Settings.MaxConns),
	)
	e.data = datasource.NewRegistry(opts.Settings.Datasources, opts.Logger)
	e.pipeline = NewPipeline(e.exec, e.data, opts.Metrics, opts.Logger)

	e.batches = batch.NewRunner(e.pipeline, e.batchScope, opts.Logger, opts.Metrics)
	e.batches.OnFinish(e.saveBatchReport)

	command := opts.WorkerCommand
	if command == nil {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate worker executable: %w", err)
		}
		command = loadtest.WorkerCommand(executable)
	}

	orchestrator, err := loadtest.NewOrchestrator(loadtest.Options{
		Dir:         opts.Settings.LoadTestDir,
		Command:     command,
		GraceWindow: opts.Settings.GraceWindow,
		StopTimeout: opts.Settings.StopTimeout,
		Store:       opts.Reports,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	e.loadtests = orchestrator

	if _, err := orchestrator.Recover(); err != nil {
		opts.Logger.Warn("failed to recover load tests", zap.Error(err))
	}

	return e, nil
}

// Close interrupts running batches, waits up to the stop timeout for their
// reports to be saved, then releases pooled connections
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.settings.StopTimeout)
	defer cancel()
	if err := e.batches.Shutdown(ctx); err != nil {
		e.logger.Warn("batches still running at shutdown", zap.Error(err))
	}

	e.exec.Close()
	return e.data.Close()
}

// Variables returns the global variable store, or nil
func (e *Engine) Variables() *session.Store {
	return e.vars
}

// Scope builds a fresh variable scope with overrides applied on top of the
// persisted variables. Other processes may have written the store since it
// was opened, so it is reloaded first.
func (e *Engine) Scope(overrides map[string]string) (*parser.VariableScope, error) {
	if e.vars == nil {
		return parser.NewScope(overrides, nil, e.env), nil
	}
	if err := e.vars.Reload(); err != nil {
		return nil, err
	}
	return e.vars.Scope(overrides, e.env), nil
}

func (e *Engine) batchScope(overrides map[string]string) (*parser.VariableScope, error) {
	return e.Scope(overrides)
}

// withDefaults returns defs with the configured request timeout applied
func (e *Engine) withDefaults(defs []types.CallDefinition) []types.CallDefinition {
	out := make([]types.CallDefinition, len(defs))
	copy(out, defs)
	timeout := int(e.settings.RequestTimeout / time.Second)
	for i := range out {
		if out[i].TimeoutSec <= 0 && timeout > 0 {
			out[i].TimeoutSec = timeout
		}
	}
	return out
}

// RunSingle executes one definition synchronously with all its repeats
func (e *Engine) RunSingle(ctx context.Context, def types.CallDefinition, overrides map[string]string) (*types.Execution, error) {
	scope, err := e.Scope(overrides)
	if err != nil {
		return nil, err
	}
	def = e.withDefaults([]types.CallDefinition{def})[0]
	return e.pipeline.Run(ctx, &def, scope), nil
}

// RecordRun stores a single-call execution in the history, when one is configured
func (e *Engine) RecordRun(ctx context.Context, source string, exec *types.Execution) {
	if e.history == nil || exec == nil {
		return
	}
	if _, err := e.history.Save(ctx, source, exec); err != nil {
		e.logger.Warn("failed to record history",
			zap.String("source", source),
			zap.Error(err))
	}
}

// History returns the call history, or nil
func (e *Engine) History() *history.Manager {
	return e.history
}

// StartBatch queues definitions for background execution and returns the job id
func (e *Engine) StartBatch(ctx context.Context, defs []types.CallDefinition, opts batch.Options) (string, error) {
	return e.batches.Start(ctx, e.withDefaults(defs), opts)
}

// BatchStatus returns the progress of a batch job
func (e *Engine) BatchStatus(id string) (batch.Progress, error) {
	return e.batches.Status(id)
}

// BatchResult returns the executions recorded for a batch job
func (e *Engine) BatchResult(id string) (*batch.Result, error) {
	return e.batches.Result(id)
}

// WaitBatch blocks until the batch job is terminal
func (e *Engine) WaitBatch(ctx context.Context, id string) (batch.Progress, error) {
	return e.batches.Wait(ctx, id)
}

// ListBatches returns the retained batch jobs
func (e *Engine) ListBatches() []batch.Progress {
	return e.batches.List()
}

func (e *Engine) saveBatchReport(res batch.Result) {
	if e.reports == nil {
		return
	}
	r := report.FromBatch(res)
	if err := e.reports.Save(context.Background(), r); err != nil {
		e.logger.Error("failed to save batch report",
			zap.String("job_id", res.Progress.JobID),
			zap.Error(err))
	}
}

// BuildLoadTestConfig resolves the definitions of req into a worker config.
// Dynamic variables are evaluated once per definition.
func (e *Engine) BuildLoadTestConfig(req *LoadTestRequest) (*loadtest.Config, error) {
	if len(req.Definitions) == 0 {
		return nil, fmt.Errorf("at least one definition is required")
	}
	scope, err := e.Scope(req.Variables)
	if err != nil {
		return nil, err
	}

	cfg := &loadtest.Config{
		Name:      req.Name,
		Users:     req.Users,
		SpawnRate: req.SpawnRate,
		Duration:  req.Duration,
	}
	for _, def := range e.withDefaults(req.Definitions) {
		prepared, err := e.exec.Prepare(&def, scope.ForCall())
		if err != nil {
			return nil, fmt.Errorf("failed to prepare %s: %w", def.DisplayName(), err)
		}
		cfg.Targets = append(cfg.Targets, loadtest.TargetFromRequest(prepared))
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StartLoadTest spawns a worker and returns the job id immediately
func (e *Engine) StartLoadTest(ctx context.Context, req *LoadTestRequest) (string, error) {
	cfg, err := e.BuildLoadTestConfig(req)
	if err != nil {
		return "", err
	}
	return e.loadtests.Start(ctx, cfg)
}

// StartLoadTestConfig spawns a worker for an already resolved config
func (e *Engine) StartLoadTestConfig(ctx context.Context, cfg *loadtest.Config) (string, error) {
	return e.loadtests.Start(ctx, cfg)
}

// LoadTestStatus returns the state derived from the job's artifacts
func (e *Engine) LoadTestStatus(id string) (*loadtest.Snapshot, error) {
	return e.loadtests.Status(id)
}

// StopLoadTest asks the worker to finish and waits for its result
func (e *Engine) StopLoadTest(ctx context.Context, id string) (*loadtest.Snapshot, error) {
	return e.loadtests.Stop(ctx, id)
}

// CollectLoadTest grades a finished job, stores the report and removes the job
func (e *Engine) CollectLoadTest(ctx context.Context, id string) (*report.Report, error) {
	return e.loadtests.Collect(ctx, id)
}

// PreviewLoadTestConfig renders the worker config for req without starting it
func (e *Engine) PreviewLoadTestConfig(req *LoadTestRequest) (string, error) {
	cfg, err := e.BuildLoadTestConfig(req)
	if err != nil {
		return "", err
	}
	return e.loadtests.Preview(cfg)
}

// Report returns a stored report
func (e *Engine) Report(ctx context.Context, id string) (*report.Report, error) {
	if e.reports == nil {
		return nil, report.ErrNotFound
	}
	return e.reports.Get(ctx, id)
}

// Reports lists stored reports, newest first
func (e *Engine) Reports(ctx context.Context, limit int) ([]*report.Report, error) {
	if e.reports == nil {
		return nil, nil
	}
	return e.reports.List(ctx, limit)
}
