package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/apitest/internal/assertion"
	"github.com/studiowebux/apitest/internal/chain"
	"github.com/studiowebux/apitest/internal/datasource"
	"github.com/studiowebux/apitest/internal/executor"
	"github.com/studiowebux/apitest/internal/metrics"
	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/types"
)

// Baselines supplies the reference result for deep-diff assertions
type Baselines interface {
	Baseline(key string) *types.ExecutionResult
	Record(key string, result *types.ExecutionResult)
}

// MemoryBaselines keeps the last passing result per definition
type MemoryBaselines struct {
	mu      sync.RWMutex
	results map[string]types.ExecutionResult
}

// NewMemoryBaselines creates an empty baseline set
func NewMemoryBaselines() *MemoryBaselines {
	return &MemoryBaselines{results: make(map[string]types.ExecutionResult)}
}

// Baseline returns a copy of the recorded result, or nil
func (b *MemoryBaselines) Baseline(key string) *types.ExecutionResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.results[key]
	if !ok {
		return nil
	}
	return &r
}

// Record stores result as the baseline for key
func (b *MemoryBaselines) Record(key string, result *types.ExecutionResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[key] = *result
}

// Pipeline runs every step of a call attempt in order:
// pre-Redis, resolve, encrypt, pre-SQL, HTTP, extract, assertions,
// post-SQL, DB assertions.
type Pipeline struct {
	Executor  *executor.Executor
	Data      *datasource.Registry
	Baselines Baselines
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewPipeline creates a pipeline with in-memory baselines
func NewPipeline(exec *executor.Executor, data *datasource.Registry, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if data == nil {
		data = datasource.NewRegistry(nil, logger)
	}
	return &Pipeline{
		Executor:  exec,
		Data:      data,
		Baselines: NewMemoryBaselines(),
		Metrics:   m,
		Logger:    logger,
	}
}

// Run executes a definition snapshot with all its repeat attempts. Each
// attempt gets freshly evaluated dynamic variables; extracted values are
// visible to later attempts and calls through the scope's runtime tier.
func (p *Pipeline) Run(ctx context.Context, def *types.CallDefinition, scope *parser.VariableScope) *types.Execution {
	snapshot := def.Snapshot()
	execution := &types.Execution{Definition: snapshot}

	for attempt := 1; attempt <= snapshot.Attempts(); attempt++ {
		if ctx.Err() != nil {
			break
		}
		result := p.attempt(ctx, snapshot, scope)
		result.Attempt = attempt
		execution.Attempts = append(execution.Attempts, *result)
	}

	execution.Aggregate()
	return execution
}

func (p *Pipeline) attempt(ctx context.Context, def *types.CallDefinition, scope *parser.VariableScope) *types.ExecutionResult {
	start := time.Now()
	vars := scope.ForCall()

	preRedis := p.Data.ApplyPreRedis(ctx, def.PreRedis, vars, scope)

	req, err := p.Executor.Prepare(def, vars)
	if err != nil {
		result := executor.FailedResult(def, err)
		result.PreRedis = preRedis
		p.observe(result, time.Since(start))
		return result
	}

	preSQL := p.Data.ExecStatements(ctx, def.PreSQL, vars)

	result := p.Executor.Send(ctx, req)
	result.PreRedis = preRedis
	result.PreSQL = preSQL

	if result.Error == "" {
		result.Extracted = chain.Extract(def.Extract, result)
		chain.Apply(scope, result.Extracted)
	}

	key := baselineKey(def)
	baseline := p.Baselines.Baseline(key)
	result.Assertions, result.Diff = assertion.EvaluateWithDiff(def.Assertions, result, baseline)

	result.PostSQL = p.Data.ExecStatements(ctx, def.PostSQL, vars)

	if result.Error == "" {
		result.DBAssertions = p.Data.EvaluateDBAssertions(ctx, def.DBAssertions, vars)
	}

	result.Passed = result.Error == "" && assertion.Passed(result.Assertions) && dbPassed(result.DBAssertions)
	// The first answered attempt seeds the baseline; later ones replace it only when passing
	if result.Passed || (baseline == nil && result.Error == "") {
		p.Baselines.Record(key, result)
	}

	p.observe(result, time.Since(start))
	return result
}

func (p *Pipeline) observe(result *types.ExecutionResult, elapsed time.Duration) {
	p.Metrics.ObserveCall(result.Method, result.Passed, result.Error != "", elapsed)
	for _, o := range result.Assertions {
		if !o.Passed {
			p.Metrics.ObserveAssertionFailure(o.Rule.Kind)
		}
	}

	if result.Error != "" {
		p.Logger.Info("call failed",
			zap.String("name", result.Name),
			zap.String("kind", result.ErrorKind),
			zap.String("error", result.Error))
		return
	}
	p.Logger.Debug("call finished",
		zap.String("name", result.Name),
		zap.Int("status", result.Status),
		zap.Bool("passed", result.Passed),
		zap.Int64("duration_ms", result.Duration))
}

func dbPassed(outcomes []types.DBAssertionOutcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

func baselineKey(def *types.CallDefinition) string {
	if def.ID != "" {
		return def.ID
	}
	return def.DisplayName()
}
