// Package batch runs ordered groups of call definitions in the background.
//
// Each job has exactly one writer goroutine that advances its progress;
// Status polls copy a snapshot under a read lock and never block the writer
// for longer than that copy.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studiowebux/apitest/internal/metrics"
	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/types"
)

// Job states
const (
	StatePending      = "pending"
	StateRunning      = "running"
	StateCompleted    = "completed"
	StateStoppedEarly = "stopped-early"
	StateFailed       = "failed"
)

// MaxRetainedJobs bounds how many finished jobs stay queryable
const MaxRetainedJobs = 100

var (
	// ErrJobNotFound is returned for an unknown job id
	ErrJobNotFound = errors.New("batch job not found")

	// ErrEmptyBatch is returned when a batch has no definitions
	ErrEmptyBatch = errors.New("batch has no definitions")

	// ErrShuttingDown is returned by Start once Shutdown was called
	ErrShuttingDown = errors.New("batch runner is shutting down")
)

// CallRunner executes one definition, including its repeat attempts
type CallRunner interface {
	Run(ctx context.Context, def *types.CallDefinition, scope *parser.VariableScope) *types.Execution
}

// ScopeFactory creates the variable scope of a new job. The runtime tier of
// the returned scope belongs to that job alone.
type ScopeFactory func(overrides map[string]string) (*parser.VariableScope, error)

// Options control a batch run
type Options struct {
	Name          string            `json:"name,omitempty"`
	StopOnFailure bool              `json:"stopOnFailure,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
}

// Progress is a point-in-time view of a job
type Progress struct {
	JobID      string     `json:"jobId"`
	Name       string     `json:"name,omitempty"`
	State      string     `json:"state"`
	Completed  int        `json:"completed"`
	Total      int        `json:"total"`
	Passed     int        `json:"passed"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Terminal reports whether the job has finished
func (p Progress) Terminal() bool {
	switch p.State {
	case StateCompleted, StateStoppedEarly, StateFailed:
		return true
	}
	return false
}

// Result is the outcome of a finished (or running) job
type Result struct {
	Progress   Progress          `json:"progress"`
	Options    Options           `json:"options"`
	Executions []types.Execution `json:"executions"`
}

type job struct {
	id   string
	opts Options
	defs []*types.CallDefinition

	mu         sync.RWMutex
	progress   Progress
	executions []types.Execution

	done chan struct{}
}

func (j *job) snapshot() Progress {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// Runner owns background batch jobs
type Runner struct {
	calls   CallRunner
	scopes  ScopeFactory
	logger  *zap.Logger
	metrics *metrics.Metrics

	root     context.Context
	shutdown context.CancelFunc
	running  sync.WaitGroup

	mu       sync.RWMutex
	jobs     map[string]*job
	finished []string
	onFinish []func(Result)
}

// NewRunner creates a batch runner
func NewRunner(calls CallRunner, scopes ScopeFactory, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scopes == nil {
		scopes = func(overrides map[string]string) (*parser.VariableScope, error) {
			return parser.NewScope(overrides, nil, nil), nil
		}
	}
	root, shutdown := context.WithCancel(context.Background())
	return &Runner{
		calls:    calls,
		scopes:   scopes,
		logger:   logger,
		metrics:  m,
		root:     root,
		shutdown: shutdown,
		jobs:     make(map[string]*job),
	}
}

// Shutdown cancels every running job and waits until each has reached a
// terminal state and its OnFinish callbacks returned, or until ctx is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shutdown()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnFinish registers a callback invoked once per job after it reaches a terminal state
func (r *Runner) OnFinish(fn func(Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinish = append(r.onFinish, fn)
}

// Start queues a batch and returns its job id immediately. Definitions are
// snapshotted and ordered by weight; equal weights keep their given order.
func (r *Runner) Start(ctx context.Context, defs []types.CallDefinition, opts Options) (string, error) {
	if len(defs) == 0 {
		return "", ErrEmptyBatch
	}

	ordered := make([]*types.CallDefinition, len(defs))
	for i := range defs {
		ordered[i] = defs[i].Snapshot()
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Weight < ordered[b].Weight
	})

	j := &job{
		id:   uuid.NewString(),
		opts: opts,
		defs: ordered,
		progress: Progress{
			Name:      opts.Name,
			State:     StatePending,
			Total:     len(ordered),
			StartedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	j.progress.JobID = j.id

	r.mu.Lock()
	if r.root.Err() != nil {
		r.mu.Unlock()
		return "", ErrShuttingDown
	}
	r.jobs[j.id] = j
	r.running.Add(1)
	r.mu.Unlock()

	// The job outlives the caller's request but keeps its values; only
	// Shutdown cancels it
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(r.root, cancel)

	go func() {
		defer r.running.Done()
		defer cancel()
		defer stop()
		r.run(jobCtx, j)
	}()

	r.logger.Info("batch started",
		zap.String("job_id", j.id),
		zap.String("name", opts.Name),
		zap.Int("total", len(ordered)),
		zap.Bool("stop_on_failure", opts.StopOnFailure))

	return j.id, nil
}

func (r *Runner) run(ctx context.Context, j *job) {
	defer close(j.done)
	defer r.finish(j)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("batch aborted", zap.String("job_id", j.id), zap.Any("panic", rec))
			r.setTerminal(j, StateFailed, fmt.Sprintf("unrecoverable error: %v", rec))
		}
	}()

	scope, err := r.scopes(j.opts.Variables)
	if err != nil {
		r.setTerminal(j, StateFailed, fmt.Sprintf("failed to create variable scope: %v", err))
		return
	}

	j.mu.Lock()
	j.progress.State = StateRunning
	j.mu.Unlock()
	r.metrics.BatchStarted()

	for i, def := range j.defs {
		if ctx.Err() != nil {
			r.setTerminal(j, StateFailed, fmt.Sprintf("interrupted by shutdown after %d of %d calls", i, len(j.defs)))
			return
		}

		execution := r.calls.Run(ctx, def, scope)
		if execution == nil {
			r.setTerminal(j, StateFailed, fmt.Sprintf("call %d produced no execution", i+1))
			return
		}

		j.mu.Lock()
		j.executions = append(j.executions, *execution)
		j.progress.Completed = i + 1
		if execution.Passed {
			j.progress.Passed++
		} else {
			j.progress.Failed++
		}
		j.mu.Unlock()

		if !execution.Passed && j.opts.StopOnFailure {
			r.setTerminal(j, StateStoppedEarly, fmt.Sprintf("stopped after failing call %d: %s", i+1, def.DisplayName()))
			return
		}
	}

	r.setTerminal(j, StateCompleted, "")
}

func (r *Runner) setTerminal(j *job, state, message string) {
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress.Terminal() {
		return
	}
	j.progress.State = state
	j.progress.Error = message
	j.progress.FinishedAt = &now
}

func (r *Runner) finish(j *job) {
	progress := j.snapshot()
	if progress.State == StatePending {
		// Scope creation failed before the job started running
		r.metrics.BatchStarted()
	}
	r.metrics.BatchFinished(progress.State)

	r.logger.Info("batch finished",
		zap.String("job_id", j.id),
		zap.String("state", progress.State),
		zap.Int("completed", progress.Completed),
		zap.Int("total", progress.Total),
		zap.Int("failed", progress.Failed))

	result := r.result(j)

	r.mu.Lock()
	callbacks := append([]func(Result){}, r.onFinish...)
	r.finished = append(r.finished, j.id)
	for len(r.finished) > MaxRetainedJobs {
		delete(r.jobs, r.finished[0])
		r.finished = r.finished[1:]
	}
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(result)
	}
}

func (r *Runner) lookup(id string) (*job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j, nil
}

// Status returns a snapshot of the job's progress
func (r *Runner) Status(id string) (Progress, error) {
	j, err := r.lookup(id)
	if err != nil {
		return Progress{}, err
	}
	return j.snapshot(), nil
}

// Result returns the executions recorded so far
func (r *Runner) Result(id string) (*Result, error) {
	j, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	res := r.result(j)
	return &res, nil
}

func (r *Runner) result(j *job) Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Result{
		Progress:   j.progress,
		Options:    j.opts,
		Executions: append([]types.Execution(nil), j.executions...),
	}
}

// Wait blocks until the job is terminal or ctx is done
func (r *Runner) Wait(ctx context.Context, id string) (Progress, error) {
	j, err := r.lookup(id)
	if err != nil {
		return Progress{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// List returns snapshots of all retained jobs, newest first
func (r *Runner) List() []Progress {
	r.mu.RLock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	out := make([]Progress, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].StartedAt.After(out[b].StartedAt)
	})
	return out
}
