package loadtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/apitest/internal/metrics"
	"github.com/studiowebux/apitest/internal/report"
)

// Job states derived from the artifacts
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateStopped   = "stopped"
	StateError     = "error"
)

const (
	DefaultGraceWindow = 10 * time.Second
	DefaultStopTimeout = 15 * time.Second

	pollInterval = 100 * time.Millisecond
)

var (
	// ErrJobNotFound is returned for an unknown or already collected job
	ErrJobNotFound = errors.New("load test not found")

	// ErrWorkerUnresponsive means the worker is alive but its artifacts are missing or stale
	ErrWorkerUnresponsive = errors.New("load test worker unresponsive")

	// ErrWorkerCrashed means the worker exited without writing a result
	ErrWorkerCrashed = errors.New("load test worker crashed")
)

// Error kinds recorded in the job metadata
const (
	kindUnresponsive = "WorkerUnresponsive"
	kindCrashed      = "WorkerCrashed"
	kindSpawn        = "SpawnFailure"
)

// CommandFunc builds the worker process for a job
type CommandFunc func(paths Paths) *exec.Cmd

// WorkerCommand runs "<executable> loadtest worker" with the artifact paths
func WorkerCommand(executable string) CommandFunc {
	return func(p Paths) *exec.Cmd {
		return exec.Command(executable, "loadtest", "worker",
			"--config", p.Config,
			"--status", p.Status,
			"--result", p.Result)
	}
}

// Snapshot is the controller view of a job
type Snapshot struct {
	JobID         string     `json:"jobId" yaml:"jobId"`
	Name          string     `json:"name" yaml:"name"`
	State         string     `json:"state" yaml:"state"`
	Phase         string     `json:"phase,omitempty" yaml:"phase,omitempty"`
	ActiveUsers   int        `json:"activeUsers" yaml:"activeUsers"`
	TotalRequests int        `json:"totalRequests" yaml:"totalRequests"`
	Failures      int        `json:"failures" yaml:"failures"`
	Elapsed       float64    `json:"elapsed" yaml:"elapsed"`
	PID           int        `json:"pid" yaml:"pid"`
	StartedAt     time.Time  `json:"startedAt" yaml:"startedAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
	Error         string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Terminal reports whether the job will not change state anymore
func (s Snapshot) Terminal() bool {
	switch s.State {
	case StateCompleted, StateStopped, StateError:
		return true
	}
	return false
}

// Options configure an Orchestrator
type Options struct {
	Dir         string
	Command     CommandFunc
	GraceWindow time.Duration
	StopTimeout time.Duration
	Store       report.Store
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Orchestrator launches worker processes and derives job state from disk
type Orchestrator struct {
	dir         string
	command     CommandFunc
	grace       time.Duration
	stopTimeout time.Duration
	store       report.Store
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu    sync.Mutex
	procs map[string]*process
}

// process is a worker started by this controller
type process struct {
	cmd    *exec.Cmd
	exited chan struct{}
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// NewOrchestrator creates an orchestrator rooted at opts.Dir
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Dir == "" {
		return nil, errors.New("load test directory is required")
	}
	if opts.Command == nil {
		return nil, errors.New("worker command is required")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create load test directory: %w", err)
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Orchestrator{
		dir:         opts.Dir,
		command:     opts.Command,
		grace:       opts.GraceWindow,
		stopTimeout: opts.StopTimeout,
		store:       opts.Store,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		procs:       make(map[string]*process),
	}, nil
}

func (o *Orchestrator) jobDir(id string) string {
	return filepath.Join(o.dir, id)
}

// Start writes the config artifact, spawns the worker and returns immediately
func (o *Orchestrator) Start(ctx context.Context, cfg *Config) (string, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid load test config: %w", err)
	}

	id := uuid.NewString()
	dir := o.jobDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}

	paths := JobPaths(dir)
	if err := writeConfig(paths.Config, cfg); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	meta := jobMeta{ID: id, Name: cfg.Name, StartedAt: time.Now()}

	logFile, err := os.Create(filepath.Join(dir, LogFile))
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to create worker log: %w", err)
	}
	defer logFile.Close()

	cmd := o.command(paths)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		meta.Error = fmt.Sprintf("failed to spawn worker: %v", err)
		meta.ErrorKind = kindSpawn
		writeJSON(filepath.Join(dir, JobFile), meta)
		o.metrics.LoadTestEvent("error")
		return "", fmt.Errorf("failed to spawn worker: %w", err)
	}

	meta.PID = cmd.Process.Pid
	p := &process{cmd: cmd, exited: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(p.exited)
	}()

	o.mu.Lock()
	o.procs[id] = p
	o.mu.Unlock()

	if err := writeJSON(filepath.Join(dir, JobFile), meta); err != nil {
		cmd.Process.Kill()
		return "", err
	}

	o.metrics.LoadTestEvent("started")
	o.logger.Info("load test started",
		zap.String("job_id", id),
		zap.String("name", cfg.Name),
		zap.Int("pid", meta.PID),
		zap.Int("users", cfg.Users),
		zap.String("duration", cfg.Duration))

	return id, nil
}

func (o *Orchestrator) readMeta(id string) (*jobMeta, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	var meta jobMeta
	ok, err := readJSON(filepath.Join(o.jobDir(id), JobFile), &meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return &meta, nil
}

func (o *Orchestrator) writeMeta(meta *jobMeta) error {
	return writeJSON(filepath.Join(o.jobDir(meta.ID), JobFile), meta)
}

// alive reports whether the worker process still runs. Workers started by
// another controller are probed with signal 0.
func (o *Orchestrator) alive(id string, pid int) bool {
	o.mu.Lock()
	p, ok := o.procs[id]
	o.mu.Unlock()
	if ok {
		return p.alive()
	}
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Status derives the job state from its artifacts. It never blocks on the worker.
func (o *Orchestrator) Status(id string) (*Snapshot, error) {
	meta, err := o.readMeta(id)
	if err != nil {
		return nil, err
	}
	paths := JobPaths(o.jobDir(id))

	snap := &Snapshot{
		JobID:     id,
		Name:      meta.Name,
		PID:       meta.PID,
		StartedAt: meta.StartedAt,
	}

	var result Result
	hasResult, err := readJSON(paths.Result, &result)
	if err != nil {
		return nil, err
	}
	if hasResult {
		applyResult(snap, &result)
		return snap, nil
	}

	if meta.Error != "" {
		snap.State = StateError
		snap.Error = meta.Error
		return snap, nil
	}

	var status Status
	hasStatus, err := readJSON(paths.Status, &status)
	if err != nil {
		return nil, err
	}
	if hasStatus {
		snap.Phase = status.Phase
		snap.ActiveUsers = status.ActiveUsers
		snap.TotalRequests = status.TotalRequests
		snap.Failures = status.Failures
		snap.Elapsed = status.Elapsed
		updated := status.UpdatedAt
		snap.UpdatedAt = &updated
	}

	alive := o.alive(id, meta.PID)
	if !alive {
		// The worker may have written its result right before exiting
		if ok, _ := readJSON(paths.Result, &result); ok {
			applyResult(snap, &result)
			return snap, nil
		}
	}

	switch {
	case !alive:
		snap.State = StateError
		snap.Error = fmt.Sprintf("%v: process exited without writing a result", ErrWorkerCrashed)
	case !hasStatus && time.Since(meta.StartedAt) <= o.grace:
		snap.State = StatePending
	case !hasStatus:
		snap.State = StateError
		snap.Error = fmt.Sprintf("%v: no status after %s", ErrWorkerUnresponsive, o.grace)
	case time.Since(status.UpdatedAt) > o.grace:
		snap.State = StateError
		snap.Error = fmt.Sprintf("%v: status not updated since %s", ErrWorkerUnresponsive, status.UpdatedAt.Format(time.RFC3339))
	default:
		snap.State = StateRunning
	}
	return snap, nil
}

func applyResult(snap *Snapshot, result *Result) {
	agg := Aggregated(result.Endpoints)
	snap.State = StateCompleted
	if result.Phase == PhaseStopped {
		snap.State = StateStopped
	}
	snap.Phase = result.Phase
	snap.TotalRequests = agg.Requests
	snap.Failures = agg.Failures
	snap.Elapsed = result.Elapsed
	snap.ActiveUsers = 0
	finished := result.FinishedAt
	snap.UpdatedAt = &finished
}

// Stop sends SIGTERM and waits for the worker's result. A worker that does
// not finish within the stop timeout is killed and the job moves to error.
func (o *Orchestrator) Stop(ctx context.Context, id string) (*Snapshot, error) {
	meta, err := o.readMeta(id)
	if err != nil {
		return nil, err
	}

	snap, err := o.Status(id)
	if err != nil {
		return nil, err
	}
	if snap.State == StateCompleted || snap.State == StateStopped || !o.alive(id, meta.PID) {
		return snap, nil
	}

	proc, err := o.processOf(id, meta.PID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	meta.StopRequestedAt = &now
	if err := o.writeMeta(meta); err != nil {
		return nil, err
	}

	o.logger.Info("stopping load test", zap.String("job_id", id), zap.Int("pid", meta.PID))
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		o.logger.Warn("failed to signal worker", zap.String("job_id", id), zap.Error(err))
	}

	resultPath := JobPaths(o.jobDir(id)).Result
	deadline := time.NewTimer(o.stopTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(resultPath); err == nil {
			o.metrics.LoadTestEvent("stopped")
			return o.Status(id)
		}
		if !o.alive(id, meta.PID) {
			return o.Status(id)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			proc.Kill()
			meta.Error = fmt.Sprintf("%v: worker did not stop within %s and was killed", ErrWorkerUnresponsive, o.stopTimeout)
			meta.ErrorKind = kindUnresponsive
			if err := o.writeMeta(meta); err != nil {
				return nil, err
			}
			o.metrics.LoadTestEvent("error")
			o.logger.Warn("load test worker killed", zap.String("job_id", id), zap.Int("pid", meta.PID))
			snap, _ := o.Status(id)
			return snap, fmt.Errorf("%w: killed after %s", ErrWorkerUnresponsive, o.stopTimeout)
		}
	}
}

func (o *Orchestrator) processOf(id string, pid int) (*os.Process, error) {
	o.mu.Lock()
	p, ok := o.procs[id]
	o.mu.Unlock()
	if ok {
		return p.cmd.Process, nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to find worker process: %w", err)
	}
	return proc, nil
}

// Collect turns the result artifact into a stored report and removes the job.
// Before the worker has written its result it fails with ErrWorkerUnresponsive
// (worker alive) or ErrWorkerCrashed (worker gone).
func (o *Orchestrator) Collect(ctx context.Context, id string) (*report.Report, error) {
	meta, err := o.readMeta(id)
	if err != nil {
		return nil, err
	}
	dir := o.jobDir(id)
	paths := JobPaths(dir)

	var result Result
	ok, err := readJSON(paths.Result, &result)
	if err != nil {
		return nil, err
	}
	if !ok {
		switch {
		case meta.ErrorKind == kindUnresponsive:
			return nil, fmt.Errorf("%w: %s", ErrWorkerUnresponsive, meta.Error)
		case meta.ErrorKind != "":
			return nil, fmt.Errorf("%w: %s", ErrWorkerCrashed, meta.Error)
		case o.alive(id, meta.PID):
			return nil, fmt.Errorf("%w: result not written yet", ErrWorkerUnresponsive)
		default:
			return nil, fmt.Errorf("%w: no result for job %s", ErrWorkerCrashed, id)
		}
	}

	cfg, err := LoadConfig(paths.Config)
	if err != nil {
		return nil, err
	}

	r := BuildReport(id, cfg, &result)
	if o.store != nil {
		if err := o.store.Save(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to store report: %w", err)
		}
	}

	o.mu.Lock()
	delete(o.procs, id)
	o.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		o.logger.Warn("failed to remove job directory", zap.String("job_id", id), zap.Error(err))
	}

	o.metrics.LoadTestEvent("collected")
	o.logger.Info("load test collected",
		zap.String("job_id", id),
		zap.String("report_id", r.ID),
		zap.String("grade", r.LoadTest.Grade))
	return r, nil
}

// BuildReport summarizes a worker result. A run without a single request is graded F.
func BuildReport(jobID string, cfg *Config, result *Result) *report.Report {
	agg := Aggregated(result.Endpoints)
	failureRate := FailureRate(agg)

	grade := Grade(failureRate, agg.P90)
	if agg.Requests == 0 {
		grade = GradeF
	}

	r := report.New(report.KindLoadTest, cfg.Name)
	r.JobID = jobID
	r.Status = StateCompleted
	if result.Phase == PhaseStopped {
		r.Status = StateStopped
	}
	r.Total = agg.Requests
	r.Passed = agg.Requests - agg.Failures
	r.Failed = agg.Failures
	r.DurationMs = int64(result.Elapsed * 1000)
	r.LoadTest = &report.LoadTestSummary{
		Users:       cfg.Users,
		SpawnRate:   cfg.SpawnRate,
		Duration:    cfg.Duration,
		Grade:       grade,
		FailureRate: round2(failureRate),
		RPS:         agg.RPS,
		P90:         agg.P90,
		Endpoints:   result.Endpoints,
	}
	return r
}

// Preview renders the worker config that Start would write
func (o *Orchestrator) Preview(cfg *Config) (string, error) {
	return Preview(cfg)
}

// Preview renders cfg as the worker would read it
func Preview(cfg *Config) (string, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid load test config: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal load test config: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# load test: %s\n", cfg.Name)
	fmt.Fprintf(&b, "# %d virtual users, spawned at %d/s, running %s\n", cfg.Users, cfg.SpawnRate, cfg.Duration)
	fmt.Fprintf(&b, "# each user loops over %d target(s) with a %s-%s pause per pass\n",
		len(cfg.Targets), ThinkTimeMin, ThinkTimeMax)
	b.Write(data)
	return b.String(), nil
}

// Recover lists the jobs found on disk, oldest first. Used after a controller
// restart to pick up orphaned workers.
func (o *Orchestrator) Recover() ([]string, error) {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read load test directory: %w", err)
	}

	type found struct {
		id      string
		started time.Time
	}
	var jobs []found
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := o.readMeta(e.Name())
		if err != nil {
			continue
		}
		jobs = append(jobs, found{id: meta.ID, started: meta.StartedAt})
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].started.Before(jobs[b].started) })

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.id)
		if snap, err := o.Status(j.id); err == nil {
			o.logger.Info("recovered load test",
				zap.String("job_id", j.id),
				zap.String("state", snap.State))
		}
	}
	return ids, nil
}
