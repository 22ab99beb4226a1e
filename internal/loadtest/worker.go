package loadtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/apitest/internal/executor"
)

// StatusInterval is the cadence of status artifact writes
const StatusInterval = time.Second

// Worker generates load for one job. It owns its virtual users and
// communicates with the controller only through the artifact files.
type Worker struct {
	cfg      *Config
	paths    Paths
	logger   *zap.Logger
	recorder *Recorder
	clients  []*http.Client

	mu      sync.Mutex
	phase   string
	started time.Time
}

// NewWorker prepares one HTTP client per target
func NewWorker(cfg *Config, paths Paths, logger *zap.Logger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid load test config: %w", err)
	}

	clients := make([]*http.Client, len(cfg.Targets))
	for i := range cfg.Targets {
		transport, err := executor.NewTransport(cfg.Targets[i].TLS, cfg.Users)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", cfg.Targets[i].Name, err)
		}
		clients[i] = &http.Client{
			Timeout:   cfg.Targets[i].Timeout(),
			Transport: transport,
		}
	}

	return &Worker{
		cfg:      cfg,
		paths:    paths,
		logger:   logger,
		recorder: NewRecorder(),
		clients:  clients,
		phase:    PhaseStarting,
	}, nil
}

// RunWorkerProcess is the entry point of the worker process: it reads the
// config artifact and runs until the duration elapses or SIGTERM/SIGINT arrives
func RunWorkerProcess(paths Paths, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	cfg, err := LoadConfig(paths.Config)
	if err != nil {
		return err
	}
	w, err := NewWorker(cfg, paths, logger)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// Run executes the load test. Cancelling ctx stops the run early; the final
// status and the result are flushed in both cases.
func (w *Worker) Run(ctx context.Context) error {
	w.started = time.Now()
	if err := w.writeStatus(); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.RunDuration())
	defer cancel()

	statusDone := make(chan struct{})
	go w.statusLoop(runCtx, statusDone)

	w.logger.Info("load test started",
		zap.String("name", w.cfg.Name),
		zap.Int("users", w.cfg.Users),
		zap.Int("spawn_rate", w.cfg.SpawnRate),
		zap.Duration("duration", w.cfg.RunDuration()),
		zap.Int("targets", len(w.cfg.Targets)))

	g, gctx := errgroup.WithContext(runCtx)
	w.setPhase(PhaseRamping)
	interval := time.Second / time.Duration(w.cfg.SpawnRate)

spawn:
	for i := 0; i < w.cfg.Users; i++ {
		w.recorder.UserStarted()
		g.Go(func() error {
			defer w.recorder.UserStopped()
			w.virtualUser(gctx)
			return nil
		})

		if i == w.cfg.Users-1 {
			break
		}
		select {
		case <-gctx.Done():
			break spawn
		case <-time.After(interval):
		}
	}
	w.setPhase(PhaseRunning)

	g.Wait()
	<-statusDone

	phase := PhaseCompleted
	if ctx.Err() != nil {
		phase = PhaseStopped
	}
	return w.finish(phase)
}

func (w *Worker) virtualUser(ctx context.Context) {
	for {
		for i := range w.cfg.Targets {
			if ctx.Err() != nil {
				return
			}
			w.hit(ctx, i)
		}

		think := ThinkTimeMin + time.Duration(rand.Int63n(int64(ThinkTimeMax-ThinkTimeMin)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(think):
		}
	}
}

// hit sends one request; status codes >= 400 and transport errors are failures
func (w *Worker) hit(ctx context.Context, idx int) {
	target := &w.cfg.Targets[idx]

	var body io.Reader
	if target.Body != "" {
		body = bytes.NewBufferString(target.Body)
	}
	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, body)
	if err != nil {
		w.recorder.Add(target.Name, target.Method, 0, true)
		return
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := w.clients[idx].Do(req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		// Requests interrupted by the end of the run are not counted
		if ctx.Err() != nil {
			return
		}
		w.recorder.Add(target.Name, target.Method, elapsed, true)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	w.recorder.Add(target.Name, target.Method, elapsed, resp.StatusCode >= 400)
}

func (w *Worker) statusLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.writeStatus(); err != nil {
				w.logger.Warn("failed to write status", zap.Error(err))
			}
		}
	}
}

func (w *Worker) setPhase(phase string) {
	w.mu.Lock()
	w.phase = phase
	w.mu.Unlock()
	if err := w.writeStatus(); err != nil {
		w.logger.Warn("failed to write status", zap.Error(err))
	}
}

// Snapshot returns the current status
func (w *Worker) Snapshot() Status {
	w.mu.Lock()
	phase := w.phase
	w.mu.Unlock()

	requests, failures := w.recorder.Totals()
	return Status{
		Phase:         phase,
		ActiveUsers:   w.recorder.ActiveUsers(),
		TotalRequests: requests,
		Failures:      failures,
		Elapsed:       round2(time.Since(w.started).Seconds()),
		PID:           os.Getpid(),
		UpdatedAt:     time.Now(),
	}
}

func (w *Worker) writeStatus() error {
	return writeJSON(w.paths.Status, w.Snapshot())
}

func (w *Worker) finish(phase string) error {
	finished := time.Now()
	elapsed := finished.Sub(w.started)

	result := Result{
		Phase:      phase,
		StartedAt:  w.started,
		FinishedAt: finished,
		Elapsed:    round2(elapsed.Seconds()),
		Endpoints:  w.recorder.Rows(elapsed),
	}
	if err := writeJSON(w.paths.Result, result); err != nil {
		return err
	}

	w.mu.Lock()
	w.phase = phase
	w.mu.Unlock()
	if err := w.writeStatus(); err != nil {
		return err
	}

	agg := Aggregated(result.Endpoints)
	w.logger.Info("load test finished",
		zap.String("phase", phase),
		zap.Int("requests", agg.Requests),
		zap.Int("failures", agg.Failures),
		zap.Float64("p90_ms", agg.P90),
		zap.Float64("rps", agg.RPS))
	return nil
}
