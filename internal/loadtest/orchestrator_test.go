package loadtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/apitest/internal/report"
)

const helperEnv = "APITEST_LOADTEST_HELPER"

// TestMain doubles as the worker process when re-executed by helperCommand
func TestMain(m *testing.M) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		os.Exit(m.Run())
	}

	paths := Paths{
		Config: os.Getenv("HELPER_CONFIG"),
		Status: os.Getenv("HELPER_STATUS"),
		Result: os.Getenv("HELPER_RESULT"),
	}

	switch mode {
	case "worker":
	case "late-worker":
		time.Sleep(500 * time.Millisecond)
	case "crash":
		os.Exit(3)
	case "silent":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		os.Exit(0)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	if err := RunWorkerProcess(paths, zap.NewNop()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func helperCommand(mode string) CommandFunc {
	return func(p Paths) *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=^$")
		cmd.Env = append(os.Environ(),
			helperEnv+"="+mode,
			"HELPER_CONFIG="+p.Config,
			"HELPER_STATUS="+p.Status,
			"HELPER_RESULT="+p.Result,
		)
		return cmd
	}
}

type memoryStore struct {
	saved []*report.Report
}

func (s *memoryStore) Save(ctx context.Context, r *report.Report) error {
	s.saved = append(s.saved, r)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*report.Report, error) {
	for _, r := range s.saved {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, report.ErrNotFound
}

func (s *memoryStore) List(ctx context.Context, limit int) ([]*report.Report, error) {
	return s.saved, nil
}

func (s *memoryStore) Close() error { return nil }

func newTestOrchestrator(t *testing.T, mode string, opts Options) *Orchestrator {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.Command = helperCommand(mode)
	o, err := NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	t.Cleanup(func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for _, p := range o.procs {
			if p.alive() {
				p.cmd.Process.Kill()
			}
		}
	})
	return o
}

func newTarget(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func waitState(t *testing.T, o *Orchestrator, id string, timeout time.Duration, states ...string) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		snap, err := o.Status(id)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		for _, s := range states {
			if snap.State == s {
				return snap
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected state %v, still %s (%s)", states, snap.State, snap.Error)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestOrchestrator_Lifecycle(t *testing.T) {
	srv, hits := newTarget(t)
	store := &memoryStore{}
	o := newTestOrchestrator(t, "late-worker", Options{Store: store})
	ctx := context.Background()

	id, err := o.Start(ctx, &Config{
		Name:      "checkout",
		Users:     3,
		SpawnRate: 20,
		Duration:  "30s",
		Targets: []Target{
			{Name: "list", Method: "GET", URL: srv.URL + "/items"},
			{Name: "broken", Method: "GET", URL: srv.URL + "/fail"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	snap, err := o.Status(id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if snap.State != StatePending {
		t.Errorf("Expected pending before the first status write, got: %s", snap.State)
	}

	if _, err := o.Collect(ctx, id); !errors.Is(err, ErrWorkerUnresponsive) {
		t.Errorf("Expected ErrWorkerUnresponsive before exit, got: %v", err)
	}

	waitState(t, o, id, 5*time.Second, StateRunning)
	time.Sleep(500 * time.Millisecond)

	snap, err = o.Stop(ctx, id)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if snap.State != StateStopped {
		t.Errorf("Expected stopped, got: %s (%s)", snap.State, snap.Error)
	}
	if snap.TotalRequests == 0 || atomic.LoadInt64(hits) == 0 {
		t.Errorf("Expected requests to reach the target")
	}

	r, err := o.Collect(ctx, id)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if r.Kind != report.KindLoadTest || r.Status != StateStopped || r.JobID != id {
		t.Errorf("Unexpected report: %+v", r)
	}
	if r.LoadTest.Grade != GradeF {
		t.Errorf("Expected grade F with half the calls failing, got: %s", r.LoadTest.Grade)
	}
	if len(r.LoadTest.Endpoints) != 3 || r.LoadTest.Endpoints[2].Name != AggregatedName {
		t.Errorf("Expected 2 endpoint rows plus Aggregated, got: %+v", r.LoadTest.Endpoints)
	}
	if len(store.saved) != 1 {
		t.Errorf("Expected report to be stored")
	}

	if _, err := os.Stat(filepath.Join(o.dir, id)); !os.IsNotExist(err) {
		t.Errorf("Expected job directory to be removed")
	}
	if _, err := o.Status(id); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound after collect, got: %v", err)
	}
}

func TestOrchestrator_CompletesAndRecovers(t *testing.T) {
	srv, _ := newTarget(t)
	dir := t.TempDir()
	o := newTestOrchestrator(t, "worker", Options{Dir: dir})
	ctx := context.Background()

	id, err := o.Start(ctx, &Config{
		Users:     2,
		SpawnRate: 10,
		Duration:  "1s",
		Targets:   []Target{{Name: "health", Method: "GET", URL: srv.URL + "/health"}},
	})
	if err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	snap := waitState(t, o, id, 10*time.Second, StateCompleted, StateError)
	if snap.State != StateCompleted {
		t.Fatalf("Expected completed, got: %s (%s)", snap.State, snap.Error)
	}

	// A fresh controller derives the same state from disk
	other := newTestOrchestrator(t, "worker", Options{Dir: dir})
	ids, err := other.Recover()
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("Expected to recover %s, got: %v", id, ids)
	}

	r, err := other.Collect(ctx, id)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if r.Status != StateCompleted || r.Failed != 0 || r.Total == 0 {
		t.Errorf("Unexpected report: %+v", r)
	}
	if lt := r.LoadTest; lt.FailureRate != 0 || (lt.Grade != GradeA && lt.P90 < 200) {
		t.Errorf("Unexpected grade %s for p90 %v", lt.Grade, lt.P90)
	}
}

func TestOrchestrator_WorkerCrash(t *testing.T) {
	o := newTestOrchestrator(t, "crash", Options{})
	ctx := context.Background()

	id, err := o.Start(ctx, &Config{Duration: "10s", Targets: []Target{{Name: "x", Method: "GET", URL: "http://127.0.0.1:1"}}})
	if err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	snap := waitState(t, o, id, 5*time.Second, StateError)
	if !strings.Contains(snap.Error, ErrWorkerCrashed.Error()) {
		t.Errorf("Expected crash error, got: %s", snap.Error)
	}
	if _, err := o.Collect(ctx, id); !errors.Is(err, ErrWorkerCrashed) {
		t.Errorf("Expected ErrWorkerCrashed, got: %v", err)
	}
}

func TestOrchestrator_SilentWorkerIsUnresponsive(t *testing.T) {
	o := newTestOrchestrator(t, "silent", Options{GraceWindow: 300 * time.Millisecond})
	ctx := context.Background()

	id, err := o.Start(ctx, &Config{Duration: "10s", Targets: []Target{{Name: "x", Method: "GET", URL: "http://127.0.0.1:1"}}})
	if err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	snap := waitState(t, o, id, 5*time.Second, StateError)
	if !strings.Contains(snap.Error, ErrWorkerUnresponsive.Error()) {
		t.Errorf("Expected unresponsive error, got: %s", snap.Error)
	}
	if _, err := o.Collect(ctx, id); !errors.Is(err, ErrWorkerUnresponsive) {
		t.Errorf("Expected ErrWorkerUnresponsive, got: %v", err)
	}

	// SIGTERM ends the process; without a result the job stays in error
	snap, err = o.Stop(ctx, id)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if snap.State != StateError {
		t.Errorf("Expected error after stop, got: %s", snap.State)
	}
}

func TestOrchestrator_StopTimeoutKillsWorker(t *testing.T) {
	o := newTestOrchestrator(t, "stubborn", Options{StopTimeout: 300 * time.Millisecond})
	ctx := context.Background()

	id, err := o.Start(ctx, &Config{Duration: "10s", Targets: []Target{{Name: "x", Method: "GET", URL: "http://127.0.0.1:1"}}})
	if err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	time.Sleep(500 * time.Millisecond)

	start := time.Now()
	snap, err := o.Stop(ctx, id)
	if !errors.Is(err, ErrWorkerUnresponsive) {
		t.Fatalf("Expected ErrWorkerUnresponsive, got: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Expected stop to give up after its timeout")
	}
	if snap == nil || snap.State != StateError {
		t.Errorf("Expected error state, got: %+v", snap)
	}
	if _, err := o.Collect(ctx, id); !errors.Is(err, ErrWorkerUnresponsive) {
		t.Errorf("Expected ErrWorkerUnresponsive from collect, got: %v", err)
	}
}

func TestOrchestrator_SpawnFailure(t *testing.T) {
	o, err := NewOrchestrator(Options{
		Dir: t.TempDir(),
		Command: func(p Paths) *exec.Cmd {
			return exec.Command(filepath.Join(t.TempDir(), "missing-binary"))
		},
	})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	_, err = o.Start(context.Background(), &Config{Targets: []Target{{Name: "x", Method: "GET", URL: "http://localhost"}}})
	if err == nil {
		t.Fatalf("Expected spawn failure")
	}

	ids, _ := o.Recover()
	if len(ids) != 1 {
		t.Fatalf("Expected the failed job to remain inspectable, got: %v", ids)
	}
	snap, err := o.Status(ids[0])
	if err != nil || snap.State != StateError {
		t.Errorf("Expected error state, got: %+v (%v)", snap, err)
	}
}

func TestWorker_RunInProcess(t *testing.T) {
	srv, _ := newTarget(t)
	dir := t.TempDir()
	paths := JobPaths(dir)

	cfg := &Config{
		Name:      "inline",
		Users:     2,
		SpawnRate: 50,
		Duration:  "1h",
		Targets: []Target{
			{Name: "ok", Method: "POST", URL: srv.URL + "/ok", Body: `{"a":1}`, Headers: map[string]string{"Content-Type": "application/json"}},
			{Name: "bad", Method: "GET", URL: srv.URL + "/fail"},
		},
	}
	w, err := NewWorker(cfg, paths, nil)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var result Result
	if ok, err := readJSON(paths.Result, &result); !ok || err != nil {
		t.Fatalf("Expected result artifact, got: %v", err)
	}
	if result.Phase != PhaseStopped {
		t.Errorf("Expected stopped phase after cancellation, got: %s", result.Phase)
	}

	var status Status
	if ok, _ := readJSON(paths.Status, &status); !ok || status.Phase != PhaseStopped || status.ActiveUsers != 0 {
		t.Errorf("Expected final stopped status with no users, got: %+v", status)
	}

	agg := Aggregated(result.Endpoints)
	if agg.Failures == 0 || agg.Failures >= agg.Requests {
		t.Errorf("Expected some but not all requests to fail, got: %d/%d", agg.Failures, agg.Requests)
	}
	if result.Endpoints[0].Name != "ok" || result.Endpoints[0].Method != "POST" || result.Endpoints[0].Failures != 0 {
		t.Errorf("Unexpected first endpoint row: %+v", result.Endpoints[0])
	}
}
