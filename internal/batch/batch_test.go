package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/types"
)

// fakeRunner passes every definition except those named in fail
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	delay time.Duration
	panic string
}

func (f *fakeRunner) Run(ctx context.Context, def *types.CallDefinition, scope *parser.VariableScope) *types.Execution {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if def.Name == f.panic {
		panic("scope corrupted")
	}
	f.mu.Lock()
	f.calls = append(f.calls, def.Name)
	f.mu.Unlock()

	scope.SetRuntime("last", def.Name)
	exec := &types.Execution{
		Definition: def,
		Attempts:   []types.ExecutionResult{{Attempt: 1, Name: def.Name, Passed: !f.fail[def.Name]}},
	}
	exec.Aggregate()
	return exec
}

func (f *fakeRunner) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func defs(names ...string) []types.CallDefinition {
	out := make([]types.CallDefinition, len(names))
	for i, n := range names {
		out[i] = types.CallDefinition{Name: n, Method: "GET", URL: "http://localhost/" + n}
	}
	return out
}

func waitFor(t *testing.T, r *Runner, id string) Progress {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := r.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Expected job to finish, got: %v", err)
	}
	return p
}

func TestRunner_RunsAllCallsWithoutStopOnFailure(t *testing.T) {
	calls := &fakeRunner{fail: map[string]bool{"b": true, "d": true}}
	r := NewRunner(calls, nil, nil, nil)

	id, err := r.Start(context.Background(), defs("a", "b", "c", "d", "e"), Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	p := waitFor(t, r, id)
	if p.State != StateCompleted {
		t.Errorf("Expected completed, got: %s", p.State)
	}
	if p.Total != 5 || p.Completed != 5 {
		t.Errorf("Expected 5/5, got: %d/%d", p.Completed, p.Total)
	}
	if p.Passed != 3 || p.Failed != 2 {
		t.Errorf("Expected 3 passed and 2 failed, got: %d/%d", p.Passed, p.Failed)
	}
	if len(calls.names()) != 5 {
		t.Errorf("Expected exactly 5 call attempts, got: %v", calls.names())
	}
	if p.FinishedAt == nil {
		t.Errorf("Expected finish time to be set")
	}
}

func TestRunner_StopOnFailure(t *testing.T) {
	calls := &fakeRunner{fail: map[string]bool{"c": true}}
	r := NewRunner(calls, nil, nil, nil)

	id, _ := r.Start(context.Background(), defs("a", "b", "c", "d", "e"), Options{StopOnFailure: true})
	p := waitFor(t, r, id)

	if p.State != StateStoppedEarly {
		t.Errorf("Expected stopped-early, got: %s", p.State)
	}
	if p.Completed != 3 {
		t.Errorf("Expected completed == 3, got: %d", p.Completed)
	}
	got := calls.names()
	if len(got) != 3 || got[2] != "c" {
		t.Errorf("Expected calls a, b, c only, got: %v", got)
	}

	res, err := r.Result(id)
	if err != nil {
		t.Fatalf("Expected result, got: %v", err)
	}
	if len(res.Executions) != 3 {
		t.Errorf("Expected 3 executions in the run log, got: %d", len(res.Executions))
	}
}

func TestRunner_PanicMarksFailed(t *testing.T) {
	calls := &fakeRunner{panic: "b"}
	r := NewRunner(calls, nil, nil, nil)

	id, _ := r.Start(context.Background(), defs("a", "b", "c"), Options{})
	p := waitFor(t, r, id)

	if p.State != StateFailed {
		t.Errorf("Expected failed, got: %s", p.State)
	}
	if p.Completed != 1 || p.Error == "" {
		t.Errorf("Unexpected progress after panic: %+v", p)
	}
}

func TestRunner_ScopeFactoryError(t *testing.T) {
	r := NewRunner(&fakeRunner{}, func(map[string]string) (*parser.VariableScope, error) {
		return nil, errors.New("corrupt global store")
	}, nil, nil)

	id, _ := r.Start(context.Background(), defs("a"), Options{})
	p := waitFor(t, r, id)
	if p.State != StateFailed || p.Completed != 0 {
		t.Errorf("Expected failed with no calls, got: %+v", p)
	}
}

func TestRunner_OrdersByWeight(t *testing.T) {
	calls := &fakeRunner{}
	r := NewRunner(calls, nil, nil, nil)

	d := defs("third", "first", "second", "also-second")
	d[0].Weight = 3
	d[1].Weight = 1
	d[2].Weight = 2
	d[3].Weight = 2

	id, _ := r.Start(context.Background(), d, Options{})
	waitFor(t, r, id)

	want := []string{"first", "second", "also-second", "third"}
	got := calls.names()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected order %v, got: %v", want, got)
		}
	}
}

func TestRunner_StatusDuringRunAndUnknownJob(t *testing.T) {
	calls := &fakeRunner{delay: 50 * time.Millisecond}
	r := NewRunner(calls, nil, nil, nil)

	id, _ := r.Start(context.Background(), defs("a", "b", "c", "d"), Options{Name: "smoke"})

	// Concurrent readers never observe progress moving backwards
	var wg sync.WaitGroup
	var regressions int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for k := 0; k < 20; k++ {
				p, err := r.Status(id)
				if err != nil || p.Completed < last || p.Completed > p.Total {
					atomic.AddInt32(&regressions, 1)
				}
				last = p.Completed
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()
	if regressions != 0 {
		t.Errorf("Expected monotonic progress, got %d regressions", regressions)
	}

	p := waitFor(t, r, id)
	if p.Name != "smoke" || p.State != StateCompleted {
		t.Errorf("Unexpected final progress: %+v", p)
	}

	if _, err := r.Status("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got: %v", err)
	}
	if _, err := r.Start(context.Background(), nil, Options{}); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch, got: %v", err)
	}
}

func TestRunner_OnFinishAndIsolatedScopes(t *testing.T) {
	calls := &fakeRunner{}
	var scopes []*parser.VariableScope
	var mu sync.Mutex
	r := NewRunner(calls, func(overrides map[string]string) (*parser.VariableScope, error) {
		s := parser.NewScope(overrides, nil, nil)
		mu.Lock()
		scopes = append(scopes, s)
		mu.Unlock()
		return s, nil
	}, nil, nil)

	results := make(chan Result, 2)
	r.OnFinish(func(res Result) { results <- res })

	id1, _ := r.Start(context.Background(), defs("x"), Options{Variables: map[string]string{"env": "one"}})
	id2, _ := r.Start(context.Background(), defs("y"), Options{})
	waitFor(t, r, id1)
	waitFor(t, r, id2)

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			if !res.Progress.Terminal() || len(res.Executions) != 1 {
				t.Errorf("Unexpected finished result: %+v", res.Progress)
			}
		case <-time.After(time.Second):
			t.Fatalf("Expected OnFinish callback")
		}
	}

	if len(scopes) != 2 || scopes[0] == scopes[1] {
		t.Fatalf("Expected one scope per job")
	}
	a, _ := scopes[0].Lookup("last")
	b, _ := scopes[1].Lookup("last")
	if a == b {
		t.Errorf("Expected runtime tiers to be isolated, both saw %q", a)
	}
	if len(r.List()) != 2 {
		t.Errorf("Expected 2 listed jobs")
	}
}

func TestRunner_ShutdownInterruptsRunningJobs(t *testing.T) {
	calls := &fakeRunner{delay: 50 * time.Millisecond}
	r := NewRunner(calls, nil, nil, nil)

	var reported []Result
	var mu sync.Mutex
	r.OnFinish(func(res Result) {
		mu.Lock()
		reported = append(reported, res)
		mu.Unlock()
	})

	id, err := r.Start(context.Background(), defs("a", "b", "c", "d", "e", "f", "g", "h"), Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	p, err := r.Status(id)
	if err != nil {
		t.Fatal(err)
	}
	if p.State != StateFailed || p.Completed == 0 || p.Completed >= p.Total || p.FinishedAt == nil {
		t.Errorf("Expected an interrupted job, got: %+v", p)
	}

	mu.Lock()
	if len(reported) != 1 || reported[0].Progress.JobID != id {
		t.Errorf("Expected OnFinish to run before Shutdown returned, got: %+v", reported)
	}
	mu.Unlock()

	if _, err := r.Start(context.Background(), defs("late"), Options{}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got: %v", err)
	}
}
