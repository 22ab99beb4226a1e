// Package report assembles immutable summaries of batch runs and load tests
// and persists them through a Store.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/studiowebux/apitest/internal/batch"
	"github.com/studiowebux/apitest/internal/types"
)

// Report kinds
const (
	KindBatch    = "batch"
	KindLoadTest = "loadtest"
)

// ErrNotFound is returned by a Store for an unknown report id
var ErrNotFound = errors.New("report not found")

// Report is the summary of one batch run or one load test
type Report struct {
	ID         string           `json:"id" yaml:"id"`
	Kind       string           `json:"kind" yaml:"kind"`
	JobID      string           `json:"jobId" yaml:"jobId"`
	Name       string           `json:"name" yaml:"name"`
	Status     string           `json:"status" yaml:"status"`
	Total      int              `json:"total" yaml:"total"`
	Passed     int              `json:"passed" yaml:"passed"`
	Failed     int              `json:"failed" yaml:"failed"`
	Errors     int              `json:"errors" yaml:"errors"`
	DurationMs int64            `json:"durationMs" yaml:"durationMs"`
	CreatedAt  time.Time        `json:"createdAt" yaml:"createdAt"`
	Message    string           `json:"message,omitempty" yaml:"message,omitempty"`
	Calls      []CallSummary    `json:"calls,omitempty" yaml:"calls,omitempty"`
	LoadTest   *LoadTestSummary `json:"loadTest,omitempty" yaml:"loadTest,omitempty"`
}

// CallSummary is one executed definition of a batch
type CallSummary struct {
	Name       string   `json:"name" yaml:"name"`
	Method     string   `json:"method" yaml:"method"`
	URL        string   `json:"url" yaml:"url"`
	Status     int      `json:"status" yaml:"status"`
	DurationMs int64    `json:"durationMs" yaml:"durationMs"`
	Attempts   int      `json:"attempts" yaml:"attempts"`
	Passed     bool     `json:"passed" yaml:"passed"`
	Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
	Failures   []string `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// LoadTestSummary holds the load profile, the grade and one row per endpoint
// plus the Aggregated row
type LoadTestSummary struct {
	Users       int           `json:"users" yaml:"users"`
	SpawnRate   int           `json:"spawnRate" yaml:"spawnRate"`
	Duration    string        `json:"duration" yaml:"duration"`
	Grade       string        `json:"grade" yaml:"grade"`
	FailureRate float64       `json:"failureRate" yaml:"failureRate"` // percent
	RPS         float64       `json:"rps" yaml:"rps"`
	P90         float64       `json:"p90" yaml:"p90"`
	Endpoints   []EndpointRow `json:"endpoints" yaml:"endpoints"`
}

// EndpointRow holds latency figures in milliseconds
type EndpointRow struct {
	Name     string  `json:"name" yaml:"name"`
	Method   string  `json:"method" yaml:"method"`
	Requests int     `json:"requests" yaml:"requests"`
	Failures int     `json:"failures" yaml:"failures"`
	AvgMs    float64 `json:"avgMs" yaml:"avgMs"`
	MinMs    float64 `json:"minMs" yaml:"minMs"`
	MaxMs    float64 `json:"maxMs" yaml:"maxMs"`
	P50      float64 `json:"p50" yaml:"p50"`
	P75      float64 `json:"p75" yaml:"p75"`
	P90      float64 `json:"p90" yaml:"p90"`
	P95      float64 `json:"p95" yaml:"p95"`
	P99      float64 `json:"p99" yaml:"p99"`
	RPS      float64 `json:"rps" yaml:"rps"`
}

// Store persists reports
type Store interface {
	Save(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context, limit int) ([]*Report, error)
	Close() error
}

// New creates a report with a fresh id
func New(kind, name string) *Report {
	return &Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		CreatedAt: time.Now(),
	}
}

// FromBatch summarizes a finished batch job
func FromBatch(res batch.Result) *Report {
	name := res.Progress.Name
	if name == "" {
		name = "batch " + res.Progress.JobID
	}

	r := New(KindBatch, name)
	r.JobID = res.Progress.JobID
	r.Status = res.Progress.State
	r.Total = res.Progress.Total
	r.Message = res.Progress.Error

	for i := range res.Executions {
		call := summarizeCall(&res.Executions[i])
		r.DurationMs += call.DurationMs
		switch {
		case call.Error != "":
			r.Errors++
		case call.Passed:
			r.Passed++
		default:
			r.Failed++
		}
		r.Calls = append(r.Calls, call)
	}

	return r
}

func summarizeCall(e *types.Execution) CallSummary {
	call := CallSummary{
		Attempts:   len(e.Attempts),
		Passed:     e.Passed,
		DurationMs: e.Duration,
	}
	if e.Definition != nil {
		call.Name = e.Definition.DisplayName()
		call.Method = e.Definition.Method
		call.URL = e.Definition.URL
	}

	last := e.Last()
	if last == nil {
		call.Error = "no attempt was made"
		return call
	}
	if last.URL != "" {
		call.URL = last.URL
	}
	call.Status = last.Status
	call.Error = last.Error

	for _, a := range e.Attempts {
		for _, o := range a.Assertions {
			if !o.Passed {
				call.Failures = append(call.Failures, o.Message)
			}
		}
		for _, o := range a.DBAssertions {
			if !o.Passed {
				call.Failures = append(call.Failures, o.Label+": "+o.Message)
			}
		}
	}
	return call
}
