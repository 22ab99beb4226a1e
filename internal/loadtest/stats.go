package loadtest

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studiowebux/apitest/internal/report"
)

// AggregatedName labels the row that sums every endpoint
const AggregatedName = "Aggregated"

// Grades
const (
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
	GradeF = "F"
)

var gradeTable = []struct {
	grade       string
	failureRate float64 // exclusive upper bound, percent
	p90         float64 // exclusive upper bound, ms
}{
	{GradeB, 1, 500},
	{GradeC, 5, 1000},
	{GradeD, 10, 2000},
}

// Grade maps a failure rate (percent) and a P90 latency (ms) to a letter.
// Rows are evaluated in order and the first match wins.
func Grade(failureRate, p90 float64) string {
	if failureRate == 0 && p90 < 200 {
		return GradeA
	}
	for _, row := range gradeTable {
		if failureRate < row.failureRate && p90 < row.p90 {
			return row.grade
		}
	}
	return GradeF
}

// Percentile returns the nearest-rank percentile of ascending values
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(len(sorted))*p/100)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type endpointStats struct {
	method    string
	requests  int
	failures  int
	durations []float64 // successful requests only
}

// Recorder collects request outcomes from all virtual users
type Recorder struct {
	mu        sync.Mutex
	order     []string
	endpoints map[string]*endpointStats

	active int32
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{endpoints: make(map[string]*endpointStats)}
}

// Add records one request. Latency of failed requests is not sampled.
func (r *Recorder) Add(name, method string, durationMs float64, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.endpoints[name]
	if !ok {
		s = &endpointStats{method: method, durations: make([]float64, 0, 256)}
		r.endpoints[name] = s
		r.order = append(r.order, name)
	}
	s.requests++
	if failed {
		s.failures++
		return
	}
	s.durations = append(s.durations, durationMs)
}

// UserStarted and UserStopped track active virtual users
func (r *Recorder) UserStarted() { atomic.AddInt32(&r.active, 1) }

func (r *Recorder) UserStopped() { atomic.AddInt32(&r.active, -1) }

// ActiveUsers returns the number of running virtual users
func (r *Recorder) ActiveUsers() int {
	return int(atomic.LoadInt32(&r.active))
}

// Totals returns request and failure counts over all endpoints
func (r *Recorder) Totals() (requests, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.endpoints {
		requests += s.requests
		failures += s.failures
	}
	return requests, failures
}

// Rows returns one row per endpoint in first-seen order, followed by the
// Aggregated row
func (r *Recorder) Rows(elapsed time.Duration) []report.EndpointRow {
	r.mu.Lock()
	defer r.mu.Unlock()

	seconds := math.Max(elapsed.Seconds(), 0.001)
	rows := make([]report.EndpointRow, 0, len(r.order)+1)
	all := &endpointStats{}

	for _, name := range r.order {
		s := r.endpoints[name]
		rows = append(rows, buildRow(name, s, seconds))
		all.requests += s.requests
		all.failures += s.failures
		all.durations = append(all.durations, s.durations...)
	}
	rows = append(rows, buildRow(AggregatedName, all, seconds))
	return rows
}

func buildRow(name string, s *endpointStats, seconds float64) report.EndpointRow {
	row := report.EndpointRow{
		Name:     name,
		Method:   s.method,
		Requests: s.requests,
		Failures: s.failures,
		RPS:      round2(float64(s.requests) / seconds),
	}

	if len(s.durations) == 0 {
		return row
	}

	sorted := make([]float64, len(s.durations))
	copy(sorted, s.durations)
	sort.Float64s(sorted)

	var sum float64
	for _, d := range sorted {
		sum += d
	}
	row.AvgMs = round2(sum / float64(len(sorted)))
	row.MinMs = round2(sorted[0])
	row.MaxMs = round2(sorted[len(sorted)-1])
	row.P50 = Percentile(sorted, 50)
	row.P75 = Percentile(sorted, 75)
	row.P90 = Percentile(sorted, 90)
	row.P95 = Percentile(sorted, 95)
	row.P99 = Percentile(sorted, 99)
	return row
}

// FailureRate returns failures as a percentage of requests, unrounded
func FailureRate(row report.EndpointRow) float64 {
	if row.Requests == 0 {
		return 0
	}
	return float64(row.Failures) / float64(row.Requests) * 100
}

// Aggregated returns the Aggregated row of rows, or a zero row
func Aggregated(rows []report.EndpointRow) report.EndpointRow {
	for _, row := range rows {
		if row.Name == AggregatedName {
			return row
		}
	}
	return report.EndpointRow{Name: AggregatedName}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
