package loadtest

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/studiowebux/apitest/internal/report"
)

func TestGrade_Boundaries(t *testing.T) {
	tests := []struct {
		failureRate float64
		p90         float64
		want        string
	}{
		{0, 0, GradeA},
		{0, 199.99, GradeA},
		{0, 200, GradeB},
		{0.5, 100, GradeB},
		{0.99, 499, GradeB},
		{1, 100, GradeC},
		{0, 500, GradeC},
		{4.99, 999, GradeC},
		{5, 100, GradeD},
		{0, 1000, GradeD},
		{9.99, 1999, GradeD},
		{10, 100, GradeF},
		{0, 2000, GradeF},
		{50, 50, GradeF},
		{100.0 / 30000, 120, GradeB},
		{0, 199.996, GradeA},
	}

	for _, tt := range tests {
		if got := Grade(tt.failureRate, tt.p90); got != tt.want {
			t.Errorf("Grade(%v, %v) = %s, expected %s", tt.failureRate, tt.p90, got, tt.want)
		}
	}
}

func TestBuildReport_GradesUnroundedRates(t *testing.T) {
	cfg := &Config{Name: "checkout", Users: 10, SpawnRate: 5, Duration: "1m"}

	tests := []struct {
		name      string
		row       report.EndpointRow
		wantGrade string
		wantRate  float64
	}{
		{"one failure in thirty thousand", report.EndpointRow{Requests: 30000, Failures: 1, P90: 120}, GradeB, 0},
		{"p90 just under 200ms", report.EndpointRow{Requests: 100, P90: 199.996}, GradeA, 0},
		{"rate just under 1%", report.EndpointRow{Requests: 100000, Failures: 999, P90: 120}, GradeB, 1},
		{"no requests", report.EndpointRow{}, GradeF, 0},
	}

	for _, tt := range tests {
		tt.row.Name = AggregatedName
		r := BuildReport("job", cfg, &Result{Phase: PhaseCompleted, Endpoints: []report.EndpointRow{tt.row}})
		if r.LoadTest.Grade != tt.wantGrade {
			t.Errorf("%s: expected grade %s, got: %s", tt.name, tt.wantGrade, r.LoadTest.Grade)
		}
		if r.LoadTest.FailureRate != tt.wantRate {
			t.Errorf("%s: expected displayed rate %v, got: %v", tt.name, tt.wantRate, r.LoadTest.FailureRate)
		}
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := map[float64]float64{50: 5, 75: 8, 90: 9, 95: 10, 99: 10, 0: 1}
	for p, want := range tests {
		if got := Percentile(values, p); got != want {
			t.Errorf("P%v = %v, expected %v", p, got, want)
		}
	}

	if Percentile(nil, 90) != 0 {
		t.Errorf("Expected 0 for empty input")
	}
	if Percentile([]float64{42}, 99) != 42 {
		t.Errorf("Expected single sample to be every percentile")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"60s", time.Minute, false},
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"90", 90 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{" 10S ", 10 * time.Second, false},
		{"", 0, true},
		{"0s", 0, true},
		{"-5m", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDuration(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, %v; expected %v", tt.in, got, err, tt.want)
		}
	}
}

func TestRecorder_RowsAndAggregated(t *testing.T) {
	r := NewRecorder()
	for i := 1; i <= 10; i++ {
		r.Add("list", "GET", float64(i*10), false)
	}
	r.Add("create", "POST", 500, false)
	r.Add("create", "POST", 0, true)

	requests, failures := r.Totals()
	if requests != 12 || failures != 1 {
		t.Fatalf("Expected 12 requests and 1 failure, got: %d/%d", requests, failures)
	}

	rows := r.Rows(2 * time.Second)
	if len(rows) != 3 {
		t.Fatalf("Expected 2 endpoints and Aggregated, got: %d rows", len(rows))
	}
	if rows[0].Name != "list" || rows[1].Name != "create" || rows[2].Name != AggregatedName {
		t.Errorf("Unexpected row order: %s, %s, %s", rows[0].Name, rows[1].Name, rows[2].Name)
	}

	list := rows[0]
	if list.P50 != 50 || list.P90 != 90 || list.MinMs != 10 || list.MaxMs != 100 || list.AvgMs != 55 {
		t.Errorf("Unexpected list row: %+v", list)
	}
	if list.RPS != 5 {
		t.Errorf("Expected 5 rps, got: %v", list.RPS)
	}

	// Failed requests count but do not contribute latency samples
	create := rows[1]
	if create.Requests != 2 || create.Failures != 1 || create.AvgMs != 500 {
		t.Errorf("Unexpected create row: %+v", create)
	}

	agg := Aggregated(rows)
	if agg.Requests != 12 || agg.Failures != 1 || agg.MaxMs != 500 {
		t.Errorf("Unexpected aggregated row: %+v", agg)
	}
	if rate := FailureRate(agg); math.Abs(rate-100.0/12) > 1e-9 {
		t.Errorf("Expected 8.33%% failure rate, got: %v", rate)
	}
}

func TestConfig_DefaultsValidateAndPreview(t *testing.T) {
	cfg := &Config{Targets: []Target{{Name: "health", Method: "GET", URL: "http://localhost/health"}}}

	out, err := Preview(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Users != DefaultUsers || cfg.SpawnRate != DefaultSpawnRate || cfg.Duration != DefaultDuration {
		t.Errorf("Expected defaults to be applied, got: %+v", cfg)
	}
	for _, want := range []string{"# load test: health", "spawn_rate: 2", "url: http://localhost/health"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected preview to contain %q, got:\n%s", want, out)
		}
	}

	invalid := []*Config{
		{Users: 1, SpawnRate: 1, Duration: "1s"},
		{Users: MaxUsers + 1, SpawnRate: 1, Duration: "1s", Targets: cfg.Targets},
		{Users: 1, SpawnRate: 1, Duration: "never", Targets: cfg.Targets},
		{Users: 1, SpawnRate: 1, Duration: "1s", Targets: []Target{{Name: "x"}}},
	}
	for i, c := range invalid {
		if err := c.Validate(); err == nil {
			t.Errorf("Expected config %d to be invalid", i)
		}
	}
}
