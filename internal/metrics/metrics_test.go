package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_HandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveCall("GET", true, false, 20*time.Millisecond)
	m.ObserveCall("GET", false, true, time.Millisecond)
	m.ObserveAssertionFailure("status-code")
	m.BatchStarted()
	m.BatchFinished("completed")
	m.LoadTestEvent("started")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`apitest_calls_total{method="GET",outcome="passed"} 1`,
		`apitest_calls_total{method="GET",outcome="error"} 1`,
		`apitest_assertions_failed_total{kind="status-code"} 1`,
		`apitest_batches_total{state="completed"} 1`,
		`apitest_batches_running 0`,
		`apitest_loadtests_running 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCall("GET", true, false, time.Second)
	m.BatchStarted()
	m.BatchFinished("failed")
	m.LoadTestEvent("stopped")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("Expected 404 from nil metrics handler, got: %d", rec.Code)
	}
}
