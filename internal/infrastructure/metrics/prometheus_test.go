package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pace-noge/defense-probe/internal/domain"
)

func TestObserveRequestOutcomes(t *testing.T) {
	m := NewPrometheus("probe_test")
	m.ObserveRequest(domain.KindXSS, true, false, 10*time.Millisecond)
	m.ObserveRequest(domain.KindXSS, true, false, 20*time.Millisecond)
	m.ObserveRequest(domain.KindXSS, false, false, 5*time.Millisecond)
	m.ObserveRequest(domain.KindXSS, false, true, 0)

	tests := []struct {
		outcome string
		want    float64
	}{
		{"blocked", 2},
		{"passed", 1},
		{"error", 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.requests.WithLabelValues("xss", tt.outcome)); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.outcome, got, tt.want)
		}
	}
}

func TestObserveResult(t *testing.T) {
	m := NewPrometheus("probe_test")
	m.ObserveResult(&domain.TestResult{CreditsUsed: 4, ResultDetails: domain.TestResultDetails{Verdict: domain.VerdictBlocked, SecurityEffectiveness: 75}}, domain.KindSQLInjection)
	m.ObserveResult(&domain.TestResult{CreditsUsed: 1, ResultDetails: domain.TestResultDetails{Verdict: domain.VerdictBlocked, Error: "crashed"}}, domain.KindHTTPBurst)

	if got := testutil.ToFloat64(m.results.WithLabelValues("sql_injection", "blocked")); got != 1 {
		t.Errorf("blocked results = %v", got)
	}
	if got := testutil.ToFloat64(m.results.WithLabelValues("http_burst", "error")); got != 1 {
		t.Errorf("error results = %v", got)
	}
	if got := testutil.ToFloat64(m.credits.WithLabelValues("sql_injection")); got != 4 {
		t.Errorf("credits = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewPrometheus("probe_test")
	m.ObserveRequest(domain.KindCrawler, false, false, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `probe_test_requests_total{kind="crawler",outcome="passed"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}
