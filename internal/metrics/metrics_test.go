package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.Feed("settled", "")
	m.Feed("settled", "")
	m.Feed("failed", "no_value")
	m.SettlerFailure("ledger_rejected")
	m.Sweep(3, 2*time.Second)

	if got := testutil.ToFloat64(m.FeedsProcessed.WithLabelValues("settled", "")); got != 2 {
		t.Errorf("settled: got %v want 2", got)
	}
	if got := testutil.ToFloat64(m.SweepEligible); got != 3 {
		t.Errorf("eligible: got %v want 3", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `oracle_settler_orchestrator_settler_failures_total{code="ledger_rejected"} 1`) {
		t.Errorf("exposition missing settler failure:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Feed("settled", "")
	m.SettlerFailure("x")
	m.Sweep(1, time.Second)
	m.PollerUpdate("finished")
}
