package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFetchCounts(t *testing.T) {
	m := New("test")
	m.RecordFetch("neighborhood", "ok", 3*time.Millisecond)
	m.RecordFetch("neighborhood", "ok", 0)
	m.RecordFetch("neighborhood", "error", time.Millisecond)

	if got := testutil.ToFloat64(m.recordFetches.WithLabelValues("neighborhood", "ok")); got != 2 {
		t.Fatalf("ok fetches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.recordFetches.WithLabelValues("neighborhood", "error")); got != 1 {
		t.Fatalf("error fetches = %v, want 1", got)
	}
}

func TestSessionCounters(t *testing.T) {
	m := New("test")
	m.RecordSessionLookupFailure()
	m.RecordSessionTransition("signed_in")
	m.SetActiveVisitors(3)

	if got := testutil.ToFloat64(m.sessionFailures); got != 1 {
		t.Fatalf("lookup failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeVisitors); got != 3 {
		t.Fatalf("active visitors = %v, want 3", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New("test")
	m.RecordGuardDecision("auth_required", "/login")
	m.RecordStaleDelivery("floor")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"test_guard_decisions_total",
		"test_hierarchy_stale_results_dropped_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
