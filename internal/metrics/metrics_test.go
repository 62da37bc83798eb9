package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	r := NewRegistry()
	r.IncColdStarts()
	r.IncColdStarts()
	r.SetWarmPoolSize(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "function_cold_starts_total 2") {
		t.Fatalf("expected cold starts counter to read 2, got:\n%s", body)
	}
	if !strings.Contains(body, "warm_pool_size 3") {
		t.Fatalf("expected warm pool gauge to read 3, got:\n%s", body)
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	r := NewRegistry()
	r.ObserveRestoreDuration(0.003)
	r.ObserveRestoreDuration(0.012)
	r.ObserveRestoreDuration(0.200)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `function_restore_duration_seconds_bucket{le="+Inf"} 3`) {
		t.Fatalf("expected +Inf bucket to count all 3 observations, got:\n%s", body)
	}
	if !strings.Contains(body, `function_restore_duration_seconds_bucket{le="0.015"} 2`) {
		t.Fatalf("expected le=0.015 bucket to count 2 observations, got:\n%s", body)
	}
}
