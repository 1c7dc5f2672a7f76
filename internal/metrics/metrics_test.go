package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	t.Parallel()

	m := New()
	m.Decision("merged", "exact")
	m.Decision("merged", "exact")
	m.CapabilityFailure("reasoning", "openai")
	m.CapabilityLatency("embedding", "http", 120*time.Millisecond)
	m.LockWait(time.Millisecond)
	m.Rejected("malformed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`dronewatch_decisions_total{outcome="merged",tier="exact"} 2`,
		`dronewatch_capability_failures_total{capability="reasoning",provider="openai"} 1`,
		`dronewatch_rejected_candidates_total{reason="malformed"} 1`,
		`dronewatch_lock_wait_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Decision("new_incident", "none")
	m.CapabilityFailure("embedding", "http")
	m.CapabilityLatency("embedding", "http", time.Second)
	m.LockWait(time.Second)
	m.Rejected("malformed")
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}
