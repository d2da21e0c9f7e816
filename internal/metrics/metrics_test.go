package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kernelmethod/rpi-watering/internal/settings"
)

func TestCounters(t *testing.T) {
	m := New()

	m.SessionDone(8 * time.Second)
	m.SessionDone(9 * time.Second)
	m.ConfigLoaded(settings.SourceRemote)
	m.ConfigLoaded(settings.SourceDefault)
	m.ConfigLoaded(settings.SourceDefault)

	if got := testutil.ToFloat64(m.sessions); got != 2 {
		t.Errorf("sessions: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lastDuration); got != 9 {
		t.Errorf("last duration: got %v, want 9", got)
	}
	if got := testutil.ToFloat64(m.configLoads.WithLabelValues("default")); got != 2 {
		t.Errorf("default loads: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.configLoads.WithLabelValues("remote")); got != 1 {
		t.Errorf("remote loads: got %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m := New()

	m.RelaySet(true)
	if got := testutil.ToFloat64(m.relayOn); got != 1 {
		t.Errorf("relay_on: got %v, want 1", got)
	}
	m.RelaySet(false)
	if got := testutil.ToFloat64(m.relayOn); got != 0 {
		t.Errorf("relay_on: got %v, want 0", got)
	}

	next := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	m.NextSession(next)
	if got := testutil.ToFloat64(m.nextSession); got != float64(next.Unix()) {
		t.Errorf("next session: got %v, want %v", got, next.Unix())
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.SessionDone(8 * time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"waterer_sessions_total 1",
		`waterer_config_loads_total{source="remote"} 0`,
		"waterer_relay_on 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RelaySet(true)
	m.SessionDone(time.Second)
	m.ConfigLoaded(settings.SourceRemote)
	m.NextSession(time.Now())
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler: got %d, want 404", rec.Code)
	}
}
