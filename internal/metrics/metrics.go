// Package metrics exposes the waterer's Prometheus collectors.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kernelmethod/rpi-watering/internal/settings"
)

const namespace = "waterer"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sessions     prometheus.Counter
	configLoads  *prometheus.CounterVec
	relayOn      prometheus.Gauge
	nextSession  prometheus.Gauge
	lastDuration prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Completed watering sessions.",
		}),
		configLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_loads_total",
			Help:      "Settings loads by source (remote or default).",
		}, []string{"source"}),
		relayOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_on",
			Help:      "1 while the relay is energized.",
		}),
		nextSession: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_session_timestamp_seconds",
			Help:      "Unix time of the next scheduled watering.",
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_session_duration_seconds",
			Help:      "Measured length of the most recent watering.",
		}),
	}

	m.registry.MustRegister(
		m.sessions,
		m.configLoads,
		m.relayOn,
		m.nextSession,
		m.lastDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// Both sources show up as 0 before the first load.
	m.configLoads.WithLabelValues(string(settings.SourceRemote))
	m.configLoads.WithLabelValues(string(settings.SourceDefault))
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RelaySet records the relay output state.
func (m *Metrics) RelaySet(on bool) {
	if m == nil {
		return
	}
	if on {
		m.relayOn.Set(1)
	} else {
		m.relayOn.Set(0)
	}
}

// SessionDone counts a completed session of length d.
func (m *Metrics) SessionDone(d time.Duration) {
	if m == nil {
		return
	}
	m.sessions.Inc()
	m.lastDuration.Set(d.Seconds())
}

// ConfigLoaded counts one settings load.
func (m *Metrics) ConfigLoaded(src settings.Source) {
	if m == nil {
		return
	}
	m.configLoads.WithLabelValues(string(src)).Inc()
}

// NextSession records the upcoming slot.
func (m *Metrics) NextSession(t time.Time) {
	if m == nil {
		return
	}
	m.nextSession.Set(float64(t.Unix()))
}
