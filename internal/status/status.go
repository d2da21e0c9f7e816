// Package status provides a thread-safe status tracker for the waterer daemon.
// It is written by the scheduler and read by HTTP handlers and MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/kernelmethod/rpi-watering/internal/schedule"
	"github.com/kernelmethod/rpi-watering/internal/settings"
)

// Phase is the scheduler's state-machine position.
type Phase string

const (
	PhaseStarting Phase = "STARTING"
	PhaseIdle     Phase = "IDLE"
	PhaseWatering Phase = "WATERING"
	PhaseStopping Phase = "STOPPING"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Mode        string
	Pin         int
	SettingsURL string
	LogFile     string
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Phase         Phase
	Relay         schedule.State
	NextSession   time.Time
	Watering      settings.Config
	ConfigSource  settings.Source
	ConfigError   string
	ConfigLoaded  time.Time
	Sessions      int
	LastStart     time.Time
	LastStop      time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Phase:     PhaseStarting,
			Relay:     schedule.StateOff,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetPhase records the scheduler phase and the relay state that goes with it.
func (t *Tracker) SetPhase(p Phase, relay schedule.State) {
	t.mu.Lock()
	t.snap.Phase = p
	t.snap.Relay = relay
	t.mu.Unlock()
}

// SetNextSession records the upcoming watering slot.
func (t *Tracker) SetNextSession(next time.Time) {
	t.mu.Lock()
	t.snap.NextSession = next
	t.mu.Unlock()
}

// SetSettings records the outcome of a settings load.
func (t *Tracker) SetSettings(res settings.Result) {
	t.mu.Lock()
	t.snap.Watering = res.Config
	t.snap.ConfigSource = res.Source
	t.snap.ConfigLoaded = res.At
	t.snap.ConfigError = ""
	if res.Err != nil {
		t.snap.ConfigError = res.Err.Error()
	}
	t.mu.Unlock()
}

// RecordSession counts one completed watering occurrence.
func (t *Tracker) RecordSession(start, stop time.Time) {
	t.mu.Lock()
	t.snap.Sessions++
	t.snap.LastStart = start
	t.snap.LastStop = stop
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
