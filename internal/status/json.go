package status

import (
	"encoding/json"
	"time"

	"github.com/kernelmethod/rpi-watering/internal/schedule"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Phase         string       `json:"phase"`
	Relay         string       `json:"relay"`
	NextSession   string       `json:"next_session,omitempty"`
	Sessions      int          `json:"sessions"`
	LastStart     string       `json:"last_start,omitempty"`
	LastStop      string       `json:"last_stop,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Watering      WateringJSON `json:"watering"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// WateringJSON is the active watering configuration.
type WateringJSON struct {
	DurationSeconds float64  `json:"duration_seconds"`
	Hour            int      `json:"hour"`
	Days            []string `json:"days"`
	Source          string   `json:"source"`
	Error           string   `json:"error,omitempty"`
	LoadedAt        string   `json:"loaded_at,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode        string `json:"mode"`
	Pin         int    `json:"pin"`
	SettingsURL string `json:"settings_url"`
	LogFile     string `json:"log_file"`
	Broker      string `json:"broker,omitempty"`
	HTTPAddr    string `json:"http_addr,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	relay := string(snap.Relay)
	if relay == "" {
		relay = string(schedule.StateOff)
	}

	days := make([]string, len(snap.Watering.Days))
	for i, d := range snap.Watering.Days {
		days[i] = d.String()
	}

	inner := StatusInner{
		Phase:         string(snap.Phase),
		Relay:         relay,
		NextSession:   formatTime(snap.NextSession),
		Sessions:      snap.Sessions,
		LastStart:     formatTime(snap.LastStart),
		LastStop:      formatTime(snap.LastStop),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Watering: WateringJSON{
			DurationSeconds: snap.Watering.Duration.Seconds(),
			Hour:            snap.Watering.Hour,
			Days:            days,
			Source:          string(snap.ConfigSource),
			Error:           snap.ConfigError,
			LoadedAt:        formatTime(snap.ConfigLoaded),
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Mode:        snap.Config.Mode,
			Pin:         snap.Config.Pin,
			SettingsURL: snap.Config.SettingsURL,
			LogFile:     snap.Config.LogFile,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
