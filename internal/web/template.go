package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/kernelmethod/rpi-watering/internal/schedule"
	"github.com/kernelmethod/rpi-watering/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return schedule.WeekdayOf(t).String() + " " + t.Format("2006-01-02 15:04:05")
	},
	"days": schedule.FormatDays,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="30">
<title>Waterer</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.fallback { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Waterer</h1>

<h2>Relay</h2>
<table>
<tr><th>State</th><td id="relay" class="{{if eq (printf "%s" .Relay) "ON"}}on{{else}}off{{end}}">{{.Relay}}</td></tr>
<tr><th>Phase</th><td>{{.Phase}}</td></tr>
<tr><th>Next session</th><td>{{when .NextSession}}</td></tr>
<tr><th>Sessions</th><td>{{.Sessions}}</td></tr>
<tr><th>Last session</th><td>{{when .LastStart}}</td></tr>
</table>

<h2>Schedule</h2>
<table>
<tr><th>Days</th><td>{{days .Watering.Days}}</td></tr>
<tr><th>Hour</th><td>{{printf "%02d:00" .Watering.Hour}}</td></tr>
<tr><th>Duration</th><td>{{.Watering.Duration}}</td></tr>
<tr><th>Source</th><td class="{{if eq (printf "%s" .ConfigSource) "default"}}fallback{{end}}">{{.ConfigSource}}</td></tr>
{{if .ConfigError}}<tr><th>Last error</th><td>{{.ConfigError}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .Config.Broker}}{{if .MQTTConnected}}connected{{else}}disconnected{{end}}{{else}}disabled{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Mode</th><td>{{.Config.Mode}}</td></tr>
<tr><th>Relay pin</th><td>GPIO{{.Config.Pin}}</td></tr>
<tr><th>Log</th><td>{{.Config.LogFile}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
