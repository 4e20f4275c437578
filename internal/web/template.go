package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/status"
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
	"stateOrUnknown": func(s logic.PumpState) string {
		if s == "" {
			return "UNKNOWN"
		}
		return string(s)
	},
	"seconds": func(m logic.Millis) uint32 {
		return uint32(m / 1000)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Circulation Pump</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Circulation Pump</h1>

<h2>Pump</h2>
<table>
{{$state := stateOrUnknown .Pump.State}}
<tr><th>State</th><td class="{{if eq $state "RUNNING"}}on{{else if eq $state "IDLE"}}off{{else}}unknown{{end}}">{{$state}}</td></tr>
<tr><th>Filter</th><td>{{if .Pump.Warm}}{{.Pump.Filtered}}{{else}}warming up{{end}}</td></tr>
<tr><th>Differential</th><td>{{.Pump.Differential}}</td></tr>
{{if eq $state "RUNNING"}}<tr><th>Running for</th><td>{{uptime .Pump.RunTime}}</td></tr>{{end}}
</table>

<h2>Channels</h2>
<table>
<tr><th>Channel</th><td>Reading</td><td>Sensor</td><td>Expected</td></tr>
{{range .Channels}}<tr><th>{{.Index}} {{.Name}}{{if .Role}} ({{.Role}}){{end}}</th><td>{{.Temperature}}</td><td>{{if .Bound}}{{.Address}}{{else}}-{{end}}</td><td>{{.Expected}}</td></tr>
{{end}}</table>

<h2>Parameters</h2>
<table>
<tr><th>Filter threshold</th><td>{{.Pump.Params.FilterThreshold}}</td></tr>
<tr><th>Max difference</th><td>{{.Pump.Params.MaxDifference}}</td></tr>
<tr><th>Min run time</th><td>{{seconds .Pump.Params.MinRunTime}}s</td></tr>
<tr><th>Max run time</th><td>{{seconds .Pump.Params.MaxRunTime}}s</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counters</h2>
<table>
<tr><th>Pump ON</th><td>{{.Counts.PumpOn}}</td></tr>
<tr><th>Pump OFF</th><td>{{.Counts.PumpOff}}</td></tr>
<tr><th>Bus devices</th><td>{{.Bus.BusDevices}}</td></tr>
<tr><th>Poll cycles</th><td>{{.Bus.Cycles}}</td></tr>
<tr><th>Read errors</th><td>{{.Bus.ReadErrors}}</td></tr>
<tr><th>Assignments</th><td>{{.Bus.Assignments}}</td></tr>
{{if .Bus.BeginErr}}<tr><th>Bus error</th><td class="disconnected">{{.Bus.BeginErr}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
{{if .Config.BootID}}<tr><th>Boot ID</th><td>{{.Config.BootID}}</td></tr>{{end}}
<tr><th>Bus</th><td>{{.Config.Bus}}</td></tr>
<tr><th>Slot policy</th><td>{{.Config.SlotPolicy}}{{if .Config.AutoAssign}}, auto-assign{{end}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
