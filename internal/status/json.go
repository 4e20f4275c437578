package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/circ-pump/internal/onewire"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Pump          PumpJSON      `json:"pump"`
	Params        ParamsJSON    `json:"params"`
	Channels      []ChannelJSON `json:"channels"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	BootID        string        `json:"boot_id,omitempty"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"event_counts"`
	Bus           BusJSON       `json:"bus"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// PumpJSON is the JSON representation of the controller state.
type PumpJSON struct {
	State        string   `json:"state"`
	Warm         bool     `json:"warm"`
	Filtered     int32    `json:"filtered"`
	Differential *float64 `json:"differential"`
	RunSeconds   int64    `json:"run_seconds"`
}

// ParamsJSON is the JSON representation of the control parameters.
type ParamsJSON struct {
	FilterThreshold int32   `json:"filter_threshold"`
	MaxDifference   float64 `json:"max_difference"`
	MinRunSeconds   int64   `json:"min_run_time"`
	MaxRunSeconds   int64   `json:"max_run_time"`
}

// ChannelJSON is the JSON representation of a measurement channel.
type ChannelJSON struct {
	Index    int      `json:"index"`
	Name     string   `json:"name"`
	Role     string   `json:"role,omitempty"`
	Celsius  *float64 `json:"celsius"`
	Bound    bool     `json:"bound"`
	Address  string   `json:"address,omitempty"`
	Expected string   `json:"expected,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	PumpOn  int `json:"pump_on"`
	PumpOff int `json:"pump_off"`
}

// BusJSON is the JSON representation of the sensor engine statistics.
type BusJSON struct {
	Devices       int    `json:"devices"`
	Cycles        int    `json:"cycles"`
	Scans         int    `json:"scans"`
	Assignments   int    `json:"assignments"`
	ReadErrors    int    `json:"read_errors"`
	ConvertErrors int    `json:"convert_errors"`
	BeginError    string `json:"begin_error,omitempty"`
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
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	Bus         string `json:"bus"`
	SlotPolicy  string `json:"slot_policy"`
	AutoAssign  bool   `json:"auto_assign"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.Pump.State)
	if state == "" {
		state = "UNKNOWN"
	}
	p := snap.Pump.Params

	inner := StatusInner{
		Pump: PumpJSON{
			State:        state,
			Warm:         snap.Pump.Warm,
			Filtered:     snap.Pump.Filtered,
			Differential: celsius(snap.Pump.Differential.Present(), snap.Pump.Differential.Celsius()),
			RunSeconds:   int64(snap.Pump.RunTime.Seconds()),
		},
		Params: ParamsJSON{
			FilterThreshold: p.FilterThreshold,
			MaxDifference:   p.MaxDifference.Celsius(),
			MinRunSeconds:   int64(p.MinRunTime / 1000),
			MaxRunSeconds:   int64(p.MaxRunTime / 1000),
		},
		Channels:      make([]ChannelJSON, 0, len(snap.Channels)),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		BootID:        snap.Config.BootID,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			PumpOn:  snap.Counts.PumpOn,
			PumpOff: snap.Counts.PumpOff,
		},
		Bus: BusJSON{
			Devices:       snap.Bus.BusDevices,
			Cycles:        snap.Bus.Cycles,
			Scans:         snap.Bus.Scans,
			Assignments:   snap.Bus.Assignments,
			ReadErrors:    snap.Bus.ReadErrors,
			ConvertErrors: snap.Bus.ConvertErrors,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			Bus:         snap.Config.Bus,
			SlotPolicy:  snap.Config.SlotPolicy,
			AutoAssign:  snap.Config.AutoAssign,
		},
	}
	if snap.Bus.BeginErr != nil {
		inner.Bus.BeginError = snap.Bus.BeginErr.Error()
	}

	for _, ch := range snap.Channels {
		c := ChannelJSON{
			Index:   ch.Index,
			Name:    ch.Name,
			Role:    ch.Role,
			Celsius: celsius(ch.Temperature.Present(), ch.Temperature.Celsius()),
			Bound:   ch.Bound,
		}
		if ch.Bound {
			c.Address = ch.Address.String()
		}
		if ch.Expected.Set {
			c.Expected = onewire.FormatKey(ch.Expected.Key)
		}
		inner.Channels = append(inner.Channels, c)
	}
	return inner
}

func celsius(present bool, v float64) *float64 {
	if !present {
		return nil
	}
	return &v
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
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
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatChannelJSON returns the JSON representation of one channel, or false
// if the snapshot has no such channel.
func FormatChannelJSON(snap Snapshot, index int) ([]byte, bool) {
	inner := buildInner(snap)
	for _, ch := range inner.Channels {
		if ch.Index == index {
			data, _ := json.MarshalIndent(ch, "", "  ")
			return data, true
		}
	}
	return nil, false
}
