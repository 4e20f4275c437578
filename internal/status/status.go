// Package status provides a thread-safe status tracker for the circ-pump daemon.
// It is read by the HTTP handlers and the MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/onewire"
	"github.com/sweeney/circ-pump/internal/sensors"
)

// NetworkInfo contains network state as reported by the host.
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
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Bus         string
	SlotPolicy  string
	AutoAssign  bool
	BootID      string
}

// Pump is the controller state.
type Pump struct {
	State        logic.PumpState
	Filtered     int32
	Warm         bool
	Differential logic.Temperature
	RunTime      time.Duration
	Params       logic.Params
}

// Channel is the state of one measurement channel.
type Channel struct {
	Index       int
	Name        string
	Role        string
	Temperature logic.Temperature
	Bound       bool
	Address     onewire.Address
	Expected    sensors.Expectation
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Pump          Pump
	Channels      []Channel
	Counts        logic.EventCounts
	Bus           sensors.Stats
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
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// UpdatePump sets the controller state and event counts.
// Called from runLoop on every tick.
func (t *Tracker) UpdatePump(p Pump, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Pump = p
	t.snap.Counts = counts
	t.mu.Unlock()
}

// UpdateChannels replaces the channel table and bus statistics.
func (t *Tracker) UpdateChannels(channels []Channel, bus sensors.Stats) {
	cp := make([]Channel, len(channels))
	copy(cp, channels)
	t.mu.Lock()
	t.snap.Channels = cp
	t.snap.Bus = bus
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
	s.Channels = make([]Channel, len(t.snap.Channels))
	copy(s.Channels, t.snap.Channels)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
