// Package logic contains the pure control core of the circulation pump.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via Millis parameters.
package logic

import (
	"fmt"
	"math"
	"time"
)

// Temperature is a reading in tenths of a degree Celsius.
type Temperature int16

// Absent is the sentinel reported for a missing or unreadable sensor.
// It matches the DS18B20 "device disconnected" value of -127.0 °C.
const Absent Temperature = -1270

// Present reports whether t is a real reading rather than the Absent sentinel.
func (t Temperature) Present() bool {
	return t != Absent
}

// Celsius returns the reading in degrees Celsius.
func (t Temperature) Celsius() float64 {
	return float64(t) / 10
}

func (t Temperature) String() string {
	if !t.Present() {
		return "absent"
	}
	sign := ""
	v := int(t)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%d°C", sign, v/10, v%10)
}

// Millis is a monotonic millisecond counter that wraps at 2^32.
type Millis uint32

// Since returns the time elapsed from start to m. Unsigned subtraction keeps
// the result correct across a single wrap of the counter.
func (m Millis) Since(start Millis) Millis {
	return m - start
}

// MaxSeconds is the largest value Seconds converts without wrapping.
const MaxSeconds = math.MaxUint32 / 1000

// Seconds converts whole seconds to Millis. s must not exceed MaxSeconds.
func Seconds(s uint32) Millis {
	return Millis(s * 1000)
}

// Duration converts m to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// PumpState represents the state of the circulation pump.
type PumpState string

const (
	PumpIdle    PumpState = "IDLE"
	PumpRunning PumpState = "RUNNING"
)

// EventType represents a pump transition event.
type EventType string

const (
	EventPumpOn  EventType = "PUMP_ON"
	EventPumpOff EventType = "PUMP_OFF"
)

// Event represents a pump transition to be published.
type Event struct {
	Time         Millis
	Type         EventType
	Running      bool
	Filtered     int32
	Differential Temperature
	// RunTime is how long the pump ran before stopping. Zero for PumpOn.
	RunTime Millis
}

// Params are the control parameters. They may be changed at any time and are
// read fresh on every evaluation.
type Params struct {
	FilterThreshold int32
	MaxDifference   Temperature
	MinRunTime      Millis
	MaxRunTime      Millis
}

// DefaultParams returns the parameters of the reference installation.
func DefaultParams() Params {
	return Params{
		FilterThreshold: 315,
		MaxDifference:   50,
		MinRunTime:      Seconds(10),
		MaxRunTime:      Seconds(300),
	}
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	PumpOn  int
	PumpOff int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
}
