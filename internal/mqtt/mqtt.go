// Package mqtt provides MQTT publishing and command subscription with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/onewire"
)

// TopicPrefix is the root of every topic used by the controller.
const TopicPrefix = "heating/circpump"

const (
	// TopicPump carries pump transitions.
	TopicPump = TopicPrefix + "/pump"
	// TopicTemperature is the parent of the per-channel temperature topics.
	TopicTemperature = TopicPrefix + "/temperature"
	// TopicAddress carries sensor address assignments (retained).
	TopicAddress = TopicPrefix + "/address"
	// TopicSystem carries system lifecycle events.
	TopicSystem = TopicPrefix + "/system"
	// TopicSet is the parent of the parameter command topics.
	TopicSet = TopicPrefix + "/set"
)

// TemperatureTopic returns the topic for a channel's readings.
func TemperatureTopic(channel int) string {
	return TopicTemperature + "/" + strconv.Itoa(channel)
}

// Publisher publishes controller events to MQTT.
type Publisher interface {
	// PublishPump sends a pump transition.
	// Returns error if publishing fails (should not crash the process).
	PublishPump(event PumpEvent) error
	// PublishTemperature sends a channel reading.
	PublishTemperature(r Reading) error
	// PublishAssignment sends a new sensor assignment.
	PublishAssignment(a Assignment) error
	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error
	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// PumpEvent is a pump transition with its wall-clock time.
type PumpEvent struct {
	Timestamp time.Time
	Event     logic.Event
}

// Reading is one channel reading.
type Reading struct {
	Timestamp   time.Time
	Channel     int
	Name        string
	Temperature logic.Temperature
}

// Assignment records a sensor bound to a channel by a rescan.
type Assignment struct {
	Timestamp time.Time
	Channel   int
	Name      string
	Address   onewire.Address
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// PumpPayload represents the MQTT message payload for pump transitions.
type PumpPayload struct {
	Pump PumpPayloadInner `json:"pump"`
}

// PumpPayloadInner contains the pump event details.
type PumpPayloadInner struct {
	Timestamp    string  `json:"timestamp"`
	Event        string  `json:"event"`
	State        string  `json:"state"`
	Filtered     int32   `json:"filtered"`
	Differential float64 `json:"differential"`
	RunSeconds   int64   `json:"run_seconds,omitempty"`
}

// FormatPumpPayload creates the JSON payload for a pump transition.
func FormatPumpPayload(e PumpEvent) ([]byte, error) {
	state := "OFF"
	if e.Event.Running {
		state = "ON"
	}
	return json.Marshal(PumpPayload{
		Pump: PumpPayloadInner{
			Timestamp:    e.Timestamp.UTC().Format(time.RFC3339),
			Event:        string(e.Event.Type),
			State:        state,
			Filtered:     e.Event.Filtered,
			Differential: e.Event.Differential.Celsius(),
			RunSeconds:   int64(e.Event.RunTime / 1000),
		},
	})
}

// TemperaturePayload represents the MQTT message payload for a reading.
type TemperaturePayload struct {
	Temperature TemperaturePayloadInner `json:"temperature"`
}

// TemperaturePayloadInner contains the reading details. Celsius is null when
// the sensor is absent.
type TemperaturePayloadInner struct {
	Timestamp string   `json:"timestamp"`
	Channel   int      `json:"channel"`
	Name      string   `json:"name,omitempty"`
	Present   bool     `json:"present"`
	Celsius   *float64 `json:"celsius"`
}

// FormatTemperaturePayload creates the JSON payload for a reading.
func FormatTemperaturePayload(r Reading) ([]byte, error) {
	inner := TemperaturePayloadInner{
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
		Channel:   r.Channel,
		Name:      r.Name,
		Present:   r.Temperature.Present(),
	}
	if inner.Present {
		c := r.Temperature.Celsius()
		inner.Celsius = &c
	}
	return json.Marshal(TemperaturePayload{Temperature: inner})
}

// AddressPayload represents the MQTT message payload for an assignment.
type AddressPayload struct {
	Address AddressPayloadInner `json:"address"`
}

// AddressPayloadInner contains the assignment details.
type AddressPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Channel   int    `json:"channel"`
	Name      string `json:"name,omitempty"`
	ROM       string `json:"rom"`
	Key       string `json:"key"`
}

// FormatAddressPayload creates the JSON payload for an assignment.
func FormatAddressPayload(a Assignment) ([]byte, error) {
	return json.Marshal(AddressPayload{
		Address: AddressPayloadInner{
			Timestamp: a.Timestamp.UTC().Format(time.RFC3339),
			Channel:   a.Channel,
			Name:      a.Name,
			ROM:       a.Address.String(),
			Key:       onewire.FormatKey(a.Address.Key()),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
