// Package gpio drives the circulation pump relay with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relay switches the pump relay.
type Relay interface {
	// Set energizes the relay when on is true.
	Set(on bool) error
	// Close de-energizes the relay and releases GPIO resources.
	Close() error
}

// DefaultPinPump is the BCM pin driving the pump relay.
const DefaultPinPump = 17
