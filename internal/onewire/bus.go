package onewire

import (
	"errors"

	"github.com/sweeney/circ-pump/internal/logic"
)

// DefaultResolution is the measurement resolution applied to every mapped
// sensor, in bits.
const DefaultResolution = 9

// ErrNoDevice is returned when an address does not respond.
var ErrNoDevice = errors.New("onewire: device not present")

// Bus is the driver contract of a one-wire temperature bus. Implementations
// must not block for the duration of a temperature conversion:
// RequestConversions only starts one, and ReadTemperature is called after the
// conversion time has elapsed.
type Bus interface {
	// Begin prepares the bus for use.
	Begin() error
	// RequestConversions starts a temperature conversion on every device.
	RequestConversions() error
	// DeviceCount enumerates the bus and returns the number of devices found.
	DeviceCount() int
	// AddressAt returns the address of the device at bus position pos.
	// ok is false when the position cannot be read.
	AddressAt(pos int) (addr Address, ok bool)
	// ReadTemperature returns the last converted temperature of a device.
	ReadTemperature(addr Address) (logic.Temperature, error)
	// SetResolution sets the measurement resolution of a device in bits.
	SetResolution(addr Address, bits uint8) error
}
