package onewire

import (
	"errors"

	"github.com/sweeney/circ-pump/internal/logic"
)

// FakeDevice is a device on a FakeBus.
type FakeDevice struct {
	Addr        Address
	Temperature logic.Temperature
	// ReadError, if set, is returned by ReadTemperature for this device.
	ReadError error
}

// FakeBus is a test double with scripted devices that records driver calls.
type FakeBus struct {
	// Devices contains the devices in bus order.
	Devices []FakeDevice
	// FailAt, if >= 0, makes AddressAt fail at that position and beyond.
	FailAt int

	// BeginError, if set, is returned by Begin.
	BeginError error
	// ConvertError, if set, is returned by RequestConversions.
	ConvertError error

	// Begun tracks if Begin was called.
	Begun bool
	// Conversions counts calls to RequestConversions.
	Conversions int
	// Enumerations counts calls to DeviceCount.
	Enumerations int
	// Reads records the addresses passed to ReadTemperature.
	Reads []Address
	// Resolutions records the resolution applied to each address.
	Resolutions map[Address]uint8
}

// NewFakeBus creates a FakeBus holding the given devices.
func NewFakeBus(devices ...FakeDevice) *FakeBus {
	return &FakeBus{
		Devices:     devices,
		FailAt:      -1,
		Resolutions: map[Address]uint8{},
	}
}

// Begin marks the bus as started.
func (f *FakeBus) Begin() error {
	if f.BeginError != nil {
		return f.BeginError
	}
	f.Begun = true
	return nil
}

// RequestConversions counts the conversion request.
func (f *FakeBus) RequestConversions() error {
	if f.ConvertError != nil {
		return f.ConvertError
	}
	f.Conversions++
	return nil
}

// DeviceCount returns the number of scripted devices.
func (f *FakeBus) DeviceCount() int {
	f.Enumerations++
	return len(f.Devices)
}

// AddressAt returns the address of the scripted device at pos.
func (f *FakeBus) AddressAt(pos int) (Address, bool) {
	if pos < 0 || pos >= len(f.Devices) {
		return Address{}, false
	}
	if f.FailAt >= 0 && pos >= f.FailAt {
		return Address{}, false
	}
	return f.Devices[pos].Addr, true
}

// ReadTemperature returns the scripted temperature of the device at addr.
func (f *FakeBus) ReadTemperature(addr Address) (logic.Temperature, error) {
	f.Reads = append(f.Reads, addr)
	for _, d := range f.Devices {
		if d.Addr != addr {
			continue
		}
		if d.ReadError != nil {
			return logic.Absent, d.ReadError
		}
		return d.Temperature, nil
	}
	return logic.Absent, ErrNoDevice
}

// SetResolution records the resolution for addr.
func (f *FakeBus) SetResolution(addr Address, bits uint8) error {
	for _, d := range f.Devices {
		if d.Addr == addr {
			f.Resolutions[addr] = bits
			return nil
		}
	}
	return ErrNoDevice
}

// SetTemperature changes the scripted temperature of the device at addr.
func (f *FakeBus) SetTemperature(addr Address, t logic.Temperature) error {
	for i := range f.Devices {
		if f.Devices[i].Addr == addr {
			f.Devices[i].Temperature = t
			return nil
		}
	}
	return errors.New("fake bus: unknown device " + addr.String())
}

// Remove takes the device at addr off the bus.
func (f *FakeBus) Remove(addr Address) {
	for i, d := range f.Devices {
		if d.Addr == addr {
			f.Devices = append(f.Devices[:i], f.Devices[i+1:]...)
			return
		}
	}
}

// Add appends a device to the end of the bus.
func (f *FakeBus) Add(d FakeDevice) {
	f.Devices = append(f.Devices, d)
}
