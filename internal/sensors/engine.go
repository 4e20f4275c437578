// Package sensors maps physical one-wire sensors to logical measurement
// channels and polls them without blocking the control loop.
//
// An Engine owns all of its state and must only be used from the goroutine
// that calls Tick.
package sensors

import (
	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/onewire"
)

const (
	// DefaultConvertTimeout is the worst-case conversion time of a DS18B20.
	DefaultConvertTimeout logic.Millis = 1000
	// DefaultRepeatInterval is the default length of a full poll cycle.
	DefaultRepeatInterval logic.Millis = 10000
)

// Listener receives engine events. Both methods are called synchronously from
// Tick, Start or Rescan, any number of times.
type Listener interface {
	// TemperatureChanged reports the reading of a channel once per poll cycle.
	// Unbound or unreadable channels report logic.Absent.
	TemperatureChanged(channel int, t logic.Temperature)
	// AddressAssigned reports that a previously unknown device was bound to
	// channel, so its address can be persisted.
	AddressAssigned(channel int, addr onewire.Address)
}

// Config configures an Engine.
type Config struct {
	// Channels is the number of logical channels (and the mapping capacity).
	Channels int
	// Resolution is applied to every mapped sensor, in bits.
	Resolution uint8
	// ConvertTimeout is the time allowed for a conversion to complete.
	ConvertTimeout logic.Millis
	// RepeatInterval is the total length of a poll cycle.
	RepeatInterval logic.Millis
	// Policy decides whether slots with an expectation can be claimed by new devices.
	Policy VacatedSlotPolicy
	// AutoAssign makes Start run Rescan instead of MapAddresses.
	AutoAssign bool
}

// Stats counts engine activity since creation.
type Stats struct {
	Cycles           int
	Conversions      int
	ConvertErrors    int
	ReadErrors       int
	Assignments      int
	Scans            int
	BusDevices       int
	ResolutionErrors int
	BeginErr         error
}

// Engine combines the channel mapper and the poll scheduler.
type Engine struct {
	bus      onewire.Bus
	listener Listener
	cfg      Config
	mapper   *mapper
	poll     poller
	started  bool
	stats    Stats
}

// New creates an engine for bus. listener may be nil.
func New(bus onewire.Bus, cfg Config, listener Listener) *Engine {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Resolution == 0 {
		cfg.Resolution = onewire.DefaultResolution
	}
	if cfg.ConvertTimeout == 0 {
		cfg.ConvertTimeout = DefaultConvertTimeout
	}
	if cfg.RepeatInterval == 0 {
		cfg.RepeatInterval = DefaultRepeatInterval
	}
	e := &Engine{
		bus:      bus,
		listener: listener,
		cfg:      cfg,
		mapper:   newMapper(cfg.Channels, cfg.Policy),
	}
	e.poll.convertTimeout = cfg.ConvertTimeout
	e.poll.setRepeatInterval(cfg.RepeatInterval)
	return e
}

// Start initializes the bus, maps the sensors and arms the poll cycle at now.
func (e *Engine) Start(now logic.Millis) {
	if err := e.bus.Begin(); err != nil {
		e.stats.BeginErr = err
	}
	if e.cfg.AutoAssign {
		e.Rescan()
	} else {
		e.MapAddresses()
	}
	e.poll.arm(now)
	e.started = true
}

// Started reports whether Start has been called.
func (e *Engine) Started() bool {
	return e.started
}

// MapAddresses enumerates the bus and rebuilds all bindings from the
// persisted expectations.
func (e *Engine) MapAddresses() {
	e.scan()
	e.rebind()
}

// Rescan rebuilds the bindings like MapAddresses, then assigns devices that
// match no expectation to free channels. AddressAssigned fires once for each
// new assignment.
func (e *Engine) Rescan() {
	e.MapAddresses()
	for _, a := range e.mapper.assignFree() {
		e.stats.Assignments++
		e.setResolution(a.addr)
		if e.listener != nil {
			e.listener.AddressAssigned(a.slot, a.addr)
		}
	}
}

// SetAddress sets the expected address key of a channel. A started engine
// re-evaluates its bindings against the devices found by the last scan.
func (e *Engine) SetAddress(channel int, key uint32) {
	if !e.mapper.expect(channel, Expectation{Key: key, Set: true}) {
		return
	}
	if e.started {
		e.rebind()
	}
}

// ClearAddress removes the expectation of a channel, making it free for
// assignment by the next Rescan.
func (e *Engine) ClearAddress(channel int) {
	if !e.mapper.expect(channel, Expectation{}) {
		return
	}
	if e.started {
		e.rebind()
	}
}

// rebind re-evaluates the bindings against the last scan and applies the
// resolution to every bound device.
func (e *Engine) rebind() {
	e.mapper.bind()
	e.applyResolution(e.mapper.bound)
}

// SetRepeatInterval sets the total poll cycle length.
func (e *Engine) SetRepeatInterval(total logic.Millis) {
	e.cfg.RepeatInterval = total
	e.poll.setRepeatInterval(total)
}

// RepeatInterval returns the configured total poll cycle length.
func (e *Engine) RepeatInterval() logic.Millis {
	return e.cfg.RepeatInterval
}

// Tick advances the poll cycle. It never blocks on a conversion.
func (e *Engine) Tick(now logic.Millis) {
	if !e.started {
		return
	}
	switch e.poll.advance(now) {
	case actionConvert:
		e.stats.Conversions++
		if err := e.bus.RequestConversions(); err != nil {
			e.stats.ConvertErrors++
		}
	case actionRead:
		e.stats.Cycles++
		e.readAll()
	}
}

func (e *Engine) readAll() {
	for ch := range e.mapper.slots {
		t := logic.Absent
		if addr, ok := e.mapper.addressOf(ch); ok {
			v, err := e.bus.ReadTemperature(addr)
			if err != nil {
				e.stats.ReadErrors++
			} else {
				t = v
			}
		}
		if e.listener != nil {
			e.listener.TemperatureChanged(ch, t)
		}
	}
}

func (e *Engine) scan() {
	e.stats.Scans++
	n := e.bus.DeviceCount()
	seen := make([]onewire.Address, 0, n)
	for pos := 0; pos < n; pos++ {
		addr, ok := e.bus.AddressAt(pos)
		if !ok {
			break
		}
		seen = append(seen, addr)
	}
	e.stats.BusDevices = len(seen)
	e.mapper.seen = seen
}

func (e *Engine) applyResolution(addrs []onewire.Address) {
	for _, a := range addrs {
		e.setResolution(a)
	}
}

func (e *Engine) setResolution(a onewire.Address) {
	if err := e.bus.SetResolution(a, e.cfg.Resolution); err != nil {
		e.stats.ResolutionErrors++
	}
}

// Channels returns the number of channels.
func (e *Engine) Channels() int {
	return len(e.mapper.slots)
}

// Slot describes one channel for status reporting.
type Slot struct {
	Channel  int
	Expected Expectation
	Bound    bool
	Address  onewire.Address
}

// Slots returns the current state of every channel.
func (e *Engine) Slots() []Slot {
	out := make([]Slot, len(e.mapper.slots))
	for i, s := range e.mapper.slots {
		out[i] = Slot{Channel: i, Expected: s.expect}
		if addr, ok := e.mapper.addressOf(i); ok {
			out[i].Bound = true
			out[i].Address = addr
		}
	}
	return out
}

// Seen returns the devices found by the last bus scan, in bus order.
func (e *Engine) Seen() []onewire.Address {
	return append([]onewire.Address(nil), e.mapper.seen...)
}

// Stats returns a copy of the activity counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Phase returns the current poll phase.
func (e *Engine) Phase() Phase {
	return e.poll.phase
}
