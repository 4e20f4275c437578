package sensors

import (
	"fmt"

	"github.com/sweeney/circ-pump/internal/onewire"
)

// VacatedSlotPolicy decides what happens to a channel whose expected device
// is no longer on the bus when an unknown device shows up.
type VacatedSlotPolicy int

const (
	// KeepReserved never hands a channel with an expectation to another
	// device. The channel reports Absent until its device returns or the
	// expectation is cleared.
	KeepReserved VacatedSlotPolicy = iota
	// Reassign lets any channel left unbound by the current pass be claimed.
	Reassign
)

func (p VacatedSlotPolicy) String() string {
	switch p {
	case Reassign:
		return "reassign"
	default:
		return "reserve"
	}
}

// ParsePolicy parses the String form of a policy.
func ParsePolicy(s string) (VacatedSlotPolicy, error) {
	switch s {
	case "reserve", "":
		return KeepReserved, nil
	case "reassign":
		return Reassign, nil
	}
	return KeepReserved, fmt.Errorf("unknown slot policy %q", s)
}

// Expectation is the persisted address key a channel is waiting for.
type Expectation struct {
	Key uint32
	Set bool
}

// Matches reports whether addr satisfies the expectation.
func (x Expectation) Matches(addr onewire.Address) bool {
	return x.Set && x.Key == addr.Key()
}

func (x Expectation) String() string {
	if !x.Set {
		return "-"
	}
	return onewire.FormatKey(x.Key)
}

const noBinding = -1

type slot struct {
	expect Expectation
	bound  int // index into mapper.bound
}

type assignment struct {
	slot int
	addr onewire.Address
}

// mapper binds channels to the devices found by the last bus scan.
type mapper struct {
	policy VacatedSlotPolicy
	slots  []slot
	seen   []onewire.Address // last scan, bus order
	bound  []onewire.Address // devices bound in the current pass
}

func newMapper(channels int, policy VacatedSlotPolicy) *mapper {
	m := &mapper{
		policy: policy,
		slots:  make([]slot, channels),
		bound:  make([]onewire.Address, 0, channels),
	}
	for i := range m.slots {
		m.slots[i].bound = noBinding
	}
	return m
}

func (m *mapper) expect(channel int, x Expectation) bool {
	if channel < 0 || channel >= len(m.slots) {
		return false
	}
	m.slots[channel].expect = x
	return true
}

// bind drops all bindings and binds every seen device to the first unbound
// channel expecting it. A device binds at most one channel.
func (m *mapper) bind() {
	m.bound = m.bound[:0]
	for i := range m.slots {
		m.slots[i].bound = noBinding
	}
	for _, addr := range m.seen {
		if len(m.bound) == len(m.slots) {
			return
		}
		for i := range m.slots {
			s := &m.slots[i]
			if s.bound == noBinding && s.expect.Matches(addr) {
				s.bound = len(m.bound)
				m.bound = append(m.bound, addr)
				break
			}
		}
	}
}

// assignFree binds seen devices that no channel expects to free channels,
// in bus order, and records them as the channels' new expectations.
func (m *mapper) assignFree() []assignment {
	if len(m.bound) == len(m.seen) || len(m.bound) == len(m.slots) {
		return nil
	}
	var out []assignment
	for _, addr := range m.seen {
		if m.isBound(addr) || m.isExpected(addr) {
			continue
		}
		free := m.freeSlot()
		if free == noBinding {
			break
		}
		s := &m.slots[free]
		s.expect = Expectation{Key: addr.Key(), Set: true}
		s.bound = len(m.bound)
		m.bound = append(m.bound, addr)
		out = append(out, assignment{slot: free, addr: addr})
	}
	return out
}

func (m *mapper) freeSlot() int {
	for i, s := range m.slots {
		if s.bound != noBinding {
			continue
		}
		if !s.expect.Set || m.policy == Reassign {
			return i
		}
	}
	return noBinding
}

func (m *mapper) isBound(addr onewire.Address) bool {
	for _, b := range m.bound {
		if b == addr {
			return true
		}
	}
	return false
}

func (m *mapper) isExpected(addr onewire.Address) bool {
	for _, s := range m.slots {
		if s.expect.Matches(addr) {
			return true
		}
	}
	return false
}

func (m *mapper) addressOf(channel int) (onewire.Address, bool) {
	if channel < 0 || channel >= len(m.slots) {
		return onewire.Address{}, false
	}
	b := m.slots[channel].bound
	if b == noBinding {
		return onewire.Address{}, false
	}
	return m.bound[b], true
}
