package onewire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/circ-pump/internal/logic"
)

// bridgeSim answers bridge commands like the firmware would.
type bridgeSim struct {
	devices  []Address
	temps    map[Address]logic.Temperature
	res      map[Address]int
	convs    int
	silent   bool
	commands []string
	out      bytes.Buffer
	closed   bool
}

func newBridgeSim(devices ...Address) *bridgeSim {
	return &bridgeSim{
		devices: devices,
		temps:   map[Address]logic.Temperature{},
		res:     map[Address]int{},
	}
}

func (s *bridgeSim) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		s.commands = append(s.commands, line)
		if s.silent {
			continue
		}
		fmt.Fprintf(&s.out, "%s\r\n", s.reply(strings.Fields(line)))
	}
	return len(p), nil
}

func (s *bridgeSim) reply(f []string) string {
	switch f[0] {
	case "B":
		return "OK"
	case "C":
		s.convs++
		return "OK"
	case "N":
		return "N " + strconv.Itoa(len(s.devices))
	case "A":
		pos, _ := strconv.Atoi(f[1])
		if pos >= len(s.devices) {
			return "ERR"
		}
		return "A " + s.devices[pos].String()
	case "T":
		a, err := ParseAddress(f[1])
		if err != nil {
			return "ERR bad address"
		}
		t, ok := s.temps[a]
		if !ok {
			return "ERR"
		}
		return "T " + strconv.Itoa(int(t))
	case "R":
		a, _ := ParseAddress(f[1])
		bits, _ := strconv.Atoi(f[2])
		s.res[a] = bits
		return "OK"
	}
	return "ERR unknown command"
}

// Read returns (0, nil) when there is nothing to read, like a serial port
// read timing out.
func (s *bridgeSim) Read(p []byte) (int, error) {
	if s.out.Len() == 0 {
		return 0, nil
	}
	return s.out.Read(p)
}

func (s *bridgeSim) Close() error {
	s.closed = true
	return nil
}

func TestSerialBusSession(t *testing.T) {
	a := NewAddress(FamilyDS18B20, 0x0316a2794aff)
	c := NewAddress(FamilyDS18B20, 0x42)
	sim := newBridgeSim(a, c)
	sim.temps[a] = 215
	sim.temps[c] = -55

	b := NewSerialBus(sim)
	require.NoError(t, b.Begin())
	require.Equal(t, 2, b.DeviceCount())

	got, ok := b.AddressAt(0)
	require.True(t, ok)
	assert.Equal(t, a, got)
	got, ok = b.AddressAt(1)
	require.True(t, ok)
	assert.Equal(t, c, got)
	_, ok = b.AddressAt(2)
	assert.False(t, ok)

	require.NoError(t, b.SetResolution(a, 9))
	assert.Equal(t, 9, sim.res[a])

	require.NoError(t, b.RequestConversions())
	assert.Equal(t, 1, sim.convs)

	v, err := b.ReadTemperature(a)
	require.NoError(t, err)
	assert.Equal(t, logic.Temperature(215), v)
	v, err = b.ReadTemperature(c)
	require.NoError(t, err)
	assert.Equal(t, logic.Temperature(-55), v)

	require.NoError(t, b.Close())
	assert.True(t, sim.closed)
}

func TestSerialBusMissingDevice(t *testing.T) {
	b := NewSerialBus(newBridgeSim())
	v, err := b.ReadTemperature(NewAddress(FamilyDS18B20, 7))
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.Equal(t, logic.Absent, v)
}

func TestSerialBusTimeout(t *testing.T) {
	sim := newBridgeSim()
	sim.silent = true
	b := NewSerialBus(sim)

	err := b.Begin()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBridgeTimeout)
	assert.Equal(t, 0, b.DeviceCount())

	// The bridge recovers and later replies are matched to later commands.
	sim.silent = false
	assert.NoError(t, b.RequestConversions())
}

func TestSerialBusRejectsCorruptAddress(t *testing.T) {
	sim := newBridgeSim()
	bad := NewAddress(FamilyDS18B20, 1)
	bad[7] ^= 0xff
	sim.devices = []Address{bad}

	b := NewSerialBus(sim)
	_, ok := b.AddressAt(0)
	assert.False(t, ok)
}

func TestSerialBusUnexpectedReply(t *testing.T) {
	sim := newBridgeSim()
	b := NewSerialBus(sim)
	_, err := b.expect("OK", "N")
	assert.ErrorContains(t, err, "unexpected reply")
}
