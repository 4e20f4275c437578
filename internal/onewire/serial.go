package onewire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/sweeney/circ-pump/internal/logic"
)

const (
	// DefaultBaudRate is the baud rate of the bridge firmware.
	DefaultBaudRate = 115200
	// DefaultSerialTimeout bounds the wait for a single bridge reply.
	DefaultSerialTimeout = 200 * time.Millisecond
)

var errBridgeTimeout = errors.New("bridge: reply timeout")

// SerialBus talks to a one-wire bridge microcontroller over a serial line.
// Each command is one text line and is answered by one line:
//
//	B                  -> OK               reset the bus
//	C                  -> OK               start conversion on all devices
//	N                  -> N <count>        enumerate the bus
//	A <pos>            -> A <address>      address at position
//	T <address>        -> T <tenths>       last converted temperature
//	R <address> <bits> -> OK               set resolution
//
// Any command may be answered with "ERR <reason>".
type SerialBus struct {
	conn    io.ReadWriteCloser
	pending []byte
	buf     [64]byte
	// maxEmpty is the number of consecutive empty reads treated as a timeout.
	maxEmpty int
}

// OpenSerialBus opens the bridge on the named serial port.
func OpenSerialBus(port string, baudRate int) (*SerialBus, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	if err := p.SetReadTimeout(DefaultSerialTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return NewSerialBus(p), nil
}

// NewSerialBus wraps an already open connection to the bridge. Reads from
// conn must return (0, nil) on timeout, as serial ports do.
func NewSerialBus(conn io.ReadWriteCloser) *SerialBus {
	return &SerialBus{conn: conn, maxEmpty: 1}
}

// Close closes the serial connection.
func (b *SerialBus) Close() error {
	return b.conn.Close()
}

// Begin resets the bridge.
func (b *SerialBus) Begin() error {
	_, err := b.expect("OK", "B")
	return err
}

// RequestConversions starts a conversion on all devices.
func (b *SerialBus) RequestConversions() error {
	_, err := b.expect("OK", "C")
	return err
}

// DeviceCount enumerates the bus. Failures count as an empty bus.
func (b *SerialBus) DeviceCount() int {
	arg, err := b.expect("N", "N")
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// AddressAt returns the address at bus position pos.
func (b *SerialBus) AddressAt(pos int) (Address, bool) {
	arg, err := b.expect("A", "A %d", pos)
	if err != nil {
		return Address{}, false
	}
	addr, err := ParseAddress(arg)
	if err != nil || !addr.Valid() {
		return Address{}, false
	}
	return addr, true
}

// ReadTemperature returns the last converted temperature of a device.
func (b *SerialBus) ReadTemperature(addr Address) (logic.Temperature, error) {
	arg, err := b.expect("T", "T %s", addr)
	if err != nil {
		return logic.Absent, err
	}
	v, err := strconv.ParseInt(arg, 10, 16)
	if err != nil {
		return logic.Absent, fmt.Errorf("bridge: bad temperature %q: %w", arg, err)
	}
	return logic.Temperature(v), nil
}

// SetResolution sets the resolution of a device.
func (b *SerialBus) SetResolution(addr Address, bits uint8) error {
	_, err := b.expect("OK", "R %s %d", addr, bits)
	return err
}

// expect sends a command and returns the argument of a reply starting with want.
func (b *SerialBus) expect(want, format string, args ...any) (string, error) {
	cmd := fmt.Sprintf(format, args...)
	if _, err := b.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("bridge: write %q: %w", cmd, err)
	}
	line, err := b.readLine()
	if err != nil {
		return "", fmt.Errorf("bridge: %q: %w", cmd, err)
	}
	word, arg, _ := strings.Cut(line, " ")
	switch word {
	case want:
		return arg, nil
	case "ERR":
		if arg == "" {
			return "", ErrNoDevice
		}
		return "", fmt.Errorf("bridge: %q: %s", cmd, arg)
	default:
		return "", fmt.Errorf("bridge: %q: unexpected reply %q", cmd, line)
	}
}

func (b *SerialBus) readLine() (string, error) {
	empty := 0
	for {
		if i := bytes.IndexByte(b.pending, '\n'); i >= 0 {
			line := strings.TrimRight(string(b.pending[:i]), "\r")
			b.pending = b.pending[i+1:]
			return line, nil
		}
		n, err := b.conn.Read(b.buf[:])
		if n > 0 {
			b.pending = append(b.pending, b.buf[:n]...)
			empty = 0
			continue
		}
		if err != nil {
			return "", err
		}
		empty++
		if empty >= b.maxEmpty {
			b.pending = b.pending[:0]
			return "", errBridgeTimeout
		}
	}
}
