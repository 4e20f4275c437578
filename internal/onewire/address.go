// Package onewire describes one-wire temperature sensor buses: device
// addresses and the driver contract the sensor engine is built on, plus a
// sysfs driver, a serial bridge driver and a fake for tests.
package onewire

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Address is a 64-bit one-wire ROM code in wire order: family code, 48-bit
// serial number (least significant byte first), CRC.
type Address [8]byte

// FamilyDS18B20 is the family code of DS18B20 temperature sensors.
const FamilyDS18B20 = 0x28

// NewAddress builds an address from a family code and serial number and
// appends the matching CRC.
func NewAddress(family byte, serial uint64) Address {
	var a Address
	a[0] = family
	for i := 0; i < 6; i++ {
		a[1+i] = byte(serial >> (8 * i))
	}
	a[7] = CRC8(a[:7])
	return a
}

// Family returns the family code.
func (a Address) Family() byte {
	return a[0]
}

// Serial returns the 48-bit serial number.
func (a Address) Serial() uint64 {
	var s uint64
	for i := 5; i >= 0; i-- {
		s = s<<8 | uint64(a[1+i])
	}
	return s
}

// CRC returns the CRC byte.
func (a Address) CRC() byte {
	return a[7]
}

// Valid reports whether the CRC byte matches the rest of the address.
func (a Address) Valid() bool {
	return CRC8(a[:7]) == a[7]
}

// Uint64 returns the full identifier with the family code in the most
// significant byte and the CRC in the least significant byte.
func (a Address) Uint64() uint64 {
	var v uint64
	for _, b := range a {
		v = v<<8 | uint64(b)
	}
	return v
}

// Key returns the low 32 bits of Uint64 (serial tail and CRC). Persisted
// channel expectations are compared against this value.
func (a Address) Key() uint32 {
	return uint32(a.Uint64())
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the ROM code as 16 hex digits in wire order.
func (a Address) String() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// SysfsName returns the name the Linux w1 subsystem gives the device,
// for example "28-0316a2794aff".
func (a Address) SysfsName() string {
	return fmt.Sprintf("%02x-%012x", a.Family(), a.Serial())
}

// ParseAddress parses either the 16 hex digit wire-order form produced by
// String or the Linux sysfs form "ff-ssssssssssss".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if fam, ser, ok := strings.Cut(s, "-"); ok {
		f, err := strconv.ParseUint(fam, 16, 8)
		if err != nil {
			return Address{}, fmt.Errorf("parse family %q: %w", fam, err)
		}
		n, err := strconv.ParseUint(ser, 16, 48)
		if err != nil {
			return Address{}, fmt.Errorf("parse serial %q: %w", ser, err)
		}
		return NewAddress(byte(f), n), nil
	}

	if len(s) != 16 {
		return Address{}, fmt.Errorf("address %q: want 16 hex digits", s)
	}
	var a Address
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return Address{}, fmt.Errorf("address %q: %w", s, err)
	}
	return a, nil
}

// FormatKey renders a channel expectation key the way it is persisted.
func FormatKey(key uint32) string {
	return fmt.Sprintf("%08x", key)
}

// ParseKey parses a persisted channel expectation key.
func ParseKey(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse key %q: %w", s, err)
	}
	return uint32(v), nil
}
