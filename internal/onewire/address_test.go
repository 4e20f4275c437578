package onewire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC8KnownVector(t *testing.T) {
	// Maxim application note 27 example ROM.
	rom := []byte{0x02, 0x1C, 0xB8, 0x01, 0x00, 0x00, 0x00}
	assert.Equal(t, byte(0xA2), CRC8(rom))
	assert.Equal(t, byte(0), CRC8(append(rom, 0xA2)))
}

func TestNewAddress(t *testing.T) {
	a := NewAddress(FamilyDS18B20, 0x0316a2794aff)

	assert.Equal(t, byte(0x28), a.Family())
	assert.Equal(t, uint64(0x0316a2794aff), a.Serial())
	assert.True(t, a.Valid())
	assert.Equal(t, Address{0x28, 0xff, 0x4a, 0x79, 0xa2, 0x16, 0x03, a.CRC()}, a)
	assert.Equal(t, "28-0316a2794aff", a.SysfsName())
}

func TestAddressKeyIsLow32Bits(t *testing.T) {
	a := Address{0x28, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}

	assert.Equal(t, uint64(0x2811223344556677), a.Uint64())
	assert.Equal(t, uint32(0x44556677), a.Key())

	// Addresses that differ only in the high half share a key.
	b := a
	b[1] = 0x99
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a, b)
}

func TestParseAddress(t *testing.T) {
	a := NewAddress(FamilyDS18B20, 0x0316a2794aff)

	got, err := ParseAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = ParseAddress("28-0316a2794aff\n")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	for _, bad := range []string{"", "28FF", "zz-0316a2794aff", "28-xyz", "ZZFF4A79A2160303"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddressStringAndZero(t *testing.T) {
	var z Address
	assert.True(t, z.IsZero())
	assert.True(t, z.Valid())

	a := Address{0x28, 0xff, 0x4a, 0x79, 0xa2, 0x16, 0x03, 0x5c}
	assert.Equal(t, "28FF4A79A216035C", a.String())
}

func TestKeyRoundTrip(t *testing.T) {
	assert.Equal(t, "0016a2ff", FormatKey(0x16a2ff))

	v, err := ParseKey("0x16A2FF")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x16a2ff), v)

	_, err = ParseKey("1ffffffff")
	assert.Error(t, err)
	_, err = ParseKey("")
	assert.Error(t, err)
}
