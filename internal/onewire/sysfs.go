package onewire

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sweeney/circ-pump/internal/logic"
)

// DefaultSysfsRoot is where the Linux w1 subsystem exposes its devices.
const DefaultSysfsRoot = "/sys/bus/w1/devices"

// SysfsBus drives sensors through the Linux w1 kernel driver (w1-gpio +
// w1_therm). Conversions are started with the bus master's bulk read trigger
// so reading a device afterwards returns the converted value without waiting.
type SysfsBus struct {
	root    string
	masters []string
	devices []Address
}

// NewSysfsBus creates a driver rooted at the given sysfs devices directory.
func NewSysfsBus(root string) *SysfsBus {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &SysfsBus{root: root}
}

// Begin locates the bus masters.
func (b *SysfsBus) Begin() error {
	masters, err := filepath.Glob(filepath.Join(b.root, "w1_bus_master*"))
	if err != nil {
		return fmt.Errorf("find bus masters: %w", err)
	}
	if len(masters) == 0 {
		return fmt.Errorf("no w1 bus master under %s", b.root)
	}
	b.masters = masters
	return nil
}

// RequestConversions triggers a bulk conversion on every bus master.
func (b *SysfsBus) RequestConversions() error {
	var errs []error
	for _, m := range b.masters {
		if err := os.WriteFile(filepath.Join(m, "therm_bulk_read"), []byte("trigger\n"), 0); err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", filepath.Base(m), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("request conversions: %v", errs)
	}
	return nil
}

// DeviceCount re-reads the slave lists of all bus masters.
func (b *SysfsBus) DeviceCount() int {
	b.devices = b.devices[:0]
	for _, m := range b.masters {
		data, err := os.ReadFile(filepath.Join(m, "w1_master_slaves"))
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			name := strings.TrimSpace(sc.Text())
			if name == "" || name == "not found." {
				continue
			}
			addr, err := ParseAddress(name)
			if err != nil {
				continue
			}
			b.devices = append(b.devices, addr)
		}
	}
	return len(b.devices)
}

// AddressAt returns the address found at pos by the last DeviceCount.
func (b *SysfsBus) AddressAt(pos int) (Address, bool) {
	if pos < 0 || pos >= len(b.devices) {
		return Address{}, false
	}
	return b.devices[pos], true
}

// ReadTemperature reads the converted temperature of a device.
func (b *SysfsBus) ReadTemperature(addr Address) (logic.Temperature, error) {
	data, err := os.ReadFile(filepath.Join(b.root, addr.SysfsName(), "temperature"))
	if err != nil {
		if os.IsNotExist(err) {
			return logic.Absent, ErrNoDevice
		}
		return logic.Absent, fmt.Errorf("read %s: %w", addr.SysfsName(), err)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return logic.Absent, fmt.Errorf("parse %s temperature: %w", addr.SysfsName(), err)
	}
	return milliToTenths(milli), nil
}

// SetResolution writes the resolution of a device.
func (b *SysfsBus) SetResolution(addr Address, bits uint8) error {
	path := filepath.Join(b.root, addr.SysfsName(), "resolution")
	if err := os.WriteFile(path, []byte(strconv.Itoa(int(bits))+"\n"), 0); err != nil {
		return fmt.Errorf("set resolution %s: %w", addr.SysfsName(), err)
	}
	return nil
}

func milliToTenths(milli int) logic.Temperature {
	if milli < 0 {
		return logic.Temperature((milli - 50) / 100)
	}
	return logic.Temperature((milli + 50) / 100)
}
