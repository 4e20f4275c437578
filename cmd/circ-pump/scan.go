package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/onewire"
	"github.com/sweeney/circ-pump/internal/sensors"
	"github.com/sweeney/circ-pump/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// cell pads s to width after styling so columns line up.
func cell(style lipgloss.Style, s string, width int) string {
	r := style.Render(s)
	if pad := width - lipgloss.Width(r); pad > 0 {
		r += strings.Repeat(" ", pad)
	}
	return r
}

// scanBus lists every device on the bus with its key and the channel that
// expects it.
func scanBus(w io.Writer, bus onewire.Bus, cfg *store.Config) error {
	if err := bus.Begin(); err != nil {
		return fmt.Errorf("init bus: %w", err)
	}

	expected := cfg.Expectations()
	owner := func(addr onewire.Address) string {
		for ch, x := range expected {
			if x.Matches(addr) {
				return fmt.Sprintf("%d %s", ch, cfg.ChannelName(ch))
			}
		}
		return "-"
	}

	rows := []string{
		cell(headerStyle, "#", 4) + cell(headerStyle, "ADDRESS", 20) + cell(headerStyle, "KEY", 11) + cell(headerStyle, "CRC", 6) + headerStyle.Render("CHANNEL"),
	}
	n := bus.DeviceCount()
	for pos := 0; pos < n; pos++ {
		addr, ok := bus.AddressAt(pos)
		if !ok {
			break
		}
		crc := okStyle.Render("ok")
		if !addr.Valid() {
			crc = badStyle.Render("bad")
		}
		rows = append(rows, cell(dimStyle, fmt.Sprint(pos), 4)+
			cell(lipgloss.NewStyle(), addr.String(), 20)+
			cell(lipgloss.NewStyle(), onewire.FormatKey(addr.Key()), 11)+
			cell(lipgloss.NewStyle(), crc, 6)+
			owner(addr))
	}
	if len(rows) == 1 {
		rows = append(rows, dimStyle.Render("no devices found"))
	}

	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, rows...))
	return err
}

type readingCollector struct {
	readings map[int]logic.Temperature
}

func (c *readingCollector) TemperatureChanged(channel int, t logic.Temperature) {
	c.readings[channel] = t
}

func (c *readingCollector) AddressAssigned(int, onewire.Address) {}

// printState runs a single poll cycle and prints every channel.
func printState(w io.Writer, bus onewire.Bus, cfg *store.Config) error {
	return printStateWith(w, bus, cfg, time.Sleep)
}

func printStateWith(w io.Writer, bus onewire.Bus, cfg *store.Config, sleep func(time.Duration)) error {
	c := &readingCollector{readings: make(map[int]logic.Temperature)}
	e := sensors.New(bus, sensors.Config{
		Channels:       len(cfg.Sensors.Channels),
		Resolution:     cfg.Sensors.Resolution,
		ConvertTimeout: sensors.DefaultConvertTimeout,
		RepeatInterval: sensors.DefaultConvertTimeout,
	}, c)
	for ch, x := range cfg.Expectations() {
		if x.Set {
			e.SetAddress(ch, x.Key)
		}
	}

	e.Start(0)
	if err := e.Stats().BeginErr; err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	e.Tick(0) // request conversions
	sleep(sensors.DefaultConvertTimeout.Duration())
	e.Tick(sensors.DefaultConvertTimeout)

	for ch := 0; ch < e.Channels(); ch++ {
		t, ok := c.readings[ch]
		if !ok {
			t = logic.Absent
		}
		if _, err := fmt.Fprintf(w, "%d %s: %s\n", ch, cfg.ChannelName(ch), t); err != nil {
			return err
		}
	}
	return nil
}
