// Package store persists the runtime parameters and sensor addresses that can
// be changed while the controller is running.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/onewire"
	"github.com/sweeney/circ-pump/internal/sensors"
)

// DefaultPath is where the daemon keeps its state file.
const DefaultPath = "/var/lib/circ-pump/state.yaml"

// Config is the persisted controller state.
type Config struct {
	Control ControlConfig `yaml:"control"`
	Sensors SensorsConfig `yaml:"sensors"`
	Roles   RolesConfig   `yaml:"roles"`
}

// ControlConfig holds the pump control parameters.
type ControlConfig struct {
	FilterThreshold int32  `yaml:"filter_threshold"`
	MaxDifference   int16  `yaml:"max_difference"` // tenths of °C
	MinRunTime      uint32 `yaml:"min_run_time"`   // seconds
	MaxRunTime      uint32 `yaml:"max_run_time"`   // seconds
}

// SensorsConfig holds the poll settings and the channel table.
type SensorsConfig struct {
	RepeatInterval uint32          `yaml:"repeat_interval"` // milliseconds
	Resolution     uint8           `yaml:"resolution"`
	Channels       []ChannelConfig `yaml:"channels"`
}

// ChannelConfig describes one logical channel. Address is the expected
// address key in hex; empty means any new sensor may be assigned.
type ChannelConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address,omitempty"`
}

// RolesConfig maps the control inputs to channel indices.
type RolesConfig struct {
	Heater int `yaml:"heater"`
	Mixer  int `yaml:"mixer"`
	Return int `yaml:"return"`
}

// Default returns the configuration of a fresh installation.
func Default() *Config {
	p := logic.DefaultParams()
	return &Config{
		Control: ControlConfig{
			FilterThreshold: p.FilterThreshold,
			MaxDifference:   int16(p.MaxDifference),
			MinRunTime:      uint32(p.MinRunTime / 1000),
			MaxRunTime:      uint32(p.MaxRunTime / 1000),
		},
		Sensors: SensorsConfig{
			RepeatInterval: uint32(sensors.DefaultRepeatInterval),
			Resolution:     onewire.DefaultResolution,
			Channels: []ChannelConfig{
				{Name: "heater"},
				{Name: "mixer"},
				{Name: "return"},
				{Name: "spare"},
			},
		},
		Roles: RolesConfig{Heater: 0, Mixer: 1, Return: 2},
	}
}

// Load reads the configuration from a YAML file. A missing file yields the
// defaults; keys missing from the file keep their default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("state file %s: %w", filename, err)
	}
	return cfg, nil
}

// Save writes the configuration atomically: a temporary file in the same
// directory is renamed over filename.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (c *Config) ensureDefaults() {
	def := Default()
	if c.Sensors.RepeatInterval == 0 {
		c.Sensors.RepeatInterval = def.Sensors.RepeatInterval
	}
	if c.Sensors.Resolution == 0 {
		c.Sensors.Resolution = def.Sensors.Resolution
	}
	if len(c.Sensors.Channels) == 0 {
		c.Sensors.Channels = def.Sensors.Channels
	}
}

// Validate checks the channel table, roles and run times.
func (c *Config) Validate() error {
	n := len(c.Sensors.Channels)
	if n == 0 {
		return errors.New("no channels configured")
	}
	for name, idx := range map[string]int{"heater": c.Roles.Heater, "mixer": c.Roles.Mixer, "return": c.Roles.Return} {
		if idx < 0 || idx >= n {
			return fmt.Errorf("%s role refers to channel %d, have %d channels", name, idx, n)
		}
	}
	for i, ch := range c.Sensors.Channels {
		if ch.Address == "" {
			continue
		}
		if _, err := onewire.ParseKey(ch.Address); err != nil {
			return fmt.Errorf("channel %d address: %w", i, err)
		}
	}
	if r := c.Sensors.Resolution; r < 9 || r > 12 {
		return fmt.Errorf("resolution %d out of range 9..12", r)
	}
	if c.Control.MinRunTime > logic.MaxSeconds || c.Control.MaxRunTime > logic.MaxSeconds {
		return fmt.Errorf("run times must not exceed %d s", logic.MaxSeconds)
	}
	if c.Control.MinRunTime > c.Control.MaxRunTime {
		return fmt.Errorf("min_run_time %d s exceeds max_run_time %d s", c.Control.MinRunTime, c.Control.MaxRunTime)
	}
	return nil
}

// Params returns the control parameters.
func (c *Config) Params() logic.Params {
	return logic.Params{
		FilterThreshold: c.Control.FilterThreshold,
		MaxDifference:   logic.Temperature(c.Control.MaxDifference),
		MinRunTime:      logic.Seconds(c.Control.MinRunTime),
		MaxRunTime:      logic.Seconds(c.Control.MaxRunTime),
	}
}

// SetParams stores the control parameters. Run times are truncated to whole
// seconds.
func (c *Config) SetParams(p logic.Params) {
	c.Control = ControlConfig{
		FilterThreshold: p.FilterThreshold,
		MaxDifference:   int16(p.MaxDifference),
		MinRunTime:      uint32(p.MinRunTime / 1000),
		MaxRunTime:      uint32(p.MaxRunTime / 1000),
	}
}

// RepeatInterval returns the poll cycle length.
func (c *Config) RepeatInterval() logic.Millis {
	return logic.Millis(c.Sensors.RepeatInterval)
}

// Expectations returns the expected address of every channel. Entries that
// fail to parse are returned unset; Load rejects them.
func (c *Config) Expectations() []sensors.Expectation {
	out := make([]sensors.Expectation, len(c.Sensors.Channels))
	for i, ch := range c.Sensors.Channels {
		if ch.Address == "" {
			continue
		}
		if key, err := onewire.ParseKey(ch.Address); err == nil {
			out[i] = sensors.Expectation{Key: key, Set: true}
		}
	}
	return out
}

// SetAddress records the expected address key of a channel.
func (c *Config) SetAddress(channel int, key uint32) error {
	if channel < 0 || channel >= len(c.Sensors.Channels) {
		return fmt.Errorf("channel %d out of range", channel)
	}
	c.Sensors.Channels[channel].Address = onewire.FormatKey(key)
	return nil
}

// ClearAddress removes the expected address of a channel.
func (c *Config) ClearAddress(channel int) error {
	if channel < 0 || channel >= len(c.Sensors.Channels) {
		return fmt.Errorf("channel %d out of range", channel)
	}
	c.Sensors.Channels[channel].Address = ""
	return nil
}

// ChannelName returns the configured name of a channel, or its index.
func (c *Config) ChannelName(channel int) string {
	if channel >= 0 && channel < len(c.Sensors.Channels) && c.Sensors.Channels[channel].Name != "" {
		return c.Sensors.Channels[channel].Name
	}
	return fmt.Sprintf("ch%d", channel)
}
