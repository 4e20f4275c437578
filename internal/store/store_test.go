package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/sensors"
)

func TestDefaultMatchesControlDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, logic.DefaultParams(), cfg.Params())
	assert.Equal(t, sensors.DefaultRepeatInterval, cfg.RepeatInterval())
	assert.Len(t, cfg.Sensors.Channels, 4)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("control:\n  filter_threshold: 200\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.Params()
	assert.Equal(t, int32(200), p.FilterThreshold)
	assert.Equal(t, logic.Temperature(50), p.MaxDifference)
	assert.Equal(t, logic.Seconds(10), p.MinRunTime)
	assert.Equal(t, logic.Seconds(300), p.MaxRunTime)
	assert.Len(t, cfg.Sensors.Channels, 4)
	assert.Equal(t, uint8(9), cfg.Sensors.Resolution)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("control: [\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	data := "sensors:\n  channels:\n    - name: heater\n      address: nothex\n    - name: mixer\n    - name: return\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "channel 0 address")
}

func TestLoadRejectsRoleOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	data := "sensors:\n  channels:\n    - name: only\nroles:\n  heater: 0\n  mixer: 0\n  return: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "return role")
}

func TestLoadRejectsWrappingRunTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	// 4294968 s would wrap the millisecond clock to 704 ms.
	data := "control:\n  max_run_time: 4294968\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "must not exceed")
}

func TestLoadAcceptsLargestRunTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	data := "control:\n  max_run_time: 4294967\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, logic.Seconds(logic.MaxSeconds), cfg.Params().MaxRunTime)
}

func TestLoadRejectsMinAboveMax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	data := "control:\n  min_run_time: 600\n  max_run_time: 300\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "exceeds max_run_time")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	cfg := Default()
	cfg.SetParams(logic.Params{
		FilterThreshold: -12,
		MaxDifference:   75,
		MinRunTime:      logic.Seconds(20),
		MaxRunTime:      logic.Seconds(600),
	})
	cfg.Sensors.RepeatInterval = 5000
	require.NoError(t, cfg.SetAddress(1, 0x1b4aff2c))
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	x := loaded.Expectations()
	require.Len(t, x, 4)
	assert.Equal(t, sensors.Expectation{Key: 0x1b4aff2c, Set: true}, x[1])
	assert.False(t, x[0].Set)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	cfg := Default()
	require.NoError(t, cfg.Save(path))
	cfg.Control.FilterThreshold = 1
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loaded.Control.FilterThreshold)
}

func TestSetAndClearAddress(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.SetAddress(2, 0xab))
	assert.Equal(t, "000000ab", cfg.Sensors.Channels[2].Address)

	require.NoError(t, cfg.ClearAddress(2))
	assert.Empty(t, cfg.Sensors.Channels[2].Address)

	assert.Error(t, cfg.SetAddress(4, 1))
	assert.Error(t, cfg.ClearAddress(-1))
}

func TestSetParamsTruncatesToSeconds(t *testing.T) {
	cfg := Default()
	cfg.SetParams(logic.Params{MinRunTime: 1999, MaxRunTime: 2500})
	assert.Equal(t, uint32(1), cfg.Control.MinRunTime)
	assert.Equal(t, uint32(2), cfg.Control.MaxRunTime)
}

func TestChannelName(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "heater", cfg.ChannelName(0))
	assert.Equal(t, "ch7", cfg.ChannelName(7))
	cfg.Sensors.Channels[3].Name = ""
	assert.Equal(t, "ch3", cfg.ChannelName(3))
}
