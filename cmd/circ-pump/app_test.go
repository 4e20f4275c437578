package main

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/circ-pump/internal/gpio"
	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/mqtt"
	"github.com/sweeney/circ-pump/internal/onewire"
	"github.com/sweeney/circ-pump/internal/status"
	"github.com/sweeney/circ-pump/internal/store"
	"github.com/sweeney/circ-pump/internal/telemetry"
)

var wallStart = time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)

func sensorAddr(n uint64) onewire.Address {
	return onewire.NewAddress(onewire.FamilyDS18B20, n<<32|n<<24|0x4aff)
}

var (
	heaterAddr = sensorAddr(1)
	mixerAddr  = sensorAddr(2)
	returnAddr = sensorAddr(3)
)

type fixture struct {
	bus   *onewire.FakeBus
	relay *gpio.FakeRelay
	pub   *mqtt.FakePublisher
	sink  *telemetry.FakeSink
	cfg   *store.Config
	path  string
	app   *app
	now   logic.Millis
}

type fixtureOpts struct {
	publishAll bool
	autoAssign bool
	unmapped   bool // leave the store without expectations
	noStart    bool // runLoop starts the app
	threshold  *int32
}

// newFixture builds an app over a fake bus holding heater, mixer and return
// sensors, with a one-second poll cycle.
func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	f := &fixture{
		bus: onewire.NewFakeBus(
			onewire.FakeDevice{Addr: heaterAddr, Temperature: 200},
			onewire.FakeDevice{Addr: mixerAddr, Temperature: 300},
			onewire.FakeDevice{Addr: returnAddr, Temperature: 300},
		),
		relay: gpio.NewFakeRelay(),
		pub:   mqtt.NewFakePublisher(),
		sink:  &telemetry.FakeSink{},
		cfg:   store.Default(),
		path:  filepath.Join(t.TempDir(), "state.yaml"),
	}
	f.cfg.Sensors.RepeatInterval = 1000
	if o.threshold != nil {
		f.cfg.Control.FilterThreshold = *o.threshold
	}
	if !o.unmapped {
		f.cfg.SetAddress(0, heaterAddr.Key())
		f.cfg.SetAddress(1, mixerAddr.Key())
		f.cfg.SetAddress(2, returnAddr.Key())
	}
	f.app = newApp(appOptions{
		Bus:        f.bus,
		Relay:      f.relay,
		Publisher:  f.pub,
		Sink:       f.sink,
		Store:      f.cfg,
		StorePath:  f.path,
		AutoAssign: o.autoAssign,
		PublishAll: o.publishAll,
		Wall:       func() time.Time { return wallStart.Add(time.Duration(f.now) * time.Millisecond) },
	})
	if !o.noStart {
		f.app.start(0)
	}
	return f
}

// cycle runs one convert/read cycle with the given heater reading.
func (f *fixture) cycle(heater logic.Temperature) {
	f.bus.SetTemperature(heaterAddr, heater)
	f.app.tick(f.now) // convert
	f.now += 1000
	f.app.tick(f.now) // read
	f.now += 1000
}

func (f *fixture) setDifferential(mixer, ret logic.Temperature) {
	f.bus.SetTemperature(mixerAddr, mixer)
	f.bus.SetTemperature(returnAddr, ret)
}

func TestAppMapsPersistedAddresses(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	slots := f.app.engine.Slots()
	want := []onewire.Address{heaterAddr, mixerAddr, returnAddr}
	for i, addr := range want {
		if !slots[i].Bound || slots[i].Address != addr {
			t.Errorf("channel %d: got bound=%v %s, want %s", i, slots[i].Bound, slots[i].Address, addr)
		}
	}
	if slots[3].Bound {
		t.Error("spare channel should be unbound")
	}
}

func TestAppPumpStartsOnRisingHeater(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	for i := 0; i < logic.RingSize; i++ {
		f.cycle(200)
	}
	if f.app.controller.Warm() {
		t.Fatal("filter should still be warming up after 16 samples")
	}

	// First computed value is 200 (below threshold), the next is 550.
	f.cycle(400)
	if f.relay.On {
		t.Fatal("pump should not start on a filtered value of 200")
	}
	f.cycle(400)
	if !f.relay.On {
		t.Fatalf("expected pump on, filtered=%d", f.app.controller.Filtered())
	}

	if len(f.pub.PumpEvents) != 1 || f.pub.PumpEvents[0].Event.Type != logic.EventPumpOn {
		t.Fatalf("expected one PUMP_ON, got %+v", f.pub.PumpEvents)
	}
	if f.pub.PumpEvents[0].Event.Filtered != 550 {
		t.Errorf("filtered at start: got %d, want 550", f.pub.PumpEvents[0].Event.Filtered)
	}

	var pumpRecords int
	for _, r := range f.sink.Records {
		if r.Kind == telemetry.KindPump {
			pumpRecords++
		}
	}
	if pumpRecords != 1 {
		t.Errorf("expected 1 pump telemetry record, got %d", pumpRecords)
	}
}

func startPump(t *testing.T, f *fixture) {
	t.Helper()
	for i := 0; i < logic.RingSize; i++ {
		f.cycle(200)
	}
	f.cycle(400)
	f.cycle(400)
	if !f.relay.On {
		t.Fatal("pump did not start")
	}
}

func TestAppPumpStopsOnSmallDifferential(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.setDifferential(400, 300)
	startPump(t, f)

	// Differential of 10.0°C keeps it running past the minimum run time
	for i := 0; i < 10; i++ {
		f.cycle(400)
	}
	if !f.relay.On {
		t.Fatal("pump should keep running while the differential is large")
	}

	f.setDifferential(320, 300)
	f.cycle(400)
	if f.relay.On {
		t.Fatal("pump should stop once the differential drops below 5.0°C")
	}

	if len(f.pub.PumpEvents) != 2 {
		t.Fatalf("expected 2 pump events, got %d", len(f.pub.PumpEvents))
	}
	off := f.pub.PumpEvents[1].Event
	if off.Type != logic.EventPumpOff || off.Differential != 20 {
		t.Errorf("unexpected stop event: %+v", off)
	}
	if off.RunTime <= logic.Seconds(10) {
		t.Errorf("run time %v should exceed the minimum", off.RunTime.Duration())
	}
	if got := f.relay.History; len(got) != 2 || !got[0] || got[1] {
		t.Errorf("relay history: got %v, want [true false]", got)
	}
}

func TestAppMinimumRunTimeHoldsPump(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.setDifferential(300, 300)
	startPump(t, f)

	// Zero differential, but the first 10 s are protected.
	for i := 0; i < 4; i++ {
		f.cycle(400)
		if !f.relay.On {
			t.Fatalf("pump stopped after %d cycles, inside the minimum run time", i+1)
		}
	}
	for i := 0; i < 3; i++ {
		f.cycle(400)
	}
	if f.relay.On {
		t.Error("pump should stop after the minimum run time")
	}
}

func TestAppAbsentHeaterNotSampled(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.bus.Remove(heaterAddr)
	f.app.engine.MapAddresses()

	for i := 0; i < 2*logic.RingSize; i++ {
		f.cycle(200)
	}
	if f.app.controller.Warm() {
		t.Error("absent heater readings must not warm the filter")
	}
	if f.app.readings[0] != logic.Absent {
		t.Errorf("heater reading: got %s, want absent", f.app.readings[0])
	}
}

func TestAppRelayErrorDoesNotStopControl(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.relay.SetError = errors.New("gpio busy")
	startPumpNoRelayCheck(f)

	if !f.app.controller.Running() {
		t.Error("controller should run even when the relay fails")
	}
	if len(f.pub.PumpEvents) != 1 {
		t.Errorf("expected PUMP_ON to be published, got %d events", len(f.pub.PumpEvents))
	}
}

func startPumpNoRelayCheck(f *fixture) {
	for i := 0; i < logic.RingSize; i++ {
		f.cycle(200)
	}
	f.cycle(400)
	f.cycle(400)
}

func TestAppPublishesOnlyChanges(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.cycle(200)
	f.cycle(200)
	f.cycle(210)

	if n := len(f.pub.Payloads[mqtt.TemperatureTopic(0)]); n != 2 {
		t.Errorf("heater: got %d publishes, want 2", n)
	}
	if n := len(f.pub.Payloads[mqtt.TemperatureTopic(1)]); n != 1 {
		t.Errorf("mixer: got %d publishes, want 1", n)
	}
	// Spare channel stays absent, matching the initial state: never published.
	if n := len(f.pub.Payloads[mqtt.TemperatureTopic(3)]); n != 0 {
		t.Errorf("spare: got %d publishes, want 0", n)
	}
	// Telemetry gets every reading.
	if n := len(f.sink.Records); n != 12 {
		t.Errorf("telemetry: got %d records, want 12", n)
	}
}

func TestAppPublishAll(t *testing.T) {
	f := newFixture(t, fixtureOpts{publishAll: true})
	f.cycle(200)
	f.cycle(200)

	if n := len(f.pub.Readings); n != 8 {
		t.Errorf("got %d readings, want 8", n)
	}
	if f.pub.Readings[0].Name != "heater" {
		t.Errorf("reading name: got %q, want heater", f.pub.Readings[0].Name)
	}
}

func TestAppAutoAssignPersists(t *testing.T) {
	f := newFixture(t, fixtureOpts{autoAssign: true, unmapped: true})

	if len(f.pub.Assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(f.pub.Assignments))
	}
	for i, addr := range []onewire.Address{heaterAddr, mixerAddr, returnAddr} {
		if f.pub.Assignments[i].Channel != i || f.pub.Assignments[i].Address != addr {
			t.Errorf("assignment %d: got %+v", i, f.pub.Assignments[i])
		}
	}

	loaded, err := store.Load(f.path)
	if err != nil {
		t.Fatalf("load persisted state: %v", err)
	}
	x := loaded.Expectations()
	if !x[0].Matches(heaterAddr) || !x[2].Matches(returnAddr) || x[3].Set {
		t.Errorf("persisted expectations: got %v", x)
	}
}

func TestAppRescanCommandAssignsNewSensor(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	spare := sensorAddr(9)
	f.bus.Add(onewire.FakeDevice{Addr: spare, Temperature: 150})

	if err := f.app.applyCommand(mqtt.Command{Param: mqtt.ParamRescan, Channel: -1}); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(f.pub.Assignments) != 1 || f.pub.Assignments[0].Channel != 3 {
		t.Fatalf("expected spare assigned to channel 3, got %+v", f.pub.Assignments)
	}
	if f.cfg.Sensors.Channels[3].Address != onewire.FormatKey(spare.Key()) {
		t.Errorf("store not updated: %q", f.cfg.Sensors.Channels[3].Address)
	}
}

func TestAppParameterCommands(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	cmds := []mqtt.Command{
		{Param: mqtt.ParamFilterThreshold, Channel: -1, Value: "200"},
		{Param: mqtt.ParamMaxDifference, Channel: -1, Value: "80"},
		{Param: mqtt.ParamMinRunTime, Channel: -1, Value: "20"},
		{Param: mqtt.ParamMaxRunTime, Channel: -1, Value: "600"},
		{Param: mqtt.ParamRepeatInterval, Channel: -1, Value: "5000"},
	}
	for _, c := range cmds {
		if err := f.app.applyCommand(c); err != nil {
			t.Fatalf("%s: %v", c, err)
		}
	}

	want := logic.Params{
		FilterThreshold: 200,
		MaxDifference:   80,
		MinRunTime:      logic.Seconds(20),
		MaxRunTime:      logic.Seconds(600),
	}
	if got := f.app.controller.Params(); got != want {
		t.Errorf("controller params: got %+v, want %+v", got, want)
	}
	if got := f.app.engine.RepeatInterval(); got != 5000 {
		t.Errorf("repeat interval: got %d, want 5000", got)
	}

	loaded, err := store.Load(f.path)
	if err != nil {
		t.Fatalf("load persisted state: %v", err)
	}
	if loaded.Params() != want {
		t.Errorf("persisted params: got %+v, want %+v", loaded.Params(), want)
	}
	if loaded.Sensors.RepeatInterval != 5000 {
		t.Errorf("persisted repeat interval: got %d", loaded.Sensors.RepeatInterval)
	}
}

func TestAppRejectsOutOfRangeCommands(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	before := f.app.controller.Params()

	bad := []mqtt.Command{
		{Param: mqtt.ParamMaxDifference, Channel: -1, Value: "40000"},
		{Param: mqtt.ParamMinRunTime, Channel: -1, Value: "-1"},
		{Param: mqtt.ParamMaxRunTime, Channel: -1, Value: "5000000"},
		{Param: mqtt.ParamMinRunTime, Channel: -1, Value: "301"},
		{Param: mqtt.ParamMaxRunTime, Channel: -1, Value: "9"},
		{Param: mqtt.ParamRepeatInterval, Channel: -1, Value: "0"},
		{Param: mqtt.ParamRepeatInterval, Channel: -1, Value: "1000"},
		{Param: mqtt.ParamFilterThreshold, Channel: -1, Value: "abc"},
		{Param: mqtt.ParamAddress, Channel: 9, Value: "0000abcd"},
		{Param: mqtt.ParamAddress, Channel: 1, Value: "zz"},
		{Param: "colour", Channel: -1, Value: "blue"},
	}
	for _, c := range bad {
		if err := f.app.applyCommand(c); err == nil {
			t.Errorf("%s: expected error", c)
		}
	}
	if f.app.controller.Params() != before {
		t.Error("rejected commands must not change parameters")
	}
}

func TestAppRepeatIntervalSurvivesRestart(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	if err := f.app.applyCommand(mqtt.Command{Param: mqtt.ParamRepeatInterval, Channel: -1, Value: "0"}); err == nil {
		t.Fatal("a zero repeat interval should be rejected")
	}
	if err := f.app.applyCommand(mqtt.Command{Param: mqtt.ParamRepeatInterval, Channel: -1, Value: "1001"}); err != nil {
		t.Fatalf("repeat interval just above the conversion time: %v", err)
	}

	loaded, err := store.Load(f.path)
	if err != nil {
		t.Fatalf("load persisted state: %v", err)
	}
	if got := loaded.RepeatInterval(); got != 1001 {
		t.Errorf("repeat interval after reload: got %d, want 1001", got)
	}
}

func TestAppRunTimeCommandsKeepStoreLoadable(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	if err := f.app.applyCommand(mqtt.Command{Param: mqtt.ParamMinRunTime, Channel: -1, Value: "300"}); err != nil {
		t.Fatalf("min equal to max: %v", err)
	}
	if err := f.app.applyCommand(mqtt.Command{Param: mqtt.ParamMaxRunTime, Channel: -1, Value: "299"}); err == nil {
		t.Fatal("max below min should be rejected")
	}
	if err := f.app.applyCommand(mqtt.Command{Param: mqtt.ParamMaxRunTime, Channel: -1, Value: "4294967"}); err != nil {
		t.Fatalf("largest max run time: %v", err)
	}

	loaded, err := store.Load(f.path)
	if err != nil {
		t.Fatalf("load persisted state: %v", err)
	}
	if got := loaded.Params().MaxRunTime; got != logic.Seconds(logic.MaxSeconds) {
		t.Errorf("max run time after reload: got %v", got.Duration())
	}
}

func TestAppAddressCommands(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	// Swap heater and spare by address: channel 3 now expects the heater's
	// sensor, channel 0 loses its expectation.
	if err := f.app.applyCommand(mqtt.Command{Param: mqtt.ParamAddress, Channel: 0}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := f.app.applyCommand(mqtt.Command{Param: mqtt.ParamAddress, Channel: 3, Value: heaterAddr.String()}); err != nil {
		t.Fatalf("set by ROM: %v", err)
	}

	slots := f.app.engine.Slots()
	if slots[0].Bound || slots[0].Expected.Set {
		t.Errorf("channel 0: got %+v, want unbound and unset", slots[0])
	}
	if !slots[3].Bound || slots[3].Address != heaterAddr {
		t.Errorf("channel 3: got %+v, want bound to heater sensor", slots[3])
	}
	if f.cfg.Sensors.Channels[0].Address != "" {
		t.Errorf("store channel 0: got %q, want empty", f.cfg.Sensors.Channels[0].Address)
	}

	// Set by key form
	if err := f.app.applyCommand(mqtt.Command{Param: mqtt.ParamAddress, Channel: 0, Value: onewire.FormatKey(heaterAddr.Key())}); err != nil {
		t.Fatalf("set by key: %v", err)
	}
	if !f.app.engine.Slots()[0].Expected.Matches(heaterAddr) {
		t.Error("channel 0 should expect the heater sensor again")
	}
}

func TestAppUpdateTracker(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.setDifferential(450, 300)
	f.cycle(215)

	tr := status.NewTracker(wallStart, status.Config{})
	f.app.updateTracker(tr, f.now)
	snap := tr.Snapshot()

	if snap.Pump.State != logic.PumpIdle {
		t.Errorf("pump state: got %s, want IDLE", snap.Pump.State)
	}
	if snap.Pump.Differential != 150 {
		t.Errorf("differential: got %d, want 150", snap.Pump.Differential)
	}
	if len(snap.Channels) != 4 {
		t.Fatalf("expected 4 channels, got %d", len(snap.Channels))
	}
	heater := snap.Channels[0]
	if heater.Name != "heater" || heater.Role != "heater" || heater.Temperature != 215 || !heater.Bound {
		t.Errorf("heater channel: got %+v", heater)
	}
	if snap.Channels[3].Role != "" || snap.Channels[3].Temperature != logic.Absent {
		t.Errorf("spare channel: got %+v", snap.Channels[3])
	}
	if snap.Bus.Cycles != 1 || snap.Bus.BusDevices != 3 {
		t.Errorf("bus stats: got %+v", snap.Bus)
	}
}

func TestAppShutdownSwitchesPumpOff(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.setDifferential(400, 300)
	startPump(t, f)

	f.app.shutdown()
	if f.relay.On {
		t.Error("relay should be off after shutdown")
	}
	if !f.sink.Closed {
		t.Error("telemetry sink should be closed")
	}
}

func TestParseKeyOrAddress(t *testing.T) {
	key, err := parseKeyOrAddress(heaterAddr.String())
	if err != nil || key != heaterAddr.Key() {
		t.Errorf("ROM form: got %08x, %v", key, err)
	}
	key, err = parseKeyOrAddress(heaterAddr.SysfsName())
	if err != nil || key != heaterAddr.Key() {
		t.Errorf("sysfs form: got %08x, %v", key, err)
	}
	key, err = parseKeyOrAddress("0x0000beef")
	if err != nil || key != 0xbeef {
		t.Errorf("key form: got %08x, %v", key, err)
	}
	if _, err := parseKeyOrAddress("28-notanaddress"); err == nil {
		t.Error("expected error for bad address")
	}
}
