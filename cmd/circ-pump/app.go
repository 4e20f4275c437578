package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/sweeney/circ-pump/internal/gpio"
	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/metrics"
	"github.com/sweeney/circ-pump/internal/mqtt"
	"github.com/sweeney/circ-pump/internal/onewire"
	"github.com/sweeney/circ-pump/internal/sensors"
	"github.com/sweeney/circ-pump/internal/status"
	"github.com/sweeney/circ-pump/internal/store"
	"github.com/sweeney/circ-pump/internal/telemetry"
)

// app routes engine readings into the controller and fans controller and
// engine events out to the relay, MQTT, metrics, telemetry and the store.
// All methods run on the runLoop goroutine.
type app struct {
	engine     *sensors.Engine
	controller *logic.Controller
	relay      gpio.Relay
	publisher  mqtt.Publisher
	sink       telemetry.Sink
	metrics    *metrics.Metrics
	cfg        *store.Config
	cfgPath    string // empty disables persistence
	publishAll bool
	wall       func() time.Time

	readings  []logic.Temperature
	published []logic.Temperature
}

type appOptions struct {
	Bus        onewire.Bus
	Relay      gpio.Relay
	Publisher  mqtt.Publisher
	Sink       telemetry.Sink
	Metrics    *metrics.Metrics
	Store      *store.Config
	StorePath  string
	Policy     sensors.VacatedSlotPolicy
	AutoAssign bool
	PublishAll bool
	Wall       func() time.Time
}

func newApp(o appOptions) *app {
	if o.Sink == nil {
		o.Sink = telemetry.Nop{}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Wall == nil {
		o.Wall = time.Now
	}
	n := len(o.Store.Sensors.Channels)
	a := &app{
		relay:      o.Relay,
		publisher:  o.Publisher,
		sink:       o.Sink,
		metrics:    o.Metrics,
		cfg:        o.Store,
		cfgPath:    o.StorePath,
		publishAll: o.PublishAll,
		wall:       o.Wall,
		readings:   make([]logic.Temperature, n),
		published:  make([]logic.Temperature, n),
	}
	for i := range a.readings {
		a.readings[i] = logic.Absent
		a.published[i] = logic.Absent
	}

	a.engine = sensors.New(o.Bus, sensors.Config{
		Channels:       n,
		Resolution:     o.Store.Sensors.Resolution,
		RepeatInterval: o.Store.RepeatInterval(),
		Policy:         o.Policy,
		AutoAssign:     o.AutoAssign,
	}, a)
	for ch, x := range o.Store.Expectations() {
		if x.Set {
			a.engine.SetAddress(ch, x.Key)
		}
	}
	a.controller = logic.NewController(o.Store.Params(), nil, a.pumpChanged)
	return a
}

func (a *app) start(now logic.Millis) {
	a.engine.Start(now)
	st := a.engine.Stats()
	if st.BeginErr != nil {
		log.Printf("sensors: bus init failed: %v", st.BeginErr)
	}
	for _, s := range a.engine.Slots() {
		if s.Bound {
			log.Printf("sensors: channel %d (%s) bound to %s", s.Channel, a.cfg.ChannelName(s.Channel), s.Address)
		} else {
			log.Printf("sensors: channel %d (%s) unbound, expecting %s", s.Channel, a.cfg.ChannelName(s.Channel), s.Expected)
		}
	}
}

// tick advances the poll cycle, then evaluates the pump with the fresh readings.
func (a *app) tick(now logic.Millis) {
	a.engine.Tick(now)
	a.controller.Tick(now)
	a.metrics.ObserveControl(a.controller.Filtered(), a.controller.Differential())
}

// TemperatureChanged implements sensors.Listener.
func (a *app) TemperatureChanged(channel int, t logic.Temperature) {
	if channel < 0 || channel >= len(a.readings) {
		return
	}
	a.readings[channel] = t

	// An absent reading would read as a steep drop in the trend.
	if channel == a.cfg.Roles.Heater && t.Present() {
		a.controller.AddHeaterSample(t)
	}
	if channel == a.cfg.Roles.Mixer {
		a.controller.SetMixerTemperature(t)
	}
	if channel == a.cfg.Roles.Return {
		a.controller.SetReturnTemperature(t)
	}

	name := a.cfg.ChannelName(channel)
	ts := a.wall()
	a.metrics.ObserveTemperature(name, t)
	if err := a.sink.Send(context.Background(), telemetry.TemperatureRecord(ts, name, t)); err != nil {
		log.Printf("telemetry: %v", err)
	}

	if !a.publishAll && t == a.published[channel] {
		return
	}
	a.published[channel] = t
	if err := a.publisher.PublishTemperature(mqtt.Reading{Timestamp: ts, Channel: channel, Name: name, Temperature: t}); err != nil {
		log.Printf("publish error: %v", err)
	}
}

// AddressAssigned implements sensors.Listener.
func (a *app) AddressAssigned(channel int, addr onewire.Address) {
	name := a.cfg.ChannelName(channel)
	log.Printf("sensors: assigned %s to channel %d (%s)", addr, channel, name)
	a.metrics.ObserveAssignment()

	if err := a.cfg.SetAddress(channel, addr.Key()); err != nil {
		log.Printf("store: %v", err)
	} else {
		a.persist()
	}
	if err := a.publisher.PublishAssignment(mqtt.Assignment{Timestamp: a.wall(), Channel: channel, Name: name, Address: addr}); err != nil {
		log.Printf("publish error: %v", err)
	}
}

func (a *app) pumpChanged(e logic.Event) {
	log.Printf("event: %s (filtered=%d differential=%s ran=%v)", e.Type, e.Filtered, e.Differential, e.RunTime.Duration())
	if err := a.relay.Set(e.Running); err != nil {
		log.Printf("relay error: %v", err)
	}
	ts := a.wall()
	a.metrics.ObservePump(e)
	if err := a.sink.Send(context.Background(), telemetry.PumpRecord(ts, e)); err != nil {
		log.Printf("telemetry: %v", err)
	}
	if err := a.publisher.PublishPump(mqtt.PumpEvent{Timestamp: ts, Event: e}); err != nil {
		log.Printf("publish error: %v", err)
	}
}

// applyCommand applies a parameter change received over MQTT and persists it.
func (a *app) applyCommand(cmd mqtt.Command) error {
	switch cmd.Param {
	case mqtt.ParamFilterThreshold:
		v, err := intIn(cmd, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		a.controller.SetFilterThreshold(int32(v))
	case mqtt.ParamMaxDifference:
		v, err := intIn(cmd, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		a.controller.SetMaxDifference(logic.Temperature(v))
	case mqtt.ParamMinRunTime:
		p := a.controller.Params()
		v, err := intIn(cmd, 0, int64(p.MaxRunTime/1000))
		if err != nil {
			return err
		}
		a.controller.SetMinRunTime(uint32(v))
	case mqtt.ParamMaxRunTime:
		p := a.controller.Params()
		v, err := intIn(cmd, int64(p.MinRunTime/1000), logic.MaxSeconds)
		if err != nil {
			return err
		}
		a.controller.SetMaxRunTime(uint32(v))
	case mqtt.ParamRepeatInterval:
		// The cycle must leave time for the conversion.
		v, err := intIn(cmd, int64(sensors.DefaultConvertTimeout)+1, math.MaxUint32)
		if err != nil {
			return err
		}
		a.engine.SetRepeatInterval(logic.Millis(v))
		a.cfg.Sensors.RepeatInterval = uint32(v)
	case mqtt.ParamAddress:
		if err := a.applyAddress(cmd); err != nil {
			return err
		}
	case mqtt.ParamRescan:
		a.engine.Rescan()
		return nil
	default:
		return fmt.Errorf("unknown parameter %q", cmd.Param)
	}

	a.cfg.SetParams(a.controller.Params())
	a.persist()
	return nil
}

func (a *app) applyAddress(cmd mqtt.Command) error {
	if cmd.Channel < 0 || cmd.Channel >= a.engine.Channels() {
		return fmt.Errorf("channel %d out of range", cmd.Channel)
	}
	if cmd.Value == "" {
		a.engine.ClearAddress(cmd.Channel)
		return a.cfg.ClearAddress(cmd.Channel)
	}
	key, err := parseKeyOrAddress(cmd.Value)
	if err != nil {
		return err
	}
	a.engine.SetAddress(cmd.Channel, key)
	return a.cfg.SetAddress(cmd.Channel, key)
}

// parseKeyOrAddress accepts an 8-digit key or a full ROM address.
func parseKeyOrAddress(s string) (uint32, error) {
	if len(s) > 10 {
		addr, err := onewire.ParseAddress(s)
		if err != nil {
			return 0, err
		}
		return addr.Key(), nil
	}
	return onewire.ParseKey(s)
}

func intIn(cmd mqtt.Command, lo, hi int64) (int64, error) {
	v, err := cmd.Int()
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s: %d out of range [%d, %d]", cmd.Param, v, lo, hi)
	}
	return v, nil
}

func (a *app) persist() {
	if a.cfgPath == "" {
		return
	}
	if err := a.cfg.Save(a.cfgPath); err != nil {
		log.Printf("store: %v", err)
	}
}

// shutdown switches the pump off and flushes telemetry.
func (a *app) shutdown() {
	if a.controller.Running() {
		log.Printf("pump running at shutdown, switching off")
	}
	if err := a.relay.Set(false); err != nil {
		log.Printf("relay error: %v", err)
	}
	if err := a.sink.Close(); err != nil {
		log.Printf("telemetry: %v", err)
	}
}

func (a *app) role(channel int) string {
	switch channel {
	case a.cfg.Roles.Heater:
		return "heater"
	case a.cfg.Roles.Mixer:
		return "mixer"
	case a.cfg.Roles.Return:
		return "return"
	}
	return ""
}

// updateTracker copies controller and engine state into the tracker.
func (a *app) updateTracker(tracker *status.Tracker, now logic.Millis) {
	tracker.UpdatePump(status.Pump{
		State:        a.controller.State(),
		Filtered:     a.controller.Filtered(),
		Warm:         a.controller.Warm(),
		Differential: a.controller.Differential(),
		RunTime:      a.controller.RunTime(now).Duration(),
		Params:       a.controller.Params(),
	}, a.controller.EventCountsSnapshot())

	slots := a.engine.Slots()
	chans := make([]status.Channel, len(slots))
	for i, s := range slots {
		chans[i] = status.Channel{
			Index:       s.Channel,
			Name:        a.cfg.ChannelName(s.Channel),
			Role:        a.role(s.Channel),
			Temperature: a.readings[s.Channel],
			Bound:       s.Bound,
			Address:     s.Address,
			Expected:    s.Expected,
		}
	}
	tracker.UpdateChannels(chans, a.engine.Stats())
}
