package logic

// Controller is the hysteresis state machine that switches the circulation pump.
// It starts the pump when the filtered heater trend exceeds the threshold and
// stops it after the minimum run time once the mixer/return differential has
// collapsed or the maximum run time has elapsed.
type Controller struct {
	params  Params
	filter  *Filter
	notify  func(Event)
	state   PumpState
	started Millis
	mixer   Temperature
	ret     Temperature
	counts  EventCounts
}

// NewController creates an idle controller. notify is called once for every
// pump transition and may be nil.
func NewController(params Params, filter *Filter, notify func(Event)) *Controller {
	if filter == nil {
		filter = NewFilter(DefaultKernel)
	}
	return &Controller{
		params: params,
		filter: filter,
		notify: notify,
		state:  PumpIdle,
	}
}

// AddHeaterSample feeds a raw heater reading into the filter.
func (c *Controller) AddHeaterSample(t Temperature) {
	c.filter.Add(t)
}

// SetMixerTemperature sets the mixer side of the differential.
func (c *Controller) SetMixerTemperature(t Temperature) {
	c.mixer = t
}

// SetReturnTemperature sets the return side of the differential.
func (c *Controller) SetReturnTemperature(t Temperature) {
	c.ret = t
}

// Differential returns mixer minus return.
func (c *Controller) Differential() Temperature {
	return c.mixer - c.ret
}

// Tick evaluates the start and stop conditions at time now.
func (c *Controller) Tick(now Millis) {
	switch c.state {
	case PumpRunning:
		elapsed := now.Since(c.started)
		if elapsed > c.params.MinRunTime &&
			(c.Differential() < c.params.MaxDifference || elapsed > c.params.MaxRunTime) {
			c.stop(now, elapsed)
		}
	default:
		if c.filter.Warm() && c.filter.Value() > c.params.FilterThreshold {
			c.start(now)
		}
	}
}

func (c *Controller) start(now Millis) {
	c.state = PumpRunning
	c.started = now
	c.counts.PumpOn++
	c.emit(Event{
		Time:         now,
		Type:         EventPumpOn,
		Running:      true,
		Filtered:     c.filter.Value(),
		Differential: c.Differential(),
	})
}

func (c *Controller) stop(now, ran Millis) {
	c.state = PumpIdle
	c.counts.PumpOff++
	c.emit(Event{
		Time:         now,
		Type:         EventPumpOff,
		Running:      false,
		Filtered:     c.filter.Value(),
		Differential: c.Differential(),
		RunTime:      ran,
	})
}

func (c *Controller) emit(e Event) {
	if c.notify != nil {
		c.notify(e)
	}
}

// State returns the current pump state.
func (c *Controller) State() PumpState {
	return c.state
}

// Running reports whether the pump is running.
func (c *Controller) Running() bool {
	return c.state == PumpRunning
}

// RunTime returns how long the pump has been running at time now, or 0 when idle.
func (c *Controller) RunTime(now Millis) Millis {
	if c.state != PumpRunning {
		return 0
	}
	return now.Since(c.started)
}

// Filtered returns the current filtered heater trend.
func (c *Controller) Filtered() int32 {
	return c.filter.Value()
}

// Warm reports whether the filter has finished warming up.
func (c *Controller) Warm() bool {
	return c.filter.Warm()
}

// EventCountsSnapshot returns the pump transition counts since startup.
func (c *Controller) EventCountsSnapshot() EventCounts {
	return c.counts
}

// Params returns the current control parameters.
func (c *Controller) Params() Params {
	return c.params
}

// SetParams replaces all control parameters.
func (c *Controller) SetParams(p Params) {
	c.params = p
}

// SetFilterThreshold sets the filtered trend above which the pump starts.
func (c *Controller) SetFilterThreshold(v int32) {
	c.params.FilterThreshold = v
}

// SetMaxDifference sets the differential below which a running pump may stop.
func (c *Controller) SetMaxDifference(v Temperature) {
	c.params.MaxDifference = v
}

// SetMinRunTime sets the minimum run time in seconds.
func (c *Controller) SetMinRunTime(seconds uint32) {
	c.params.MinRunTime = Seconds(seconds)
}

// SetMaxRunTime sets the maximum run time in seconds.
func (c *Controller) SetMaxRunTime(seconds uint32) {
	c.params.MaxRunTime = Seconds(seconds)
}
