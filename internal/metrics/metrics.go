// Package metrics exposes controller state as Prometheus collectors on a
// private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/circ-pump/internal/logic"
)

const namespace = "circpump"

// Metrics holds the controller collectors.
type Metrics struct {
	reg *prometheus.Registry

	temperature   *prometheus.GaugeVec
	present       *prometheus.GaugeVec
	readFailures  *prometheus.CounterVec
	pumpRunning   prometheus.Gauge
	filtered      prometheus.Gauge
	differential  prometheus.Gauge
	pumpStarts    prometheus.Counter
	pumpStops     prometheus.Counter
	pumpRunTime   prometheus.Histogram
	assignments   prometheus.Counter
	mqttConnected prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last reading of each channel in degrees Celsius.",
		}, []string{"channel"}),
		present: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_present",
			Help:      "Whether the channel's last reading was valid (1) or absent (0).",
		}, []string{"channel"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_absent_total",
			Help:      "Poll cycles in which the channel had no valid reading.",
		}, []string{"channel"}),
		pumpRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_running",
			Help:      "Pump state (1 running, 0 idle).",
		}),
		filtered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filtered_signal",
			Help:      "Current output of the heater trend filter.",
		}),
		differential: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "differential_celsius",
			Help:      "Mixer minus return temperature in degrees Celsius.",
		}),
		pumpStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_starts_total",
			Help:      "Total pump starts.",
		}),
		pumpStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_stops_total",
			Help:      "Total pump stops.",
		}),
		pumpRunTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pump_run_seconds",
			Help:      "Histogram of pump run lengths.",
			Buckets:   []float64{10, 30, 60, 120, 180, 240, 300, 600},
		}),
		assignments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_assignments_total",
			Help:      "Sensors assigned to free channels by a rescan.",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "MQTT broker connection state (1 connected).",
		}),
	}

	m.reg.MustRegister(
		m.temperature,
		m.present,
		m.readFailures,
		m.pumpRunning,
		m.filtered,
		m.differential,
		m.pumpStarts,
		m.pumpStops,
		m.pumpRunTime,
		m.assignments,
		m.mqttConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveTemperature records a channel reading. An absent reading keeps the
// last temperature and marks the channel not present.
func (m *Metrics) ObserveTemperature(channel string, t logic.Temperature) {
	if !t.Present() {
		m.present.WithLabelValues(channel).Set(0)
		m.readFailures.WithLabelValues(channel).Inc()
		return
	}
	m.present.WithLabelValues(channel).Set(1)
	m.temperature.WithLabelValues(channel).Set(t.Celsius())
}

// ObservePump records a pump transition.
func (m *Metrics) ObservePump(e logic.Event) {
	switch e.Type {
	case logic.EventPumpOn:
		m.pumpStarts.Inc()
		m.pumpRunning.Set(1)
	case logic.EventPumpOff:
		m.pumpStops.Inc()
		m.pumpRunning.Set(0)
		m.pumpRunTime.Observe(e.RunTime.Duration().Seconds())
	}
}

// ObserveControl records the controller inputs after a tick.
func (m *Metrics) ObserveControl(filtered int32, differential logic.Temperature) {
	m.filtered.Set(float64(filtered))
	if differential.Present() {
		m.differential.Set(differential.Celsius())
	}
}

// ObserveAssignment counts a new sensor assignment.
func (m *Metrics) ObserveAssignment() {
	m.assignments.Inc()
}

// SetMQTTConnected records the broker connection state.
func (m *Metrics) SetMQTTConnected(connected bool) {
	if connected {
		m.mqttConnected.Set(1)
	} else {
		m.mqttConnected.Set(0)
	}
}
