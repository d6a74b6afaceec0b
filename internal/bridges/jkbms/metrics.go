package jkbms

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "jkbms"

// Frame outcomes used as the "result" label of jkbms_frames_total.
const (
	ResultDecoded      = "decoded"
	ResultInvalid      = "invalid"
	ResultUnsupported  = "unsupported"
	ResultUnregistered = "unregistered"
	ResultError        = "error"
)

// Metrics exposes frame counters and the latest decoded values as
// Prometheus collectors.
type Metrics struct {
	frames        *prometheus.CounterVec
	publishErrors prometheus.Counter
	devices       prometheus.Gauge

	packVoltage *prometheus.GaugeVec
	packCurrent *prometheus.GaugeVec
	packPower   *prometheus.GaugeVec
	soc         *prometheus.GaugeVec
	soh         *prometheus.GaugeVec
	cycles      *prometheus.GaugeVec
	capacity    *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	balancing   *prometheus.GaugeVec
	alarm       *prometheus.GaugeVec
	cellVoltage *prometheus.GaugeVec
	cellResist  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	addr := []string{"address"}
	gauge := func(name, help string, labels []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_total",
			Help:      "Frames received, by decode result.",
		}, []string{"result"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publish_errors_total",
			Help:      "MQTT publications that failed.",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "devices_registered",
			Help:      "BMS units registered since start.",
		}),
		packVoltage: gauge("battery_voltage_volts", "Pack voltage.", addr),
		packCurrent: gauge("battery_current_amperes", "Pack current, negative when discharging.", addr),
		packPower:   gauge("battery_power_watts", "Pack power.", addr),
		soc:         gauge("state_of_charge_percent", "State of charge.", addr),
		soh:         gauge("state_of_health_percent", "State of health.", addr),
		cycles:      gauge("cycles", "Charge cycle count.", addr),
		capacity:    gauge("capacity_amp_hours", "Capacity by kind (remaining, total).", []string{"address", "kind"}),
		temperature: gauge("temperature_celsius", "Temperature by sensor.", []string{"address", "sensor"}),
		balancing:   gauge("balancing_current_amperes", "Balancer current.", addr),
		alarm:       gauge("alarm_active", "1 when any alarm bit is set.", addr),
		cellVoltage: gauge("cell_voltage_volts", "Cell voltage.", []string{"address", "cell"}),
		cellResist:  gauge("cell_resistance_milliohms", "Cell wire resistance.", []string{"address", "cell"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.frames, m.publishErrors, m.devices,
			m.packVoltage, m.packCurrent, m.packPower,
			m.soc, m.soh, m.cycles, m.capacity, m.temperature,
			m.balancing, m.alarm, m.cellVoltage, m.cellResist,
		)
	}
	return m
}

// ObserveFrame counts one frame with the given result label.
func (m *Metrics) ObserveFrame(result string) {
	m.frames.WithLabelValues(result).Inc()
}

// ObservePublishError counts one failed publication.
func (m *Metrics) ObservePublishError() {
	m.publishErrors.Inc()
}

// SetDevices records the number of registered devices.
func (m *Metrics) SetDevices(n int) {
	m.devices.Set(float64(n))
}

// ObserveTelemetry records the latest values of one BMS.
func (m *Metrics) ObserveTelemetry(addr Address, t *TelemetrySnapshot) {
	a := addr.String()

	m.packVoltage.WithLabelValues(a).Set(t.BatteryVoltage)
	m.packCurrent.WithLabelValues(a).Set(t.BatteryCurrent)
	m.packPower.WithLabelValues(a).Set(t.BatteryPower)
	m.soc.WithLabelValues(a).Set(float64(t.SOC))
	m.soh.WithLabelValues(a).Set(float64(t.SOH))
	m.cycles.WithLabelValues(a).Set(float64(t.Cycles))
	m.capacity.WithLabelValues(a, "remaining").Set(t.CapacityRemaining)
	m.capacity.WithLabelValues(a, "total").Set(t.CapacityTotal)
	m.temperature.WithLabelValues(a, "mos").Set(t.TempMOS)
	m.temperature.WithLabelValues(a, "1").Set(t.Temp1)
	m.temperature.WithLabelValues(a, "2").Set(t.Temp2)
	m.temperature.WithLabelValues(a, "3").Set(t.Temp3)
	m.temperature.WithLabelValues(a, "4").Set(t.Temp4)
	m.balancing.WithLabelValues(a).Set(t.BalanceCurrent)

	alarm := 0.0
	if t.Alarm {
		alarm = 1
	}
	m.alarm.WithLabelValues(a).Set(alarm)

	for _, c := range t.Cells {
		cell := strconv.Itoa(c.Index)
		m.cellVoltage.WithLabelValues(a, cell).Set(c.Voltage)
		m.cellResist.WithLabelValues(a, cell).Set(c.Resistance)
	}
}
