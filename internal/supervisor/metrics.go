package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/sensorbridge/internal/record"
)

const metricsNamespace = "sensorbridge"

// Metrics exports supervisor outcomes to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles        prometheus.Counter
	acceptedTotal prometheus.Counter
	rejections    *prometheus.CounterVec
	restarts      prometheus.Counter
	publishFails  prometheus.Counter
	linkOpen      prometheus.Gauge
	lastAccepted  prometheus.Gauge
	temperature   prometheus.Gauge
	humidity      prometheus.Gauge
	collectorList []prometheus.Collector
}

func newSupervisorCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "supervisor",
		Name:      name,
		Help:      help,
	})
}

func newSupervisorGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "supervisor",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the supervisor collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles:        newSupervisorCounter("cycles_total", "Open/read/close cycles started."),
		acceptedTotal: newSupervisorCounter("accepted_total", "Readings accepted and handed to the publisher."),
		restarts:      newSupervisorCounter("restarts_total", "Supervised pipeline restarts after unclassified failures."),
		publishFails:  newSupervisorCounter("publish_failures_total", "Accepted readings the publisher refused."),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "supervisor",
			Name:      "rejections_total",
			Help:      "Cycles that ended without a reading, by reason.",
		}, []string{"reason"}),
		linkOpen:     newSupervisorGauge("link_open", "1 while the serial link is open."),
		lastAccepted: newSupervisorGauge("last_accepted_timestamp_seconds", "Unix time of the last accepted reading."),
		temperature:  newSupervisorGauge("temperature_celsius", "Last accepted temperature."),
		humidity:     newSupervisorGauge("humidity_percent", "Last accepted relative humidity."),
	}
	m.collectorList = []prometheus.Collector{
		m.cycles, m.acceptedTotal, m.restarts, m.publishFails, m.rejections,
		m.linkOpen, m.lastAccepted, m.temperature, m.humidity,
	}
	for _, c := range m.collectorList {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) cycle() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

func (m *Metrics) accepted(rec record.Record) {
	if m == nil {
		return
	}
	m.acceptedTotal.Inc()
	m.lastAccepted.SetToCurrentTime()
	m.temperature.Set(rec.Temperature)
	m.humidity.Set(rec.Humidity)
}

func (m *Metrics) rejected(reason Reason) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) restarted() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

func (m *Metrics) publishFailed() {
	if m == nil {
		return
	}
	m.publishFails.Inc()
}

func (m *Metrics) link(l LinkState) {
	if m == nil {
		return
	}
	if l == LinkOpen {
		m.linkOpen.Set(1)
		return
	}
	m.linkOpen.Set(0)
}
