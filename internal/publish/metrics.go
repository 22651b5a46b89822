package publish

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics exports a's counters to reg.
func RegisterMetrics(reg prometheus.Registerer, a *Async) error {
	counter := func(name, help string, fn func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Subsystem: "publish",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}
	collectors := []prometheus.Collector{
		counter("submitted_total", "Records queued for publishing.", a.submitted.Load),
		counter("published_total", "Records the broker client accepted.", a.published.Load),
		counter("failed_total", "Records the broker client refused.", a.failed.Load),
		counter("dropped_total", "Records dropped because the queue was full.", a.dropped.Load),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sensorbridge",
			Subsystem: "publish",
			Name:      "queued",
			Help:      "Records waiting in the publish queue.",
		}, func() float64 { return float64(len(a.queue)) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
