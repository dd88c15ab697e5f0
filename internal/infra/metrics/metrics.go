package metrics

import (
	"net/http"
	"time"

	"keyd/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its own registry so several servers can coexist in one process.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	liveKeys   prometheus.GaugeFunc
}

func New(liveKeys func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyd",
			Name:      "operations_total",
			Help:      "Key registry operations by outcome.",
		}, []string{"operation", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keyd",
			Name:      "operation_duration_seconds",
			Help:      "Latency of key registry operations.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
	}
	if liveKeys == nil {
		liveKeys = func() int { return 0 }
	}
	m.liveKeys = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "keyd",
		Name:      "live_keys",
		Help:      "Key pairs currently held in memory.",
	}, func() float64 { return float64(liveKeys()) })

	reg.MustRegister(
		m.operations,
		m.durations,
		m.liveKeys,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Observe(op domain.Operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(op), result).Inc()
	m.durations.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
