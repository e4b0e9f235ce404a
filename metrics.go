package db_migrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "schema_migrator"

// Metrics - prometheus-метрики менеджера. Нулевой указатель допустим: методы ничего не делают.
type Metrics struct {
	revisionsTotal   *prometheus.CounterVec
	revisionDuration *prometheus.HistogramVec
	lockWait         prometheus.Histogram
	driftDetected    *prometheus.GaugeVec
	markerGeneration prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg. Если reg == nil, используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		revisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "revisions_total",
				Help:      "Revisions processed by the migrator",
			},
			[]string{"direction", "outcome"},
		),
		revisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "revision_duration_seconds",
				Help:      "Time spent applying or undoing a single revision",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		lockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for the migration lock",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
		),
		driftDetected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "drift_discrepancies",
				Help:      "Discrepancies found by the last drift check, by kind",
			},
			[]string{"kind"},
		),
		markerGeneration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "marker_generation",
				Help:      "Generation of the applied-state marker after the last write",
			},
		),
	}
}

func (m *Metrics) observeRevision(direction Direction, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.revisionsTotal.WithLabelValues(string(direction), outcome).Inc()
	m.revisionDuration.WithLabelValues(string(direction)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeLockWait(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(elapsed.Seconds())
}

func (m *Metrics) setMarkerGeneration(generation int64) {
	if m == nil {
		return
	}
	m.markerGeneration.Set(float64(generation))
}

func (m *Metrics) setDrift(discrepancies []Discrepancy) {
	if m == nil {
		return
	}
	m.driftDetected.Reset()
	for _, d := range discrepancies {
		m.driftDetected.WithLabelValues(string(d.Kind)).Inc()
	}
}
