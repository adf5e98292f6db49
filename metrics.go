package multistore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "multistore"

// Metrics collects batch statistics per datasource, table and operation
// ("insert" or "update"). A nil *Metrics is valid and records nothing.
type Metrics struct {
	batches  *prometheus.CounterVec
	records  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	labels := []string{"datasource", "table", "operation"}
	m := &Metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_total",
			Help:      "Number of bulk statements executed.",
		}, labels),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_total",
			Help:      "Number of records written by bulk statements.",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "failures_total",
			Help:      "Number of failed bulk statements.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of bulk statements.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.batches, m.records, m.failures, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observe(datasource, table, operation string, size int, started time.Time, err error) {
	if m == nil {
		return
	}

	m.duration.WithLabelValues(datasource, table, operation).Observe(time.Since(started).Seconds())
	if err != nil {
		m.failures.WithLabelValues(datasource, table, operation).Inc()
		return
	}

	m.batches.WithLabelValues(datasource, table, operation).Inc()
	m.records.WithLabelValues(datasource, table, operation).Add(float64(size))
}
