package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cdp"

// Metrics records engine operations. A nil *Metrics is a no-op.
type Metrics struct {
	ops             *prometheus.CounterVec
	failures        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	totalCollateral prometheus.Gauge
	totalDebt       prometheus.Gauge
	vaults          prometheus.Gauge
	liquidations    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by outcome.",
		}, []string{"op", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed engine operations by error kind.",
		}, []string{"op", "kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		totalCollateral: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_collateral",
			Help:      "Collateral held across all vaults, in base units.",
		}),
		totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_debt",
			Help:      "Outstanding stable debt across all vaults, in base units.",
		}),
		vaults: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vaults",
			Help:      "Number of vault records.",
		}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Completed liquidations.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.failures, m.latency, m.totalCollateral, m.totalDebt, m.vaults, m.liquidations)
	}
	return m
}

// Observe records one operation. kind is empty on success.
func (m *Metrics) Observe(op, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(op).Observe(d.Seconds())
	if kind == "" {
		m.ops.WithLabelValues(op, "ok").Inc()
		return
	}
	m.ops.WithLabelValues(op, "error").Inc()
	m.failures.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) SetTotals(collateral, debt uint64, vaults int) {
	if m == nil {
		return
	}
	m.totalCollateral.Set(float64(collateral))
	m.totalDebt.Set(float64(debt))
	m.vaults.Set(float64(vaults))
}

func (m *Metrics) Liquidated() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
