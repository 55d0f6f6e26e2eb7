package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/ganymede/pkg/admission/pool"
	"mercator-hq/ganymede/pkg/tier"
)

// Metrics contains Prometheus metrics for the admission gate. A nil
// *Metrics is valid and records nothing, which keeps tests free of
// shared-registry collisions.
type Metrics struct {
	checksTotal     *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec
	recordedCostUSD *prometheus.CounterVec

	poolRunning     prometheus.Gauge
	poolQueued      prometheus.Gauge
	poolUtilization prometheus.Gauge

	checkDuration prometheus.Histogram
}

// NewMetrics creates admission metrics registered on reg. Pass
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ganymede_admission_checks_total",
				Help: "Total number of admission checks performed",
			},
			[]string{"tier", "result"},
		),

		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ganymede_admission_rejections_total",
				Help: "Total number of admission rejections by limit type",
			},
			[]string{"tier", "limit_type"},
		),

		recordedCostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ganymede_admission_recorded_cost_usd_total",
				Help: "Total USD cost recorded after request completion",
			},
			[]string{"tier", "model"},
		),

		poolRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ganymede_pool_running_tasks",
				Help: "Tasks currently holding an execution slot",
			},
		),

		poolQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ganymede_pool_queued_tasks",
				Help: "Tasks waiting for an execution slot",
			},
		),

		poolUtilization: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ganymede_pool_utilization",
				Help: "Running tasks as a fraction of pool capacity (0.0-1.0)",
			},
		),

		checkDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ganymede_admission_check_duration_seconds",
				Help:    "Latency of admission checks",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
			},
		),
	}
}

func (m *Metrics) observeCheck(t tier.Tier, result string) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(string(t), result).Inc()
}

func (m *Metrics) observeRejection(t tier.Tier, limitType string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(string(t), limitType).Inc()
}

func (m *Metrics) observeRecordedCost(t tier.Tier, model string, costUSD float64) {
	if m == nil {
		return
	}
	m.recordedCostUSD.WithLabelValues(string(t), model).Add(costUSD)
}

func (m *Metrics) observePool(pm pool.Metrics) {
	if m == nil {
		return
	}
	m.poolRunning.Set(float64(pm.Running))
	m.poolQueued.Set(float64(pm.QueueDepth))
	m.poolUtilization.Set(pm.Utilization)
}

func (m *Metrics) observeCheckDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.checkDuration.Observe(d.Seconds())
}
