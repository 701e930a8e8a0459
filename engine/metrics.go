package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "runbox"

// noPlan labels executions rejected before a plan was selected.
const noPlan = "none"

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	executions          *prometheus.CounterVec
	duration            *prometheus.HistogramVec
	inFlight            prometheus.Gauge
	admissionRejections prometheus.Counter
	cleanupFailures     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Completed executions by status and build plan.",
		}, []string{"status", "plan"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock time of plan steps by build plan.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"plan"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Executions currently holding a sandbox slot.",
		}),
		admissionRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Executions rejected because no slot became free in time.",
		}),
		cleanupFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_cleanup_failures_total",
			Help:      "Sandbox instances that could not be destroyed.",
		}),
	}
}
