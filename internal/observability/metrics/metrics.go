package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for per-user results.
const (
	OutcomeSkipped   = "skipped"
	OutcomeUnchanged = "unchanged"
	OutcomeUpdated   = "updated"
	OutcomeFailed    = "failed"
)

// Change labels for the fields a run rewrites.
const (
	ChangeNormalized  = "normalized"
	ChangeProvisioned = "provisioned"
)

// ReconcileMetrics exposes counters/gauges for reconciliation runs.
type ReconcileMetrics struct {
	usersTotal      *prometheus.CounterVec
	changesTotal    *prometheus.CounterVec
	runDuration     prometheus.Gauge
	lastRunSuccess  prometheus.Gauge
	lastRunFinished prometheus.Gauge
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		usersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twilify",
			Subsystem: "reconcile",
			Name:      "users_total",
			Help:      "Directory users processed, by outcome",
		}, []string{"outcome"}),
		changesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twilify",
			Subsystem: "reconcile",
			Name:      "changes_total",
			Help:      "Profile changes written, by kind",
		}, []string{"kind"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "twilify",
			Subsystem: "reconcile",
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last reconciliation run",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "twilify",
			Subsystem: "reconcile",
			Name:      "last_run_success",
			Help:      "1 if the last run finished without a fatal error",
		}),
		lastRunFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "twilify",
			Subsystem: "reconcile",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.usersTotal, m.changesTotal, m.runDuration, m.lastRunSuccess, m.lastRunFinished)
	return m
}

func (m *ReconcileMetrics) ObserveUser(outcome string) {
	if m == nil {
		return
	}
	m.usersTotal.WithLabelValues(outcome).Inc()
}

func (m *ReconcileMetrics) ObserveChange(kind string) {
	if m == nil {
		return
	}
	m.changesTotal.WithLabelValues(kind).Inc()
}

func (m *ReconcileMetrics) ObserveRun(duration time.Duration, finished time.Time, success bool) {
	if m == nil {
		return
	}
	m.runDuration.Set(duration.Seconds())
	m.lastRunFinished.Set(float64(finished.Unix()))
	if success {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
}

// WriteTextfile dumps g in the node_exporter textfile collector format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
