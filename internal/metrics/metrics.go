package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records rating operations. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	settlements *prometheus.CounterVec
	corrections *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	txRetries   prometheus.Counter
}

// New registers the arbiter metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_settlements_total",
			Help: "Settlement attempts by outcome reason.",
		}, []string{"reason"}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_corrections_total",
			Help: "Rollback, void and reset attempts by outcome reason.",
		}, []string{"op", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbiter_operation_duration_seconds",
			Help:    "Duration of rating operations including storage round-trips.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_tx_retries_total",
			Help: "Transactions retried after a serialization conflict.",
		}),
	}
	reg.MustRegister(m.settlements, m.corrections, m.duration, m.txRetries)
	return m
}

// ObserveSettlement counts one settlement attempt.
func (m *Metrics) ObserveSettlement(reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(reason)).Inc()
	m.duration.WithLabelValues("settle").Observe(d.Seconds())
}

// ObserveCorrection counts one rollback, void or reset attempt.
func (m *Metrics) ObserveCorrection(op, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.corrections.WithLabelValues(normalizeLabel(op), normalizeLabel(reason)).Inc()
	m.duration.WithLabelValues(normalizeLabel(op)).Observe(d.Seconds())
}

// IncTxRetry counts a transaction restarted after a serialization failure.
func (m *Metrics) IncTxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
