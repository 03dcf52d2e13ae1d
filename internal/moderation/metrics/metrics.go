package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision outcome label values.
const (
	OutcomeAllowed  = "allowed"
	OutcomeStrike   = "strike"
	OutcomeRejected = "rejected"
	OutcomeErrored  = "error"
)

type Metrics struct {
	ViolationsRecorded prometheus.Counter
	LockoutsTotal      prometheus.Counter
	UnblocksTotal      *prometheus.CounterVec
	Decisions          *prometheus.CounterVec
	StorageErrors      *prometheus.CounterVec
	StorageLatency     *prometheus.HistogramVec
}

// New registers moderation metrics on reg. Passing a fresh registry keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ViolationsRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_moderation_violations_recorded_total",
			Help: "Total number of policy violations recorded against identities",
		}),
		LockoutsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_moderation_lockouts_total",
			Help: "Total number of identities locked out after reaching the strike threshold",
		}),
		UnblocksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_moderation_unblocks_total",
			Help: "Total number of lockouts cleared, by reason",
		}, []string{"reason"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_moderation_decisions_total",
			Help: "Moderation decisions by outcome",
		}, []string{"outcome"}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_moderation_storage_errors_total",
			Help: "Identity store failures by operation",
		}, []string{"operation"}),
		StorageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatgate_moderation_storage_duration_seconds",
			Help:    "Latency of identity store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementViolations() {
	if m == nil {
		return
	}
	m.ViolationsRecorded.Inc()
}

func (m *Metrics) IncrementLockouts() {
	if m == nil {
		return
	}
	m.LockoutsTotal.Inc()
}

// IncrementUnblocks counts a cleared lockout; reason is "manual" or "expired".
func (m *Metrics) IncrementUnblocks(reason string) {
	if m == nil {
		return
	}
	m.UnblocksTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStorage(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.StorageLatency.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		m.StorageErrors.WithLabelValues(operation).Inc()
	}
}
