// Package observability defines the Prometheus metrics exported by the daemon.
//
// Metrics are grouped per component:
//   - vault: deposits, locks, unlocks by reason, fees, value locked per asset
//   - registry: lifecycle transitions, sweep mutations
//   - judge: evaluations by decision, settlements by outcome, disputes
//   - collaborator failures (deployment service, balance oracle, peers)
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zerolock-network/zerolock/internal/domain"
)

const namespace = "zerolock"

// Metrics holds every collector the daemon exports.
type Metrics struct {
	Deposits      *prometheus.CounterVec
	Locks         *prometheus.CounterVec
	Unlocks       *prometheus.CounterVec
	FeesCollected *prometheus.CounterVec
	ValueLocked   *prometheus.GaugeVec

	Transitions    *prometheus.CounterVec
	SweepMutations *prometheus.CounterVec

	Evaluations *prometheus.CounterVec
	Settlements *prometheus.CounterVec
	Disputes    *prometheus.CounterVec

	CollaboratorFailures *prometheus.CounterVec
	Rejections           *prometheus.CounterVec
}

// New registers the metrics with reg. The daemon passes its own registry;
// tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deposits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vault", Name: "deposits_total",
			Help: "Units deposited into the vault.",
		}, []string{"asset"}),
		Locks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vault", Name: "locks_total",
			Help: "Escrow locks created.",
		}, []string{"asset"}),
		Unlocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vault", Name: "unlocks_total",
			Help: "Escrow locks released, by reason.",
		}, []string{"reason"}),
		FeesCollected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vault", Name: "fees_collected_total",
			Help: "Platform fees credited to the fee recipient.",
		}, []string{"asset"}),
		ValueLocked: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "vault", Name: "value_locked",
			Help: "Units currently held by Active locks.",
		}, []string{"asset"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "registry", Name: "transitions_total",
			Help: "Challenge lifecycle transitions, by target status.",
		}, []string{"status"}),
		SweepMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_mutations_total",
			Help: "Entities changed by periodic sweeps.",
		}, []string{"sweep"}),

		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "judge", Name: "evaluations_total",
			Help: "Attack evaluations, by decision.",
		}, []string{"decision"}),
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "judge", Name: "settlements_total",
			Help: "Bounty settlements, by outcome.",
		}, []string{"outcome"}),
		Disputes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "judge", Name: "disputes_total",
			Help: "Dispute transitions, by status.",
		}, []string{"status"}),

		CollaboratorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "collaborator_failures_total",
			Help: "Failed outbound calls, by collaborator.",
		}, []string{"collaborator"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Rejected operations, by component and error kind.",
		}, []string{"component", "kind"}),
	}
}

// ─── Recording Helpers ──────────────────────────────────────────────────────

// Deposited records a deposit.
func (m *Metrics) Deposited(asset domain.Asset, amount uint64) {
	if m == nil {
		return
	}
	m.Deposits.WithLabelValues(string(asset)).Add(float64(amount))
}

// Locked records a new escrow lock.
func (m *Metrics) Locked(asset domain.Asset, amount uint64) {
	if m == nil {
		return
	}
	m.Locks.WithLabelValues(string(asset)).Inc()
	m.ValueLocked.WithLabelValues(string(asset)).Add(float64(amount))
}

// Released records a lock leaving the Active state.
func (m *Metrics) Released(asset domain.Asset, lockAmount, fee uint64, reason string) {
	if m == nil {
		return
	}
	m.Unlocks.WithLabelValues(reason).Inc()
	m.ValueLocked.WithLabelValues(string(asset)).Sub(float64(lockAmount))
	if fee > 0 {
		m.FeesCollected.WithLabelValues(string(asset)).Add(float64(fee))
	}
}

// SetValueLocked overwrites the locked-value gauge (startup reconciliation).
func (m *Metrics) SetValueLocked(asset domain.Asset, amount uint64) {
	if m == nil {
		return
	}
	m.ValueLocked.WithLabelValues(string(asset)).Set(float64(amount))
}

// Transitioned records a challenge reaching status.
func (m *Metrics) Transitioned(status domain.ChallengeStatus) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(status)).Inc()
}

// Swept records n entities changed by a sweep.
func (m *Metrics) Swept(sweep string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweepMutations.WithLabelValues(sweep).Add(float64(n))
}

// Evaluated records an evaluation decision.
func (m *Metrics) Evaluated(d domain.Decision) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(string(d)).Inc()
}

// Settled records a settlement outcome.
func (m *Metrics) Settled(outcome domain.SettlementStatus) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(string(outcome)).Inc()
}

// Disputed records a dispute reaching status.
func (m *Metrics) Disputed(status domain.DisputeStatus) {
	if m == nil {
		return
	}
	m.Disputes.WithLabelValues(string(status)).Inc()
}

// CollaboratorFailed records a failed outbound call.
func (m *Metrics) CollaboratorFailed(collaborator string) {
	if m == nil {
		return
	}
	m.CollaboratorFailures.WithLabelValues(collaborator).Inc()
}

// Rejected records an operation refused with err.
func (m *Metrics) Rejected(component string, err error) {
	if m == nil || err == nil {
		return
	}
	m.Rejections.WithLabelValues(component, string(domain.KindOf(err))).Inc()
}
