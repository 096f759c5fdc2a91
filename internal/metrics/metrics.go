// Package metrics holds the Prometheus collectors for the governance
// pipeline: policy evaluation, jury consensus, entropy analysis,
// escrow, and ledger.
//
// Adapted from
// _examples/Generativebots-ocx-backend-go-svc/internal/escrow/metrics.go
// (Metrics struct of promauto vectors + Record* methods), regrouped
// around the coordinator's own stages instead of the tri-factor
// economic gate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the governance pipeline.
type Metrics struct {
	PolicyEvaluations   *prometheus.CounterVec
	PolicyViolations    *prometheus.CounterVec
	PolicyEvalDuration  *prometheus.HistogramVec

	JurorVotes       *prometheus.CounterVec
	JurorTimeouts    *prometheus.CounterVec
	JuryDuration     *prometheus.HistogramVec
	JuryQuorumFailed *prometheus.CounterVec

	EntropyScore    *prometheus.HistogramVec
	EntropyVerdicts *prometheus.CounterVec
	AnomaliesTotal  *prometheus.CounterVec

	EscrowHeld     *prometheus.CounterVec
	EscrowReleased *prometheus.CounterVec
	EscrowRejected *prometheus.CounterVec
	EscrowExpired  *prometheus.CounterVec

	LedgerAppends      *prometheus.CounterVec
	LedgerChainLength  *prometheus.GaugeVec
	LedgerVerifyFailed prometheus.Counter

	AgentTrustScore *prometheus.GaugeVec
	AgentTier       *prometheus.GaugeVec
	KillSwitchTrips *prometheus.CounterVec

	PipelineDuration *prometheus.HistogramVec
	PipelineVerdicts *prometheus.CounterVec
}

// New creates and registers all governance pipeline metrics.
func New() *Metrics {
	return &Metrics{
		PolicyEvaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_policy_evaluations_total",
				Help: "Total number of policy hierarchy evaluations.",
			},
			[]string{"tenant_id", "tier"},
		),
		PolicyViolations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_policy_violations_total",
				Help: "Total number of policy evaluations that produced a violation.",
			},
			[]string{"tenant_id", "tier", "policy_id"},
		),
		PolicyEvalDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governance_policy_eval_duration_seconds",
				Help:    "Duration of a full three-tier policy evaluation.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"tenant_id"},
		),

		JurorVotes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_juror_votes_total",
				Help: "Total juror votes by decision.",
			},
			[]string{"tenant_id", "juror", "decision"},
		),
		JurorTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_juror_timeouts_total",
				Help: "Total jurors that missed their deadline and were recorded as ABSTAIN.",
			},
			[]string{"tenant_id", "juror"},
		),
		JuryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governance_jury_duration_seconds",
				Help:    "Wall-clock duration of a jury round.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tenant_id"},
		),
		JuryQuorumFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_jury_quorum_failed_total",
				Help: "Total jury rounds that failed to reach quorum.",
			},
			[]string{"tenant_id"},
		),

		EntropyScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governance_payload_entropy_bits",
				Help:    "Shannon entropy (bits/byte) of evaluated tool-call payloads.",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 6.5, 7, 7.5, 8},
			},
			[]string{"tenant_id"},
		),
		EntropyVerdicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_entropy_verdicts_total",
				Help: "Total payload entropy classifications by verdict.",
			},
			[]string{"tenant_id", "verdict"},
		),
		AnomaliesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_anomalies_total",
				Help: "Total behavioral anomalies detected by type.",
			},
			[]string{"tenant_id", "agent_id", "anomaly_type"},
		),

		EscrowHeld: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_escrow_held_total",
				Help: "Total actions placed into escrow.",
			},
			[]string{"tenant_id"},
		),
		EscrowReleased: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_escrow_released_total",
				Help: "Total escrowed actions released for execution.",
			},
			[]string{"tenant_id"},
		),
		EscrowRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_escrow_rejected_total",
				Help: "Total escrowed actions rejected.",
			},
			[]string{"tenant_id", "reason"},
		),
		EscrowExpired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_escrow_expired_total",
				Help: "Total escrowed actions auto-rejected by TTL sweep.",
			},
			[]string{"tenant_id"},
		),

		LedgerAppends: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_ledger_appends_total",
				Help: "Total ledger entries appended, by verdict class.",
			},
			[]string{"tenant_id", "verdict_class"},
		),
		LedgerChainLength: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "governance_ledger_chain_length",
				Help: "Current number of entries in a tenant's ledger chain.",
			},
			[]string{"tenant_id"},
		),
		LedgerVerifyFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "governance_ledger_verify_failed_total",
				Help: "Total ledger chain verification failures detected (tamper evidence).",
			},
		),

		AgentTrustScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "governance_agent_trust_score",
				Help: "Current weighted trust score per agent.",
			},
			[]string{"tenant_id", "agent_id"},
		),
		AgentTier: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "governance_agent_tier",
				Help: "Current reputation tier per agent (0=QUARANTINED .. 3=SOVEREIGN).",
			},
			[]string{"tenant_id", "agent_id"},
		),
		KillSwitchTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_kill_switch_trips_total",
				Help: "Total kill-switch activations.",
			},
			[]string{"tenant_id", "scope"},
		),

		PipelineDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governance_pipeline_duration_seconds",
				Help:    "End-to-end duration of a governance request through all nine pipeline steps.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tenant_id", "verdict"},
		),
		PipelineVerdicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_pipeline_verdicts_total",
				Help: "Total governance verdicts by class.",
			},
			[]string{"tenant_id", "verdict_class"},
		),
	}
}

// TierGaugeValue maps a reputation tier name to the gauge value used by
// AgentTier, ordered worst to best so dashboards can threshold on it.
func TierGaugeValue(tier string) float64 {
	switch tier {
	case "QUARANTINED":
		return 0
	case "PROBATION":
		return 1
	case "TRUSTED":
		return 2
	case "SOVEREIGN":
		return 3
	default:
		return -1
	}
}
