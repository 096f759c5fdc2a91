// Package coordinator implements the Pipeline Coordinator: the single
// entry point that takes a governed request through authentication,
// policy evaluation, ghost-state projection, jury/entropy audit,
// required-signal collection, escrow, and ledger commit, in that
// order, fail-closed at every step.
//
// Direct structural port of
// _examples/Generativebots-ocx-backend-go-svc/internal/handlers/governance.go's
// HandleGovern — same step numbering and fail-closed-by-default
// posture, re-targeted from the teacher's Tri-Factor/JIT-entitlement/
// micropayment flow onto this core's nine-step sequence.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/governance-core/internal/config"
	"github.com/ocx/governance-core/internal/entropy"
	"github.com/ocx/governance-core/internal/escrow"
	"github.com/ocx/governance-core/internal/ghoststate"
	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
	"github.com/ocx/governance-core/internal/jury"
	"github.com/ocx/governance-core/internal/ledger"
	"github.com/ocx/governance-core/internal/metrics"
	"github.com/ocx/governance-core/internal/policy"
	"github.com/ocx/governance-core/internal/reputation"
	"github.com/ocx/governance-core/internal/security"
	"github.com/ocx/governance-core/internal/signals"
)

// Request is a single governance request (spec §6's primary RPC).
type Request struct {
	RequestID  string // caller-supplied for idempotency, or generated
	TenantID   string
	AgentID    string
	Role       string
	ToolName   string
	Arguments  jsonlogic.Value
	RawPayload []byte // the opaque payload bytes entropy is measured over
	Envelope   *security.Envelope
	DeadlineMs int
}

// Verdict is the coordinator's terminal answer (spec §6 outputs).
type Verdict struct {
	VerdictClass    gov.VerdictClass
	ReasonCode      gov.ReasonCode
	Reason          string
	TrustScore      float64
	EscrowID        string
	EvidenceHash    string
	SpeculativeHash string
	DecidedAt       time.Time
}

// toolSimulatorKeys maps real tool names onto the ghost-state engine's
// four registered simulator keys. A tool name with no entry fails
// closed inside the ghost-state engine (spec §4.3).
var toolSimulatorKeys = map[string]string{
	"execute_payment":        "payment",
	"transfer_funds":         "transfer",
	"send_external_request":  "external-data-send",
	"send_message":           "message",
	"post_message":           "message",
}

// Coordinator wires every pipeline component into the nine-step
// sequence described by spec §4.9.
type Coordinator struct {
	Policies   *policy.Hierarchy
	Ghost      *ghoststate.Engine
	Snapshots  *SnapshotStore
	Jury       *jury.Jury
	Entropy    *entropy.Window
	Signals    *signals.Collector
	Escrow     *escrow.EscrowStore
	Ledger     *ledger.Ledger
	Reputation *reputation.Manager
	Configs    *config.Cache
	Metrics    *metrics.Metrics
	Baselines  *entropy.BaselineStore

	admissionMu sync.Mutex
	admission   map[string]chan struct{} // tenant_id -> bounded in-flight slots
}

const defaultTenantQueueDepth = 64

// MaxPayloadBytes is the spec §6 default cap on a governance request's
// opaque argument payload (1 MiB). Requests over this size are
// INVALID_REQUEST: an RPC-level error, never ledgered.
const MaxPayloadBytes = 1 << 20

// New wires a Coordinator from its component dependencies. Every field
// must be non-nil in production; tests may supply minimal stand-ins.
func New(policies *policy.Hierarchy, ghost *ghoststate.Engine, snapshots *SnapshotStore,
	j *jury.Jury, ew *entropy.Window, sig *signals.Collector, es *escrow.EscrowStore,
	lg *ledger.Ledger, rep *reputation.Manager, cfgs *config.Cache, m *metrics.Metrics) *Coordinator {
	c := &Coordinator{
		Policies: policies, Ghost: ghost, Snapshots: snapshots, Jury: j, Entropy: ew,
		Signals: sig, Escrow: es, Ledger: lg, Reputation: rep, Configs: cfgs, Metrics: m,
		Baselines: entropy.NewBaselineStore(),
		admission: make(map[string]chan struct{}),
	}
	if es != nil {
		es.OnTerminal = c.onEscrowTerminal
	}
	return c
}

// onEscrowTerminal appends the second ledger entry an escrow item's
// terminal transition requires (I3: a HELD request's ledger history
// ends with exactly one more entry once it resolves to RELEASED or
// REJECTED). RELEASED maps to ALLOW, REJECTED to BLOCK; trust is
// nudged the same way a directly-decided verdict would nudge it.
func (c *Coordinator) onEscrowTerminal(item *escrow.Item) {
	if c.Ledger == nil || item == nil {
		return
	}
	verdict := gov.Block
	if item.Status == gov.EscrowReleased {
		verdict = gov.Allow
	}
	digest := item.TargetHash
	if digest == "" {
		digest = security.HashAttestation(item.Payload)
	}
	trustDelta := trustDeltaFor(verdict)
	entry := &ledger.Entry{
		TenantID: item.TenantID, AgentID: item.AgentID, RequestID: item.RequestID,
		VerdictClass: verdict, PayloadDigest: digest, RecordedAt: time.Now(), TrustDelta: trustDelta,
	}
	if _, err := c.Ledger.Append(context.Background(), entry); err != nil {
		slog.Warn("coordinator: ledger append for escrow terminal transition failed",
			"escrow_id", item.EscrowID, "request_id", item.RequestID, "error", err)
		return
	}
	if c.Reputation != nil {
		agent := c.Reputation.ApplyVerdictOutcome(item.TenantID, item.AgentID, verdict, trustDelta, 0)
		if c.Metrics != nil {
			c.Metrics.AgentTrustScore.WithLabelValues(item.TenantID, item.AgentID).Set(agent.TrustScore)
		}
	}
	if c.Metrics != nil {
		c.Metrics.LedgerAppends.WithLabelValues(item.TenantID, string(verdict)).Inc()
		c.Metrics.PipelineVerdicts.WithLabelValues(item.TenantID, string(verdict)).Inc()
	}
}

func (c *Coordinator) tenantSlot(tenantID string) chan struct{} {
	c.admissionMu.Lock()
	defer c.admissionMu.Unlock()
	ch, ok := c.admission[tenantID]
	if !ok {
		ch = make(chan struct{}, defaultTenantQueueDepth)
		c.admission[tenantID] = ch
	}
	return ch
}

// Govern runs a single request through the full pipeline. It never
// panics on a downstream fault: every dependency failure becomes a
// fail-closed BLOCK per spec §4.9's "Failure-mode defaults."
func (c *Coordinator) Govern(ctx context.Context, req Request) Verdict {
	if len(req.RawPayload) > MaxPayloadBytes {
		// Malformed/over-size payload: INVALID_REQUEST is surfaced as an
		// RPC-level error and is never ledgered (spec §7).
		return Verdict{
			VerdictClass: gov.Block, ReasonCode: gov.ReasonInvalidRequest,
			Reason: fmt.Sprintf("payload exceeds max size of %d bytes", MaxPayloadBytes),
			DecidedAt: time.Now(),
		}
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if c.Signals != nil {
		// Promotes any signal that arrived before this request did
		// (spec §6 "Signal submission": orphaned signals are staged for
		// up to signal_orphan_ttl in case the request arrives subsequently).
		c.Signals.RegisterRequest(req.RequestID)
	}

	slot := c.tenantSlot(req.TenantID)
	select {
	case slot <- struct{}{}:
		defer func() { <-slot }()
	default:
		return c.ledgerAndReturn(ctx, req, gov.Block, gov.ReasonOverloaded, "overloaded", 0, "", "")
	}

	tenantCfg := c.Configs.GetConfig(req.TenantID)
	deadline := time.Duration(tenantCfg.RequestDeadlineMs) * time.Millisecond
	if req.DeadlineMs > 0 {
		deadline = time.Duration(req.DeadlineMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result := make(chan Verdict, 1)
	go func() { result <- c.run(ctx, req, tenantCfg) }()

	select {
	case v := <-result:
		return v
	case <-ctx.Done():
		return c.ledgerAndReturn(ctx, req, gov.Block, gov.ReasonTimeout, "timeout", 0, "", "")
	}
}

// run executes the nine pipeline steps in order. It is always invoked
// with a context already carrying the request deadline.
func (c *Coordinator) run(ctx context.Context, req Request, tenantCfg *config.TenantConfig) Verdict {
	// Step 1: authenticate envelope.
	if req.Envelope != nil {
		if err := security.VerifyEnvelope(*req.Envelope); err != nil {
			return c.ledgerAndReturn(ctx, req, gov.Block, gov.ReasonSecurityBreach, err.Error(), 0, "", "")
		}
	}

	// Kill switch: a killed agent or tenant is BLOCKed before any other
	// component runs (supplemented feature, SPEC_FULL.md §5).
	if c.Reputation.KillSwitch().IsKilled(req.TenantID, req.AgentID) {
		return c.ledgerAndReturn(ctx, req, gov.Block, gov.ReasonSecurityBreach, "agent or tenant kill-switched", 0, "", "")
	}

	// Step 2: load applicable policies.
	policies, err := c.Policies.ListApplicable(ctx, req.TenantID, req.ToolName, req.Role)
	if err != nil {
		return c.ledgerAndReturn(ctx, req, gov.Block, gov.ReasonBackendUnavailable, "policy store unavailable", 0, "", "")
	}

	// Step 3: ghost-state projection, then tier-ordered evaluation.
	current := c.Snapshots.GetOrCreate(req.TenantID, req.AgentID)
	simKey := req.ToolName
	if mapped, ok := toolSimulatorKeys[req.ToolName]; ok {
		simKey = mapped
	}
	ghost, err := c.Ghost.Simulate(current, simKey, req.Arguments)
	if err != nil {
		return c.ledgerAndReturn(ctx, req, gov.Block, gov.ReasonPolicyViolation, err.Error(), 0, "", "")
	}
	dataView := ghost.DataView()

	violated, violationReason, err := policy.EvaluateWithPrecedence(policies, dataView)
	if err != nil {
		return c.ledgerAndReturn(ctx, req, gov.Block, gov.ReasonBackendUnavailable, "policy evaluation failed", 0, "", ghost.Hash())
	}

	var tentative gov.VerdictClass
	var reason string
	var trustScore float64

	if violated != nil {
		tentative = violated.Action.OnFail
		reason = violationReason

		// Step 5 (for a matched policy): required-signal check.
		if len(violated.Action.RequiredSignals) > 0 {
			ok, missing := c.Signals.Verify(req.RequestID, violated.Action.RequiredSignals)
			if !ok {
				tentative = gov.Hold
				reason = "missing:" + joinSignalTypes(missing)
			}
		}
	} else {
		// Step 4: jury and entropy run concurrently with a barrier join.
		jv, ev := c.auditConcurrently(ctx, req, dataView, ghost, tenantCfg)
		tentative, reason, trustScore = combineAuditOutcome(jv, ev)
	}

	// Step 6: escrow hold for HOLD verdicts.
	var escrowID string
	if tentative == gov.Hold {
		id, err := c.Escrow.Hold(ctx, req.RequestID, req.TenantID, req.AgentID, req.RawPayload, ghost.Hash())
		if err != nil {
			return c.ledgerAndReturn(ctx, req, gov.Block, gov.ReasonBackendUnavailable, "escrow store unavailable", 0, ghost.Hash(), "")
		}
		escrowID = id
		if c.Metrics != nil {
			c.Metrics.EscrowHeld.WithLabelValues(req.TenantID).Inc()
		}
	}

	reasonCode := reasonCodeFor(tentative, reason)
	v := c.ledgerAndReturn(ctx, req, tentative, reasonCode, reason, trustScore, ghost.Hash(), escrowID)
	return v
}

// auditConcurrently runs the jury panel and the entropy monitor
// concurrently, joining at a barrier before the pipeline proceeds
// (spec §5: "Jury and Entropy Monitor run concurrently with a barrier
// join").
func (c *Coordinator) auditConcurrently(ctx context.Context, req Request, dataView jsonlogic.Value,
	ghost *ghoststate.GhostState, tenantCfg *config.TenantConfig) (jury.Result, entropy.Result) {

	var juryResult jury.Result
	var entropyResult entropy.Result
	done := make(chan struct{}, 2)

	go func() {
		juryResult = c.Jury.Run(ctx, jury.Request{
			TenantID: req.TenantID, AgentID: req.AgentID, ToolName: req.ToolName,
			Arguments: req.Arguments, GhostView: dataView,
		})
		done <- struct{}{}
	}()

	go func() {
		verdict, score := entropy.ClassifyPayload(req.RawPayload, entropy.Thresholds{
			Suspicious: tenantCfg.PayloadEntropyCleanMax, Encrypted: tenantCfg.PayloadEntropySuspiciousMax,
		})
		anomalyType, anomalyScore := entropy.AnomalyType(""), 0.0
		if c.Entropy != nil {
			if n, err := c.Entropy.RequestsInLastHour(ctx, req.TenantID, req.AgentID, time.Now()); err == nil {
				baseline := c.Baselines.Get(req.TenantID, req.AgentID)
				anomalyType, anomalyScore = entropy.EvaluateVelocityDrift(n, req.ToolName, requestResource(req.Arguments), baseline, tenantCfg.VelocityMultiplier)
			}
			_ = c.Entropy.Record(ctx, req.TenantID, req.AgentID, time.Now())
		}
		// A declining trust trend across the ledger's trailing two weeks
		// feeds the same DRIFT anomaly the behavioral-baseline check
		// reports, at its spec §4.5 score (0.7), whenever it is the more
		// severe of the two.
		if c.Ledger != nil {
			if _, alert, err := c.Ledger.ComputeTrustDrift(ctx, req.TenantID, req.AgentID, time.Now()); err == nil && alert && anomalyScore < 0.7 {
				anomalyType, anomalyScore = entropy.AnomalyDrift, 0.7
			}
		}
		entropyResult = entropy.Result{PayloadVerdict: verdict, PayloadScore: score, AnomalyType: anomalyType, AnomalyScore: anomalyScore}
		done <- struct{}{}
	}()

	<-done
	<-done
	return juryResult, entropyResult
}

// combineAuditOutcome implements spec §4.9 step 4's combination rules,
// in the order they're listed: jury REJECT dominates, then entropy
// ENCRYPTED, then entropy SUSPICIOUS or drift-anomaly above 0.6, else
// a jury APPROVE with CLEAN entropy becomes a candidate ALLOW.
func combineAuditOutcome(jv jury.Result, ev entropy.Result) (gov.VerdictClass, string, float64) {
	if jv.FailClosed || jv.Verdict == gov.VoteReject {
		reason := jv.Reason
		if reason == "" {
			reason = "jury rejected"
		}
		return gov.Block, reason, jv.Consensus
	}
	if ev.PayloadVerdict == entropy.Encrypted {
		return gov.Block, "entropy:ENCRYPTED", jv.Consensus
	}
	if ev.PayloadVerdict == entropy.Suspicious || ev.AnomalyScore > 0.6 {
		reason := "entropy:" + string(ev.PayloadVerdict)
		if ev.AnomalyScore > 0.6 {
			reason = "anomaly:" + string(ev.AnomalyType)
		}
		return gov.Hold, reason, jv.Consensus
	}
	return gov.Allow, "jury approved, entropy clean", jv.Consensus
}

func reasonCodeFor(verdict gov.VerdictClass, reason string) gov.ReasonCode {
	switch {
	case strings.HasPrefix(reason, "missing:"):
		return gov.ReasonMissingSignal
	case strings.HasPrefix(reason, "anomaly:"):
		return gov.ReasonBehavioralAnomaly
	case reason == "entropy:ENCRYPTED":
		return gov.ReasonEntropyBlock
	case reason == "insufficient quorum":
		return gov.ReasonInsufficientQuorum
	case verdict == gov.Allow:
		return gov.ReasonOK
	default:
		return gov.ReasonPolicyViolation
	}
}

// requestResource extracts the resource a request's arguments target,
// for the entropy monitor's scope-drift check. Only the argument names
// the bundled tool simulators recognize are consulted; anything else
// yields "" (scope-drift stays dormant for that request).
func requestResource(args jsonlogic.Value) string {
	for _, field := range []string{"from_account", "to_account", "destination_type", "destination"} {
		if v, ok := jsonlogic.LookupVar(args, field); ok && v.Kind == jsonlogic.KindString {
			return v.S
		}
	}
	return ""
}

func joinSignalTypes(types []gov.SignalType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// ledgerAndReturn appends the terminal ledger entry (if the ledger is
// reachable) and, only after a successful append, updates the agent's
// trust score before constructing the returned Verdict (spec §4.9 step
// 7: "Only after a successful append: update agent trust/reputation").
func (c *Coordinator) ledgerAndReturn(ctx context.Context, req Request, verdict gov.VerdictClass,
	reasonCode gov.ReasonCode, reason string, trustScore float64, speculativeHash, escrowID string) Verdict {

	now := time.Now()
	digest := security.HashAttestation(req.RawPayload)
	trustDelta := trustDeltaFor(verdict)

	if c.Reputation != nil {
		// Tri-factor trust computation (spec §4.4): executed whenever a
		// score is attached to a verdict, using the agent's state as of
		// just before this outcome is applied.
		trustScore = c.triFactorTrustScore(req, now)
	}

	entry := &ledger.Entry{
		TenantID: req.TenantID, AgentID: req.AgentID, RequestID: req.RequestID,
		VerdictClass: verdict, PayloadDigest: digest, RecordedAt: now, TrustDelta: trustDelta,
	}
	committed, err := c.Ledger.Append(ctx, entry)
	evidenceHash := digest
	if err != nil {
		slog.Warn("coordinator: ledger append failed, surfacing as BLOCK without trust update",
			"tenant_id", req.TenantID, "request_id", req.RequestID, "error", err)
		if verdict != gov.Block {
			reasonCode = gov.ReasonBackendUnavailable
			reason = "governance unavailable"
			verdict = gov.Block
		}
	} else {
		agent := c.Reputation.ApplyVerdictOutcome(req.TenantID, req.AgentID, verdict, trustDelta, 0)
		evidenceHash = committed.BlockHash
		if c.Metrics != nil {
			c.Metrics.LedgerAppends.WithLabelValues(req.TenantID, string(verdict)).Inc()
			c.Metrics.PipelineVerdicts.WithLabelValues(req.TenantID, string(verdict)).Inc()
			c.Metrics.AgentTrustScore.WithLabelValues(req.TenantID, req.AgentID).Set(agent.TrustScore)
		}
		// Behavioral-baseline update (spec §4.4): only after a
		// non-failing verdict is ledger-committed, never before.
		if verdict == gov.Allow && c.Baselines != nil {
			var n int
			if c.Entropy != nil {
				n, _ = c.Entropy.RequestsInLastHour(ctx, req.TenantID, req.AgentID, now)
			}
			c.Baselines.Record(req.TenantID, req.AgentID, req.ToolName, requestResource(req.Arguments), n)
		}
	}

	return Verdict{
		VerdictClass: verdict, ReasonCode: reasonCode, Reason: reason, TrustScore: trustScore,
		EscrowID: escrowID, EvidenceHash: evidenceHash, SpeculativeHash: speculativeHash, DecidedAt: now,
	}
}

// triFactorTrustScore computes the spec §4.4 tri-factor trust score
// (0.40*audit + 0.30*reputation + 0.20*attestation + 0.10*history) from
// the agent's state as of just before this request's outcome is
// applied, the envelope's authentication state, and the freshest
// unexpired signal attached to the request. This is the Verdict's
// trust_score; it is distinct from the Agent.trust_score the
// reputation manager mutates via flat ledger-committed deltas.
func (c *Coordinator) triFactorTrustScore(req Request, now time.Time) float64 {
	agent := c.Reputation.GetOrCreate(req.TenantID, req.AgentID)

	audit := jury.AuditScore(jury.AuditChecks{
		SignatureValid:   req.Envelope != nil,
		HashVerified:     true,
		CertificateValid: req.Envelope != nil,
		NonceFresh:       true,
	})
	reputationScore := jury.ReputationScore(agent.SuccessCount, agent.TotalCount, agent.Blacklisted)

	attestation := 0.2 // default bucket: no unexpired signal to attest freshness against.
	if c.Signals != nil {
		if attestedAt, expiresAt, ok := c.Signals.MostRecent(req.RequestID); ok {
			attestation = jury.AttestationScore(attestedAt, &expiresAt, now)
		}
	}

	history := jury.HistoryScore(now.Sub(agent.RelationshipSince), agent.TotalCount)

	return jury.Compute(jury.Components{
		Audit: audit, Reputation: reputationScore, Attestation: attestation, History: history,
	}, jury.DefaultTrustWeights())
}

// trustDeltaFor is a small, deliberately conservative trust nudge: an
// ALLOW nudges trust up, BLOCK/HOLD nudge it down, matching
// original_source/trust-registry's "no trust without audit" rule (P5)
// without inventing a scoring model the spec never describes.
func trustDeltaFor(verdict gov.VerdictClass) float64 {
	switch verdict {
	case gov.Allow:
		return 0.01
	case gov.Hold:
		return -0.01
	default:
		return -0.05
	}
}
