// Package reputation tracks per-(tenant,agent) trust score, tier,
// balance, and interaction history, mutated only by ledger-committed
// verdicts (I7: an orphaned trust update is a bug).
//
// Grounded on
// _examples/Generativebots-ocx-backend-go-svc/internal/reputation/reputation_manager.go
// (tenant-scoped maps keyed "tenantID:agentID", interaction recording
// with time decay) and internal/reputation/wallet.go's tier
// transitions; kill-switch escalation adapted from
// internal/escrow/kill_switch.go.
package reputation

import (
	"sync"
	"time"

	"github.com/ocx/governance-core/internal/gov"
)

// Agent is the mutable per-(tenant,agent) reputation record.
type Agent struct {
	TenantID         string
	AgentID          string
	TrustScore       float64
	Tier             gov.AgentTier
	Balance          int64 // micro-credits
	SuccessCount     int
	TotalCount       int
	RelationshipSince time.Time
	LastUpdated      time.Time
	Blacklisted      bool
}

func tierFor(score float64, blacklisted bool) gov.AgentTier {
	switch {
	case blacklisted:
		return gov.TierQuarantined
	case score >= 0.85:
		return gov.TierSovereign
	case score >= 0.6:
		return gov.TierTrusted
	case score >= 0.3:
		return gov.TierProbation
	default:
		return gov.TierQuarantined
	}
}

// Manager owns the in-memory agent registry. Every mutation here MUST
// be driven by a ledger.Entry that was already durably appended — the
// coordinator enforces ordering, not this package.
type Manager struct {
	mu     sync.Mutex
	agents map[string]*Agent // "tenantID:agentID" -> Agent
	now    func() time.Time

	kill *KillSwitch
}

func NewManager() *Manager {
	return &Manager{agents: make(map[string]*Agent), now: time.Now, kill: NewKillSwitch()}
}

func agentKey(tenantID, agentID string) string { return tenantID + ":" + agentID }

// GetOrCreate returns the agent record, creating a conservative
// default (trust_score 0.5, tier PROBATION) on first sighting.
func (m *Manager) GetOrCreate(tenantID, agentID string) *Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := agentKey(tenantID, agentID)
	a, ok := m.agents[k]
	if !ok {
		a = &Agent{
			TenantID: tenantID, AgentID: agentID, TrustScore: 0.5,
			Tier: gov.TierProbation, RelationshipSince: m.now(), LastUpdated: m.now(),
		}
		m.agents[k] = a
	}
	cp := *a
	return &cp
}

// ApplyVerdictOutcome updates trust/balance/interaction counters as
// the direct, ledger-committed consequence of a single request. Call
// this ONLY after the ledger append for that request has succeeded.
func (m *Manager) ApplyVerdictOutcome(tenantID, agentID string, verdict gov.VerdictClass, trustDelta float64, balanceDelta int64) *Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := agentKey(tenantID, agentID)
	a, ok := m.agents[k]
	if !ok {
		a = &Agent{TenantID: tenantID, AgentID: agentID, TrustScore: 0.5, RelationshipSince: m.now()}
		m.agents[k] = a
	}
	a.TotalCount++
	if verdict == gov.Allow {
		a.SuccessCount++
	}
	a.TrustScore += trustDelta
	if a.TrustScore > 1 {
		a.TrustScore = 1
	}
	if a.TrustScore < 0 {
		a.TrustScore = 0
	}
	a.Balance += balanceDelta
	a.LastUpdated = m.now()
	a.Tier = tierFor(a.TrustScore, a.Blacklisted || m.kill.IsKilled(tenantID, agentID))
	cp := *a
	return &cp
}

// Blacklist marks an agent permanently untrusted (reputation_score
// forced to 0 per spec §4.4).
func (m *Manager) Blacklist(tenantID, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := agentKey(tenantID, agentID)
	if a, ok := m.agents[k]; ok {
		a.Blacklisted = true
		a.Tier = gov.TierQuarantined
	}
}

// KillSwitch exposes the manager's escalation control.
func (m *Manager) KillSwitch() *KillSwitch { return m.kill }
