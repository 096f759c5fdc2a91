// Package tests exercises the governance pipeline end-to-end: real
// Coordinator, Policy Hierarchy, Ghost-State Engine, Jury, Escrow
// Store, and Ledger wired together exactly as cmd/governord wires
// them (in-memory stores standing in for the Postgres/Redis-backed
// production stores), reproducing the literal scenarios from spec §8.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/ocx/governance-core/internal/config"
	"github.com/ocx/governance-core/internal/coordinator"
	"github.com/ocx/governance-core/internal/escrow"
	"github.com/ocx/governance-core/internal/ghoststate"
	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
	"github.com/ocx/governance-core/internal/jury"
	"github.com/ocx/governance-core/internal/ledger"
	"github.com/ocx/governance-core/internal/policy"
	"github.com/ocx/governance-core/internal/reputation"
	"github.com/ocx/governance-core/internal/signals"
)

type harness struct {
	coord   *coordinator.Coordinator
	policies *policy.Hierarchy
	escrow  *escrow.EscrowStore
	ledger  *ledger.Ledger
	ledgerStore *ledger.MemoryStore
	signals *signals.Collector
}

func approvingJury(trustScore float64) *jury.Jury {
	panel := []jury.Weighted{
		{Name: "a", Weight: 1.0, Juror: jury.JurorFunc(func(ctx context.Context, req jury.Request) (jury.Vote, error) {
			return jury.Vote{Decision: gov.VoteApprove, TrustScore: trustScore}, nil
		})},
	}
	return jury.New(panel, jury.DefaultConfig())
}

func newE2EHarness(t *testing.T) *harness {
	t.Helper()
	policies := policy.NewHierarchy(policy.NewMemoryStore())
	ghostEngine := ghoststate.NewEngine()
	snapshots := coordinator.NewSnapshotStore()
	j := approvingJury(0.9)
	sig := signals.NewCollector(5 * time.Minute)
	es := escrow.NewEscrowStore(escrow.NewMemoryStore(), nil, 24*time.Hour)
	store := ledger.NewMemoryStore()
	lg := ledger.New(store)
	rep := reputation.NewManager()
	cfgs := config.NewCache(nil, config.TenantDefaults{
		QuorumThreshold: 0.66, JurorTimeoutMs: 200, RequestDeadlineMs: 2000,
		PayloadEntropyClean: 6.0, PayloadEntropySuspect: 7.5, VelocityMultiplier: 3.0,
		FailMode: "closed",
	})
	coord := coordinator.New(policies, ghostEngine, snapshots, j, nil, sig, es, lg, rep, cfgs, nil)
	snapshots.Seed("t1", "agent-1", &ghoststate.Snapshot{
		AgentID: "agent-1", AccountBalances: map[string]float64{"checking": 50000},
		DataLocations: map[string]string{}, PendingApprovals: map[string]bool{},
	})
	return &harness{coord: coord, policies: policies, escrow: es, ledger: lg, ledgerStore: store, signals: sig}
}

// Scenario 2 (spec §8): over-threshold payment held pending a CTO
// signature, then released once the signature arrives and both
// jury_approved and entropy_safe hold. The ledger must show exactly
// two entries for the request in order: HELD, then RELEASED.
func TestSignatureAttachedThenReleaseSucceeds(t *testing.T) {
	h := newE2EHarness(t)
	ctx := context.Background()

	logic := jsonlogic.Object(map[string]jsonlogic.Value{
		">": jsonlogic.Array([]jsonlogic.Value{
			jsonlogic.Object(map[string]jsonlogic.Value{"var": jsonlogic.String("payload.amount")}),
			jsonlogic.Number(10000),
		}),
	})
	if _, err := h.policies.Add(ctx, &policy.Policy{
		TenantID: "t1", Tier: gov.TierContextual, TriggerIntent: "execute_payment",
		Logic: logic, Confidence: 0.9,
		Action: policy.Action{OnFail: gov.Hold, RequiredSignals: []gov.SignalType{gov.SignalCTOSignature}},
	}); err != nil {
		t.Fatal(err)
	}

	req := coordinator.Request{
		RequestID: "r2", TenantID: "t1", AgentID: "agent-1", ToolName: "execute_payment",
		Arguments: jsonlogic.Object(map[string]jsonlogic.Value{
			"amount": jsonlogic.Number(15000), "from_account": jsonlogic.String("checking"),
		}),
		RawPayload: []byte(`{"amount":15000}`),
	}
	v := h.coord.Govern(ctx, req)
	if v.VerdictClass != gov.Hold {
		t.Fatalf("expected HOLD, got %s (%s)", v.VerdictClass, v.Reason)
	}
	if v.EscrowID == "" {
		t.Fatal("expected an escrow_id on HOLD")
	}

	h.signals.Add(signals.Signal{
		Type: gov.SignalCTOSignature, RequestID: "r2", TenantID: "t1",
		Value: "valid", ExpiresAt: time.Now().Add(5 * time.Minute),
	})

	success, payload, err := h.escrow.Release(ctx, v.EscrowID, true, true)
	if err != nil {
		t.Fatalf("release errored: %v", err)
	}
	if !success {
		t.Fatal("expected release to succeed once jury_approved && entropy_safe")
	}
	if string(payload) != string(req.RawPayload) {
		t.Fatalf("released payload mismatch: got %q", payload)
	}

	item, err := h.escrow.Lookup(v.EscrowID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != gov.EscrowReleased {
		t.Fatalf("expected escrow status RELEASED, got %s", item.Status)
	}

	entries, err := h.ledgerStore.All(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	var forR2 []*ledger.Entry
	for _, e := range entries {
		if e.RequestID == "r2" {
			forR2 = append(forR2, e)
		}
	}
	if len(forR2) != 2 {
		t.Fatalf("expected exactly 2 ledger entries for r2 (HELD, RELEASED), got %d", len(forR2))
	}
	if forR2[0].VerdictClass != gov.Hold {
		t.Fatalf("first entry should be HOLD, got %s", forR2[0].VerdictClass)
	}
	if forR2[1].VerdictClass != gov.Allow {
		t.Fatalf("second entry should be ALLOW (released), got %s", forR2[1].VerdictClass)
	}
}

// Scenario 5 (spec §8): payload entropy uniformly random over 4096
// bytes classifies ENCRYPTED and blocks even with no matching policy.
func TestHighEntropyPayloadBlocks(t *testing.T) {
	h := newE2EHarness(t)
	ctx := context.Background()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte((i*167 + 31) % 256)
	}

	req := coordinator.Request{
		RequestID: "r5", TenantID: "t1", AgentID: "agent-1", ToolName: "send_message",
		Arguments:  jsonlogic.Object(map[string]jsonlogic.Value{}),
		RawPayload: payload,
	}
	v := h.coord.Govern(ctx, req)
	if v.VerdictClass != gov.Block {
		t.Fatalf("expected BLOCK for high-entropy payload, got %s (%s)", v.VerdictClass, v.Reason)
	}
	if v.ReasonCode != gov.ReasonEntropyBlock {
		t.Fatalf("expected ENTROPY_BLOCK reason code, got %s", v.ReasonCode)
	}

	entry, err := h.ledger.Lookup(ctx, "r5")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatal("expected a ledger entry for the blocked request")
	}
}

// Scenario 6 (spec §8): flipping one byte inside a committed entry
// makes Verify report the first mismatching entry.
func TestTamperDetectionAcrossCommittedVerdicts(t *testing.T) {
	h := newE2EHarness(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		req := coordinator.Request{
			RequestID: "tamper-" + string(rune('a'+i)), TenantID: "t6", AgentID: "agent-1",
			ToolName: "send_message", Arguments: jsonlogic.Object(map[string]jsonlogic.Value{}),
			RawPayload: []byte("clean payload"),
		}
		h.coord.Govern(ctx, req)
	}

	ok, badID, err := h.ledger.Verify(ctx, "t6")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || badID != "" {
		t.Fatalf("expected a clean chain before tampering, got ok=%v badID=%q", ok, badID)
	}

	h.ledgerStore.Tamper("t6", 4, func(e *ledger.Entry) {
		e.PayloadDigest = "deadbeef"
	})

	ok, badID, err = h.ledger.Verify(ctx, "t6")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected Verify to detect the tamper")
	}
	if badID == "" {
		t.Fatal("expected Verify to report the first mismatching entry_id")
	}
}

// P8 (snapshot isolation): simulating a tool call never mutates the
// live snapshot the coordinator read it from.
func TestGhostSimulationNeverMutatesLiveSnapshot(t *testing.T) {
	h := newE2EHarness(t)
	ctx := context.Background()

	req := coordinator.Request{
		RequestID: "p8", TenantID: "t1", AgentID: "agent-1", ToolName: "execute_payment",
		Arguments: jsonlogic.Object(map[string]jsonlogic.Value{
			"amount": jsonlogic.Number(100), "from_account": jsonlogic.String("checking"),
		}),
		RawPayload: []byte(`{"amount":100}`),
	}
	h.coord.Govern(ctx, req)

	live := h.coord.Snapshots.GetOrCreate("t1", "agent-1")
	if live.AccountBalances["checking"] != 50000 {
		t.Fatalf("live snapshot balance must be untouched by simulation, got %v", live.AccountBalances["checking"])
	}
}
