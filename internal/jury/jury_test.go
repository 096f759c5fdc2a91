package jury

import (
	"context"
	"testing"
	"time"

	"github.com/ocx/governance-core/internal/gov"
)

func approver(score float64) Juror {
	return JurorFunc(func(ctx context.Context, req Request) (Vote, error) {
		return Vote{Decision: gov.VoteApprove, TrustScore: score}, nil
	})
}

func rejector() Juror {
	return JurorFunc(func(ctx context.Context, req Request) (Vote, error) {
		return Vote{Decision: gov.VoteReject}, nil
	})
}

func slowJuror(d time.Duration) Juror {
	return JurorFunc(func(ctx context.Context, req Request) (Vote, error) {
		select {
		case <-time.After(d):
			return Vote{Decision: gov.VoteApprove}, nil
		case <-ctx.Done():
			return Vote{}, ctx.Err()
		}
	})
}

func TestJuryApprovesAboveQuorum(t *testing.T) {
	panel := []Weighted{
		{Name: "a", Juror: approver(0.9), Weight: 0.4},
		{Name: "b", Juror: approver(0.8), Weight: 0.3},
		{Name: "c", Juror: approver(0.7), Weight: 0.3},
	}
	j := New(panel, DefaultConfig())
	res := j.Run(context.Background(), Request{})
	if res.Verdict != gov.VoteApprove {
		t.Fatalf("expected APPROVE, got %v (consensus=%v)", res.Verdict, res.Consensus)
	}
}

func TestJuryRejectsBelowQuorum(t *testing.T) {
	panel := []Weighted{
		{Name: "a", Juror: approver(0.9), Weight: 0.3},
		{Name: "b", Juror: rejector(), Weight: 0.7},
	}
	j := New(panel, DefaultConfig())
	res := j.Run(context.Background(), Request{})
	if res.Verdict != gov.VoteReject {
		t.Fatalf("expected REJECT, got %v", res.Verdict)
	}
}

func TestJurorTimeoutBecomesAbstain(t *testing.T) {
	panel := []Weighted{
		{Name: "fast", Juror: approver(0.9), Weight: 0.5},
		{Name: "slow", Juror: slowJuror(time.Second), Weight: 0.5},
	}
	cfg := Config{QuorumThreshold: 0.4, JurorTimeout: 20 * time.Millisecond}
	j := New(panel, cfg)
	start := time.Now()
	res := j.Run(context.Background(), Request{})
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("expected juror timeout to bound total run time")
	}
	if res.RespondedWeight != 0.5 {
		t.Fatalf("expected only the fast juror to count toward responded weight, got %v", res.RespondedWeight)
	}
}

func TestInsufficientQuorumFailsClosed(t *testing.T) {
	panel := []Weighted{
		{Name: "slow1", Juror: slowJuror(time.Second), Weight: 0.5},
		{Name: "slow2", Juror: slowJuror(time.Second), Weight: 0.5},
	}
	cfg := Config{QuorumThreshold: 0.66, JurorTimeout: 10 * time.Millisecond}
	j := New(panel, cfg)
	res := j.Run(context.Background(), Request{})
	if !res.FailClosed || res.Verdict != gov.VoteReject {
		t.Fatalf("expected fail-closed REJECT on insufficient quorum, got %+v", res)
	}
}

func TestUnanimousRequired(t *testing.T) {
	panel := []Weighted{
		{Name: "a", Juror: approver(0.9), Weight: 0.5},
		{Name: "b", Juror: rejector(), Weight: 0.1},
	}
	cfg := Config{QuorumThreshold: 0.5, UnanimousRequired: true, JurorTimeout: 50 * time.Millisecond}
	j := New(panel, cfg)
	res := j.Run(context.Background(), Request{})
	if res.Verdict != gov.VoteReject {
		t.Fatalf("expected non-unanimous panel to reject under unanimous_required, got %v", res.Verdict)
	}
}

func TestTrustScoreFormula(t *testing.T) {
	w := DefaultTrustWeights()
	c := Components{Audit: 1.0, Reputation: 0.5, Attestation: 1.0, History: 0.5}
	got := Compute(c, w)
	want := 0.40*1.0 + 0.30*0.5 + 0.20*1.0 + 0.10*0.5
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestReputationScoreBlacklistedIsZero(t *testing.T) {
	if ReputationScore(10, 10, true) != 0 {
		t.Fatal("blacklisted agent must score 0 reputation")
	}
}

func TestReputationScoreUnknownAgentIsConservativeDefault(t *testing.T) {
	if ReputationScore(0, 0, false) != 0.5 {
		t.Fatal("unknown agent (n=0) must default to 0.5")
	}
}

func TestAttestationScoreBuckets(t *testing.T) {
	now := time.Now()
	if AttestationScore(now.Add(-30*time.Minute), nil, now) != 1.0 {
		t.Fatal("expected <1h bucket 1.0")
	}
	if AttestationScore(now.Add(-10*time.Hour), nil, now) != 0.8 {
		t.Fatal("expected <24h bucket 0.8")
	}
	expired := now.Add(-time.Minute)
	if AttestationScore(now.Add(-time.Minute), &expired, now) != 0 {
		t.Fatal("expected expired attestation to score 0")
	}
}
