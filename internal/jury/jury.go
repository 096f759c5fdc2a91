// Package jury implements the multi-auditor cognitive jury: M juror
// evaluators run concurrently over a request, each returning a vote
// plus a trust score, aggregated by weighted consensus.
//
// The juror-interface shape (single-method capability interfaces
// instead of a class hierarchy) is grounded on
// original_source/trust-registry/jury.py's BaseAuditor/weighted
// auditors. The concurrency pattern — task group with a deadline,
// ABSTAIN on timeout, barrier join before aggregation — is grounded on
// _examples/Generativebots-ocx-backend-go-svc/internal/arbitrator/speculative_executor.go's
// channel+select idiom.
package jury

import (
	"context"
	"sync"
	"time"

	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
)

// Request is what every juror receives: the governed request's tenant,
// agent, tool name and arguments, and the ghost state's projected data
// view. It does not carry the applicable policy set.
type Request struct {
	TenantID  string
	AgentID   string
	ToolName  string
	Arguments jsonlogic.Value
	GhostView jsonlogic.Value
}

// Vote is a single juror's opinion.
type Vote struct {
	Decision   gov.AuditorVote
	TrustScore float64
	Reasoning  string
}

// Juror is the single-method capability interface every auditor
// implements, whether local or backed by a remote RPC call.
type Juror interface {
	Evaluate(ctx context.Context, req Request) (Vote, error)
}

// JurorFunc adapts a function to Juror.
type JurorFunc func(ctx context.Context, req Request) (Vote, error)

func (f JurorFunc) Evaluate(ctx context.Context, req Request) (Vote, error) { return f(ctx, req) }

// Weighted pairs a juror with its configured weight wᵢ ∈ [0,1].
type Weighted struct {
	Name   string
	Juror  Juror
	Weight float64
}

// Config governs quorum and timeout behavior (spec §6 configuration
// surface: quorum_threshold, unanimous_required, juror_timeout_ms).
type Config struct {
	QuorumThreshold   float64
	UnanimousRequired bool
	JurorTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{QuorumThreshold: 0.66, UnanimousRequired: false, JurorTimeout: 200 * time.Millisecond}
}

// Jury aggregates a fixed panel of weighted jurors.
type Jury struct {
	panel []Weighted
	cfg   Config
}

func New(panel []Weighted, cfg Config) *Jury {
	return &Jury{panel: panel, cfg: cfg}
}

// voteRecord is an internal per-juror outcome, always produced even on
// timeout (as ABSTAIN, weight 0 contribution) so the barrier join has
// a uniform shape to aggregate over.
type voteRecord struct {
	weight     float64
	vote       Vote
	timedOut   bool
}

// Result is the jury's aggregated outcome.
type Result struct {
	Consensus       float64 // S/T over responding jurors
	Verdict         gov.AuditorVote
	RespondedWeight float64
	TotalWeight     float64
	Votes           []Vote
	FailClosed      bool
	Reason          string
}

// Run executes every juror concurrently under its own per-juror
// timeout budget (default 200ms), then aggregates via weighted
// consensus. Cancellation of ctx propagates to all in-flight jurors.
func (j *Jury) Run(ctx context.Context, req Request) Result {
	records := make([]voteRecord, len(j.panel))
	var wg sync.WaitGroup
	wg.Add(len(j.panel))

	for i, w := range j.panel {
		go func(i int, w Weighted) {
			defer wg.Done()
			jctx, cancel := context.WithTimeout(ctx, j.cfg.JurorTimeout)
			defer cancel()

			done := make(chan Vote, 1)
			errCh := make(chan error, 1)
			go func() {
				v, err := w.Juror.Evaluate(jctx, req)
				if err != nil {
					errCh <- err
					return
				}
				done <- v
			}()

			select {
			case v := <-done:
				records[i] = voteRecord{weight: w.Weight, vote: v}
			case <-errCh:
				records[i] = voteRecord{weight: 0, vote: Vote{Decision: gov.VoteAbstain, Reasoning: "juror error"}, timedOut: true}
			case <-jctx.Done():
				records[i] = voteRecord{weight: 0, vote: Vote{Decision: gov.VoteAbstain, Reasoning: "juror timeout"}, timedOut: true}
			}
		}(i, w)
	}
	wg.Wait()

	var totalWeight, respondedWeight, approveWeight float64
	votes := make([]Vote, 0, len(records))
	unanimousDecision := gov.AuditorVote("")
	unanimous := true
	for _, w := range j.panel {
		totalWeight += w.Weight
	}
	for _, r := range records {
		votes = append(votes, r.vote)
		if r.timedOut {
			continue
		}
		respondedWeight += r.weight
		if r.vote.Decision == gov.VoteApprove {
			approveWeight += r.weight
		}
		if unanimousDecision == "" {
			unanimousDecision = r.vote.Decision
		} else if unanimousDecision != r.vote.Decision {
			unanimous = false
		}
	}

	if totalWeight == 0 || respondedWeight/totalWeight < j.cfg.QuorumThreshold {
		return Result{
			Votes: votes, TotalWeight: totalWeight, RespondedWeight: respondedWeight,
			FailClosed: true, Verdict: gov.VoteReject,
			Reason: "insufficient quorum",
		}
	}

	consensus := approveWeight / totalWeight
	verdict := gov.VoteReject
	if consensus >= j.cfg.QuorumThreshold && (!j.cfg.UnanimousRequired || unanimous) {
		verdict = gov.VoteApprove
	}

	return Result{
		Consensus: consensus, Verdict: verdict,
		RespondedWeight: respondedWeight, TotalWeight: totalWeight,
		Votes: votes,
	}
}
