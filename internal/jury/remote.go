package jury

import (
	"context"
	"encoding/json"

	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/pb"
)

// RemoteJuror adapts a pb.JurorServiceClient (a gRPC client, or the
// in-process pb.MockJurorClient) to the local Juror
// interface, so the Jury aggregator never distinguishes local from
// remote jurors.
type RemoteJuror struct {
	Client pb.JurorServiceClient
}

func (r *RemoteJuror) Evaluate(ctx context.Context, req Request) (Vote, error) {
	argsJSON, err := json.Marshal(req.Arguments.ToInterface())
	if err != nil {
		return Vote{}, err
	}
	ghostJSON, err := json.Marshal(req.GhostView.ToInterface())
	if err != nil {
		return Vote{}, err
	}
	reply, err := r.Client.Evaluate(ctx, &pb.JurorRequest{
		TenantId: req.TenantID, AgentId: req.AgentID, ToolName: req.ToolName,
		ArgumentsJSON: string(argsJSON), GhostViewJSON: string(ghostJSON),
	})
	if err != nil {
		return Vote{}, err
	}
	decision := gov.AuditorVote(reply.Decision)
	switch decision {
	case gov.VoteApprove, gov.VoteReject, gov.VoteAbstain:
	default:
		decision = gov.VoteAbstain
	}
	return Vote{Decision: decision, TrustScore: reply.TrustScore, Reasoning: reply.Reasoning}, nil
}
