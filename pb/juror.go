// Package pb hand-declares the gRPC message and service types for the
// remote juror surface. No protoc toolchain is
// invoked anywhere in this build; this mirrors the teacher's own
// pb/mock.go, which hand-declares grpc/protobuf-compatible types
// without a generated .pb.go file.
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// JurorRequest is the wire shape sent to a remote juror.
type JurorRequest struct {
	TenantId     string
	AgentId      string
	ToolName     string
	ArgumentsJSON string
	GhostViewJSON string
	RequestedAt  *timestamppb.Timestamp
}

// JurorReply is the wire shape returned by a remote juror.
type JurorReply struct {
	Decision   string // APPROVE | REJECT | ABSTAIN
	TrustScore float64
	Reasoning  string
}

// JurorServiceClient is the hand-declared client interface for the
// remote juror service; MockJurorClient implements it in-process, and a
// generated gRPC stub would implement it in a full build.
type JurorServiceClient interface {
	Evaluate(ctx context.Context, in *JurorRequest, opts ...grpc.CallOption) (*JurorReply, error)
}

// MockJurorClient is an in-process stand-in used by tests and by the
// in-memory coordinator wiring, in place of a real grpc.ClientConn.
type MockJurorClient struct {
	Respond func(ctx context.Context, in *JurorRequest) (*JurorReply, error)
}

func (m *MockJurorClient) Evaluate(ctx context.Context, in *JurorRequest, _ ...grpc.CallOption) (*JurorReply, error) {
	return m.Respond(ctx, in)
}
