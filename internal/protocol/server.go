// Framed governance server: a TCP listener that decodes Frame
// messages (MessageGovern, MessageSignalSubmit, MessageEscrowRelease)
// and dispatches them onto the same Coordinator/Collector/EscrowStore
// the HTTP surface in internal/api uses. This is the "transport-
// agnostic core, binary RPC reference surface" spec §6 describes
// alongside the REST surface — governord always serves REST and also
// serves this surface when Server.FramedAddr is configured.
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/ocx/governance-core/internal/coordinator"
	"github.com/ocx/governance-core/internal/escrow"
	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
	"github.com/ocx/governance-core/internal/signals"
)

// governPayload mirrors the REST surface's governRequest body so both
// transports accept the same wire shape (spec §6's opaque structured
// payload).
type governPayload struct {
	RequestID string                 `json:"request_id"`
	TenantID  string                 `json:"tenant_id"`
	AgentID   string                 `json:"agent_id"`
	Role      string                 `json:"role"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Payload   string                 `json:"payload"`
}

type signalPayload struct {
	RequestID string      `json:"request_id"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	TTLMs     int64       `json:"ttl_ms"`
}

type escrowReleasePayload struct {
	EscrowID     string `json:"escrow_id"`
	JuryApproved bool   `json:"jury_approved"`
	EntropySafe  bool   `json:"entropy_safe"`
}

// Server serves the framed binary RPC surface over a TCP listener.
type Server struct {
	Coordinator *coordinator.Coordinator
	Signals     *signals.Collector
	Escrow      *escrow.EscrowStore
}

// Serve accepts connections on addr until ctx is cancelled. Each
// connection is handled on its own goroutine; each frame on a
// connection is handled synchronously and replied to in order.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		f, err := Decode(conn)
		if err != nil {
			return
		}
		reply := s.dispatch(ctx, f)
		if err := Encode(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, f Frame) Frame {
	switch f.Type {
	case MessageGovern:
		return s.handleGovern(ctx, f)
	case MessageSignalSubmit:
		return s.handleSignal(ctx, f)
	case MessageEscrowRelease:
		return s.handleEscrowRelease(ctx, f)
	case MessageHeartbeat:
		return Frame{Type: MessageHeartbeat, RequestID: f.RequestID}
	default:
		return errorFrame(f.RequestID, "protocol: unknown message type")
	}
}

func (s *Server) handleGovern(ctx context.Context, f Frame) Frame {
	var body governPayload
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		return errorFrame(f.RequestID, "invalid governance payload: "+err.Error())
	}
	args, err := jsonlogic.FromInterface(body.Arguments)
	if err != nil {
		return errorFrame(f.RequestID, "invalid arguments: "+err.Error())
	}
	v := s.Coordinator.Govern(ctx, coordinator.Request{
		RequestID:  body.RequestID,
		TenantID:   body.TenantID,
		AgentID:    body.AgentID,
		Role:       body.Role,
		ToolName:   body.ToolName,
		Arguments:  args,
		RawPayload: []byte(body.Payload),
	})
	out, _ := json.Marshal(map[string]interface{}{
		"verdict":          v.VerdictClass,
		"reason_code":      v.ReasonCode,
		"reason":           v.Reason,
		"trust_score":      v.TrustScore,
		"escrow_id":        v.EscrowID,
		"evidence_hash":    v.EvidenceHash,
		"speculative_hash": v.SpeculativeHash,
		"decided_at":       v.DecidedAt,
	})
	return Frame{Type: MessageGovernReply, RequestID: f.RequestID, Payload: out}
}

func (s *Server) handleSignal(ctx context.Context, f Frame) Frame {
	var body signalPayload
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		return errorFrame(f.RequestID, "invalid signal payload: "+err.Error())
	}
	var expires time.Time
	if body.TTLMs > 0 {
		expires = time.Now().Add(time.Duration(body.TTLMs) * time.Millisecond)
	}
	s.Signals.Add(signals.Signal{
		Type: gov.SignalType(body.Type), RequestID: body.RequestID,
		Value: body.Value, ExpiresAt: expires,
	})
	out, _ := json.Marshal(map[string]string{"status": "ack"})
	return Frame{Type: MessageGovernReply, RequestID: f.RequestID, Payload: out}
}

func (s *Server) handleEscrowRelease(ctx context.Context, f Frame) Frame {
	var body escrowReleasePayload
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		return errorFrame(f.RequestID, "invalid escrow release payload: "+err.Error())
	}
	success, payload, err := s.Escrow.Release(ctx, body.EscrowID, body.JuryApproved, body.EntropySafe)
	if err != nil {
		slog.Warn("protocol: escrow release failed", "escrow_id", body.EscrowID, "error", err)
		return errorFrame(f.RequestID, err.Error())
	}
	out, _ := json.Marshal(map[string]interface{}{
		"success": success,
		"payload": payload,
	})
	return Frame{Type: MessageGovernReply, RequestID: f.RequestID, Payload: out}
}

func errorFrame(requestID [16]byte, msg string) Frame {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return Frame{Type: MessageError, RequestID: requestID, Payload: out}
}
