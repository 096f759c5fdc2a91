package protocol

import (
	"context"
	"encoding/json"
	"testing"
)

func TestDispatchHeartbeat(t *testing.T) {
	s := &Server{}
	var reqID [16]byte
	copy(reqID[:], []byte("heartbeat-id----"))
	reply := s.dispatch(context.Background(), Frame{Type: MessageHeartbeat, RequestID: reqID})
	if reply.Type != MessageHeartbeat || reply.RequestID != reqID {
		t.Fatalf("unexpected heartbeat reply: %+v", reply)
	}
}

func TestDispatchUnknownMessageType(t *testing.T) {
	s := &Server{}
	reply := s.dispatch(context.Background(), Frame{Type: MessageType(99)})
	if reply.Type != MessageError {
		t.Fatalf("expected MessageError, got %v", reply.Type)
	}
}

func TestDispatchGovernRejectsMalformedPayload(t *testing.T) {
	s := &Server{}
	reply := s.dispatch(context.Background(), Frame{Type: MessageGovern, Payload: []byte("not json")})
	if reply.Type != MessageError {
		t.Fatalf("expected MessageError for malformed payload, got %v", reply.Type)
	}
	var body map[string]string
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		t.Fatalf("error frame payload should be JSON: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected non-empty error message")
	}
}
