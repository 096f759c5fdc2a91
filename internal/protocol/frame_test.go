package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var reqID [16]byte
	copy(reqID[:], []byte("0123456789abcdef"))
	f := Frame{Type: MessageGovern, RequestID: reqID, Payload: []byte(`{"tool_name":"execute_payment"}`)}

	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != f.Type || got.RequestID != f.RequestID || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, HeaderSize))
	_, err := Decode(buf)
	if err == nil {
		t.Fatal("expected error for zeroed/bad magic bytes")
	}
}

func TestMessageTypeString(t *testing.T) {
	if MessageGovern.String() != "GOVERN" {
		t.Fatalf("unexpected stringification: %s", MessageGovern.String())
	}
}
