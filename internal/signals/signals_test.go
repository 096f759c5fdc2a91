package signals

import (
	"testing"
	"time"

	"github.com/ocx/governance-core/internal/gov"
)

func TestVerifyMissingSignal(t *testing.T) {
	c := NewCollector(5 * time.Minute)
	c.RegisterRequest("r1")
	ok, missing := c.Verify("r1", []gov.SignalType{gov.SignalCTOSignature})
	if ok {
		t.Fatal("expected missing signal")
	}
	if len(missing) != 1 || missing[0] != gov.SignalCTOSignature {
		t.Fatalf("unexpected missing set: %v", missing)
	}
}

func TestVerifyPresentSignal(t *testing.T) {
	c := NewCollector(5 * time.Minute)
	c.RegisterRequest("r1")
	c.Add(Signal{Type: gov.SignalCTOSignature, RequestID: "r1", ExpiresAt: time.Now().Add(time.Hour)})
	ok, missing := c.Verify("r1", []gov.SignalType{gov.SignalCTOSignature})
	if !ok || len(missing) != 0 {
		t.Fatalf("expected satisfied, got ok=%v missing=%v", ok, missing)
	}
}

func TestSignalNotUsableAcrossRequests(t *testing.T) {
	c := NewCollector(5 * time.Minute)
	c.RegisterRequest("r1")
	c.RegisterRequest("r2")
	c.Add(Signal{Type: gov.SignalCTOSignature, RequestID: "r1", ExpiresAt: time.Now().Add(time.Hour)})
	ok, _ := c.Verify("r2", []gov.SignalType{gov.SignalCTOSignature})
	if ok {
		t.Fatal("signal attached to r1 must not satisfy r2")
	}
}

func TestExpiredSignalDoesNotSatisfy(t *testing.T) {
	c := NewCollector(5 * time.Minute)
	c.RegisterRequest("r1")
	c.Add(Signal{Type: gov.SignalCTOSignature, RequestID: "r1", ExpiresAt: time.Now().Add(-time.Minute)})
	ok, missing := c.Verify("r1", []gov.SignalType{gov.SignalCTOSignature})
	if ok || len(missing) != 1 {
		t.Fatal("expired signal must not satisfy verification")
	}
}

func TestOrphanSignalPromotedOnRequestArrival(t *testing.T) {
	c := NewCollector(5 * time.Minute)
	c.Add(Signal{Type: gov.SignalCTOSignature, RequestID: "late", ExpiresAt: time.Now().Add(time.Hour)})
	c.RegisterRequest("late")
	ok, _ := c.Verify("late", []gov.SignalType{gov.SignalCTOSignature})
	if !ok {
		t.Fatal("expected orphaned signal promoted once the request arrives")
	}
}
