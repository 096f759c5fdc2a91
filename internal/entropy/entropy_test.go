package entropy

import (
	"bytes"
	"math/rand"
	"testing"
)

// TestHighEntropyClassifiesEncrypted reproduces end-to-end scenario 5:
// uniformly random 4096-byte payload classifies as ENCRYPTED.
func TestHighEntropyClassifiesEncrypted(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	data := make([]byte, 4096)
	r.Read(data)

	verdict, confidence := ClassifyPayload(data, DefaultThresholds())
	if verdict != Encrypted {
		h := ShannonEntropy(data)
		t.Fatalf("expected ENCRYPTED for random data (H=%.2f), got %s", h, verdict)
	}
	if confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", confidence)
	}
}

func TestLowEntropyClassifiesClean(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 1000)
	verdict, _ := ClassifyPayload(data, DefaultThresholds())
	if verdict != Clean {
		t.Fatalf("expected CLEAN for repeated byte, got %s", verdict)
	}
}

func TestShannonEntropyEmptyIsZero(t *testing.T) {
	if ShannonEntropy(nil) != 0 {
		t.Fatal("expected zero entropy for empty payload")
	}
}

func TestVelocityAnomalyTakesPrecedence(t *testing.T) {
	baseline := Baseline{AvgRequestsPerHour: 10, TypicalActions: map[string]bool{"read": true}}
	at, score := EvaluateVelocityDrift(40, "write", "doc1", baseline, DefaultVelocityMultiplier)
	if at != AnomalyVelocity || score != 0.8 {
		t.Fatalf("expected velocity anomaly, got %s %v", at, score)
	}
}

func TestDriftAnomalyWhenActionNotTypical(t *testing.T) {
	baseline := Baseline{AvgRequestsPerHour: 10, TypicalActions: map[string]bool{"read": true}}
	at, score := EvaluateVelocityDrift(5, "write", "doc1", baseline, DefaultVelocityMultiplier)
	if at != AnomalyDrift || score != 0.7 {
		t.Fatalf("expected drift anomaly, got %s %v", at, score)
	}
}

func TestScopeAnomalyWhenResourceNotTypical(t *testing.T) {
	baseline := Baseline{AvgRequestsPerHour: 10, TypicalActions: map[string]bool{"read": true}, TypicalResources: map[string]bool{"doc1": true}}
	at, score := EvaluateVelocityDrift(5, "read", "doc2", baseline, DefaultVelocityMultiplier)
	if at != AnomalyScope || score != 0.6 {
		t.Fatalf("expected scope anomaly, got %s %v", at, score)
	}
}

func TestNoAnomalyWithinBaseline(t *testing.T) {
	baseline := Baseline{AvgRequestsPerHour: 10, TypicalActions: map[string]bool{"read": true}, TypicalResources: map[string]bool{"doc1": true}}
	at, _ := EvaluateVelocityDrift(5, "read", "doc1", baseline, DefaultVelocityMultiplier)
	if at != AnomalyNone {
		t.Fatalf("expected no anomaly, got %s", at)
	}
}
