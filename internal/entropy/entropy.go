// Package entropy implements the two independent anomaly checks run on
// every request: Shannon entropy over the payload bytes, and a
// velocity/drift check over a per-(tenant,agent) sliding window of
// recent request timestamps and actions.
//
// Shannon entropy is a direct port of
// _examples/Generativebots-ocx-backend-go-svc/internal/security/entropy.go's
// CalculateShannonEntropy. The sliding-window store generalizes the
// teacher's in-memory jitter history (internal/escrow/entropy_jitter.go)
// onto github.com/redis/go-redis/v9 sorted sets so it can be shared
// across coordinator replicas.
package entropy

import "math"

// PayloadVerdict classifies payload entropy.
type PayloadVerdict string

const (
	Clean      PayloadVerdict = "CLEAN"
	Suspicious PayloadVerdict = "SUSPICIOUS"
	Encrypted  PayloadVerdict = "ENCRYPTED"
)

// Thresholds is the tenant-configurable pair of entropy cutoffs.
type Thresholds struct {
	Suspicious float64 // default 6.0
	Encrypted  float64 // default 7.5
}

func DefaultThresholds() Thresholds { return Thresholds{Suspicious: 6.0, Encrypted: 7.5} }

// ShannonEntropy computes H = -Σ p(b) log2 p(b) over the byte
// distribution of data.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

// ClassifyPayload returns (verdict, confidence) per spec §4.5's fixed
// confidence values.
func ClassifyPayload(data []byte, t Thresholds) (PayloadVerdict, float64) {
	h := ShannonEntropy(data)
	switch {
	case h > t.Encrypted:
		return Encrypted, 0.9
	case h > t.Suspicious:
		return Suspicious, 0.7
	default:
		return Clean, 1.0
	}
}

// AnomalyType classifies a velocity/drift finding.
type AnomalyType string

const (
	AnomalyNone     AnomalyType = ""
	AnomalyVelocity AnomalyType = "VELOCITY"
	AnomalyDrift    AnomalyType = "DRIFT"
	AnomalyScope    AnomalyType = "SCOPE"
)

// Baseline is the per-agent behavioral baseline consulted by the
// velocity/drift check.
type Baseline struct {
	AvgRequestsPerHour float64
	TypicalActions     map[string]bool
	TypicalResources   map[string]bool
}

// DefaultVelocityMultiplier is the tenant-configurable threshold multiplier
// (default 3.0) applied to the agent's baseline request rate.
const DefaultVelocityMultiplier = 3.0

// Result is the combined output of (payload, velocity/drift) analysis.
type Result struct {
	PayloadVerdict PayloadVerdict
	PayloadScore   float64
	AnomalyType    AnomalyType
	AnomalyScore   float64
}

// EvaluateVelocityDrift inspects the requests-in-the-last-hour count
// against baseline, then type/scope drift, returning the single
// highest-priority anomaly (velocity takes precedence, matching the
// order they're listed in spec §4.5).
func EvaluateVelocityDrift(requestsLastHour int, action, resource string, baseline Baseline, multiplier float64) (AnomalyType, float64) {
	if multiplier <= 0 {
		multiplier = DefaultVelocityMultiplier
	}
	if baseline.AvgRequestsPerHour > 0 && float64(requestsLastHour) > multiplier*baseline.AvgRequestsPerHour {
		return AnomalyVelocity, 0.8
	}
	if len(baseline.TypicalActions) > 0 && action != "" && !baseline.TypicalActions[action] {
		return AnomalyDrift, 0.7
	}
	if len(baseline.TypicalResources) > 0 && resource != "" && !baseline.TypicalResources[resource] {
		return AnomalyScope, 0.6
	}
	return AnomalyNone, 0
}
