package jury

import "time"

// TrustWeights is the tenant-configurable four-weight split, default
// {0.40, 0.30, 0.20, 0.10} summing to 1.0 (spec §6 trust_weights).
type TrustWeights struct {
	Audit       float64
	Reputation  float64
	Attestation float64
	History     float64
}

func DefaultTrustWeights() TrustWeights {
	return TrustWeights{Audit: 0.40, Reputation: 0.30, Attestation: 0.20, History: 0.10}
}

// AuditChecks is the set of binary checks the audit_score ratio is
// computed over: signature valid, hash verified, certificate valid,
// nonce fresh.
type AuditChecks struct {
	SignatureValid   bool
	HashVerified     bool
	CertificateValid bool
	NonceFresh       bool
}

// AuditScore returns the ratio of passing checks.
func AuditScore(c AuditChecks) float64 {
	checks := []bool{c.SignatureValid, c.HashVerified, c.CertificateValid, c.NonceFresh}
	pass := 0
	for _, ok := range checks {
		if ok {
			pass++
		}
	}
	return float64(pass) / float64(len(checks))
}

// ReputationScore is the historical success ratio damped by
// interaction count: damp = min(n/100, 1); 0 if blacklisted; 0.5 for
// n=0 (conservative default for unknown agents).
func ReputationScore(successCount, totalCount int, blacklisted bool) float64 {
	if blacklisted {
		return 0
	}
	if totalCount == 0 {
		return 0.5
	}
	ratio := float64(successCount) / float64(totalCount)
	damp := float64(totalCount) / 100
	if damp > 1 {
		damp = 1
	}
	return ratio * damp
}

// AttestationScore buckets by freshness: <1h=1.0, <24h=0.8, <7d=0.6,
// <30d=0.4, else 0.2; 0 if expired.
func AttestationScore(attestedAt time.Time, expiresAt *time.Time, now time.Time) float64 {
	if expiresAt != nil && expiresAt.Before(now) {
		return 0
	}
	age := now.Sub(attestedAt)
	switch {
	case age < time.Hour:
		return 1.0
	case age < 24*time.Hour:
		return 0.8
	case age < 7*24*time.Hour:
		return 0.6
	case age < 30*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

// HistoryScore combines a relationship-age bucket with an
// interaction-count bonus, capped at 1.0.
func HistoryScore(relationshipAge time.Duration, interactionCount int) float64 {
	var ageScore float64
	switch {
	case relationshipAge >= 365*24*time.Hour:
		ageScore = 0.7
	case relationshipAge >= 90*24*time.Hour:
		ageScore = 0.5
	case relationshipAge >= 30*24*time.Hour:
		ageScore = 0.3
	default:
		ageScore = 0.1
	}
	bonus := float64(interactionCount) / 1000
	if bonus > 0.3 {
		bonus = 0.3
	}
	total := ageScore + bonus
	if total > 1.0 {
		total = 1.0
	}
	return total
}

// Components is the full breakdown behind a computed trust score.
type Components struct {
	Audit       float64
	Reputation  float64
	Attestation float64
	History     float64
}

// Compute returns the weighted sum trust score in [0,1].
func Compute(c Components, w TrustWeights) float64 {
	return w.Audit*c.Audit + w.Reputation*c.Reputation + w.Attestation*c.Attestation + w.History*c.History
}
