package jury

import (
	"context"
	"regexp"
	"strings"

	"github.com/ocx/governance-core/internal/gov"
)

// The four built-in local jurors below are grounded on
// original_source/trust-registry/jury.py's HallucinationAuditor,
// SafetyAuditor, ConsistencyAuditor and SecurityAuditor — reworked
// from Python subclasses into Go capability interfaces per design
// note 9 ("from class hierarchies to capability interfaces").

// ConsistencyAuditor rejects a request with an empty tool name and
// approves every other request; it does not compare the arguments with
// the ghost-state projection.
type ConsistencyAuditor struct{}

func (ConsistencyAuditor) Evaluate(_ context.Context, req Request) (Vote, error) {
	if req.ToolName == "" {
		return Vote{Decision: gov.VoteReject, TrustScore: 0, Reasoning: "empty tool_name"}, nil
	}
	return Vote{Decision: gov.VoteApprove, TrustScore: 0.8, Reasoning: "request internally consistent"}, nil
}

var piiPattern = regexp.MustCompile(`(?i)\b\d{3}-\d{2}-\d{4}\b|\b\d{16}\b`)

// SafetyAuditor flags likely PII leakage in the request arguments'
// string fields.
type SafetyAuditor struct{}

func (SafetyAuditor) Evaluate(_ context.Context, req Request) (Vote, error) {
	if containsPII(req.Arguments) {
		return Vote{Decision: gov.VoteReject, TrustScore: 0.1, Reasoning: "payload appears to contain PII"}, nil
	}
	return Vote{Decision: gov.VoteApprove, TrustScore: 0.9, Reasoning: "no PII detected"}, nil
}

func containsPII(v interface{ ToInterface() interface{} }) bool {
	return scanForPII(v.ToInterface())
}

func scanForPII(raw interface{}) bool {
	switch t := raw.(type) {
	case string:
		return piiPattern.MatchString(t)
	case map[string]interface{}:
		for _, v := range t {
			if scanForPII(v) {
				return true
			}
		}
	case []interface{}:
		for _, v := range t {
			if scanForPII(v) {
				return true
			}
		}
	}
	return false
}

var injectionPhrases = []string{"ignore previous instructions", "disregard the policy", "system prompt"}

// SecurityAuditor rejects requests whose string arguments contain
// crude prompt-injection phrasing.
type SecurityAuditor struct{}

func (SecurityAuditor) Evaluate(_ context.Context, req Request) (Vote, error) {
	if containsInjection(req.Arguments.ToInterface()) {
		return Vote{Decision: gov.VoteReject, TrustScore: 0, Reasoning: "prompt-injection phrasing detected"}, nil
	}
	return Vote{Decision: gov.VoteApprove, TrustScore: 0.85, Reasoning: "no injection phrasing detected"}, nil
}

func containsInjection(raw interface{}) bool {
	switch t := raw.(type) {
	case string:
		lower := strings.ToLower(t)
		for _, phrase := range injectionPhrases {
			if strings.Contains(lower, phrase) {
				return true
			}
		}
	case map[string]interface{}:
		for _, v := range t {
			if containsInjection(v) {
				return true
			}
		}
	case []interface{}:
		for _, v := range t {
			if containsInjection(v) {
				return true
			}
		}
	}
	return false
}

// HallucinationAuditor abstains when no ghost-state projection was
// supplied (a null GhostView) and approves otherwise; it does not check
// whether the request implies a state change.
type HallucinationAuditor struct{}

func (HallucinationAuditor) Evaluate(_ context.Context, req Request) (Vote, error) {
	if req.GhostView.Kind == 0 && len(req.GhostView.O) == 0 {
		return Vote{Decision: gov.VoteAbstain, TrustScore: 0.5, Reasoning: "no ghost-state projection available"}, nil
	}
	return Vote{Decision: gov.VoteApprove, TrustScore: 0.75, Reasoning: "ghost-state projection present"}, nil
}
