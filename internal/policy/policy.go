// Package policy implements the policy store and tier hierarchy:
// versioned, content-addressed policies filtered and ordered for
// evaluation against a single governed request.
//
// Grounded on original_source/trust-registry/policy_hierarchy.py
// (tier precedence, get_applicable_policies, evaluate_with_precedence)
// and the teacher's internal/catalog/policy_versioning.go for the
// version-bump / content-hash dedup / rollback mechanics.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/governance-core/internal/canon"
	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
)

// Action is what a policy prescribes when its logic matches (a
// "violation" in ghost-state terms) and which external attestations
// gate a HOLD.
type Action struct {
	OnFail          gov.VerdictClass
	OnPass          gov.VerdictClass
	RequiredSignals []gov.SignalType
}

// Policy is immutable once written; updates produce a new version and
// mark the prior version inactive.
type Policy struct {
	PolicyID    string
	TenantID    string
	Tier        gov.Tier
	TriggerIntent string // tool name, or "*" for any tool
	Logic       jsonlogic.Value
	Action      Action
	Confidence  float64
	Roles       []string // CONTEXTUAL only; empty = applies to all roles
	ExpiresAt   *time.Time // DYNAMIC only
	Version     int
	Active      bool
	ContentHash string
	CreatedAt   time.Time
	CreatedBy   string
}

func (p *Policy) isExpired(now time.Time) bool {
	return p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}

func (p *Policy) appliesToRole(role string) bool {
	if len(p.Roles) == 0 {
		return true
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// contentHash = SHA-256(canonical(logic ‖ action)).
func contentHash(logic jsonlogic.Value, action Action) string {
	signals := make([]interface{}, len(action.RequiredSignals))
	for i, s := range action.RequiredSignals {
		signals[i] = string(s)
	}
	h, err := canon.Hash(map[string]interface{}{
		"logic": logic.ToInterface(),
		"action": map[string]interface{}{
			"on_fail":          string(action.OnFail),
			"on_pass":          string(action.OnPass),
			"required_signals": signals,
		},
	})
	if err != nil {
		// canon.Hash only fails on unsupported value kinds, which
		// cannot occur for a Value produced by jsonlogic.FromInterface;
		// treat as a programming error surfaced loudly rather than
		// silently hashing an empty string.
		panic(fmt.Sprintf("policy: content hash encode failed: %v", err))
	}
	return h
}

// Store is the storage trait for policies: many readers, rare writers.
// One production (Postgres) and one in-memory implementation are
// provided; callers never see SQL.
type Store interface {
	// Versions returns every stored version of policy_id, newest last.
	Versions(ctx context.Context, tenantID, policyID string) ([]*Policy, error)
	// ActiveVersion returns the currently active version of policy_id,
	// or nil if none exists.
	ActiveVersion(ctx context.Context, tenantID, policyID string) (*Policy, error)
	// Put persists a policy version (insert-only; versions are immutable).
	Put(ctx context.Context, p *Policy) error
	// Deactivate marks a specific version inactive.
	Deactivate(ctx context.Context, tenantID, policyID string, version int) error
	// AllActive returns every active policy for a tenant, expired or
	// not; ListApplicable filters out expired policies.
	AllActive(ctx context.Context, tenantID string) ([]*Policy, error)
}

// Hierarchy is the public surface: add/update/rollback/list_applicable,
// backed by a Store.
type Hierarchy struct {
	store Store
	now   func() time.Time
}

func NewHierarchy(store Store) *Hierarchy {
	return &Hierarchy{store: store, now: time.Now}
}

// Add assigns version=1 for a new policy_id, else version=max_prior+1
// and marks the prior active version inactive. If the new content_hash
// equals the active version's content_hash, no new version is written
// and the active version is returned unchanged.
func (h *Hierarchy) Add(ctx context.Context, p *Policy) (*Policy, error) {
	if err := jsonlogic.Validate(p.Logic); err != nil {
		return nil, gov.NewErr(gov.ReasonInvalidRequest, "policy logic failed validation: "+err.Error())
	}
	if p.PolicyID == "" {
		p.PolicyID = uuid.NewString()
	}
	hash := contentHash(p.Logic, p.Action)

	active, err := h.store.ActiveVersion(ctx, p.TenantID, p.PolicyID)
	if err != nil {
		return nil, gov.NewErr(gov.ReasonBackendUnavailable, "policy store read: "+err.Error())
	}
	if active != nil {
		if active.ContentHash == hash {
			return active, nil
		}
		if err := h.store.Deactivate(ctx, p.TenantID, p.PolicyID, active.Version); err != nil {
			return nil, err
		}
		p.Version = active.Version + 1
	} else {
		p.Version = 1
	}
	p.ContentHash = hash
	p.Active = true
	if p.CreatedAt.IsZero() {
		p.CreatedAt = h.now()
	}
	if err := h.store.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Mutation describes a field-level change applied on top of the
// currently active version by Update.
type Mutation func(*Policy)

// Update is a convenience wrapper over Add: fetch the active version,
// apply mutations, write the result as a new version.
func (h *Hierarchy) Update(ctx context.Context, tenantID, policyID string, mutations ...Mutation) (*Policy, error) {
	active, err := h.store.ActiveVersion(ctx, tenantID, policyID)
	if err != nil {
		return nil, gov.NewErr(gov.ReasonBackendUnavailable, "policy store read: "+err.Error())
	}
	if active == nil {
		return nil, gov.NewErr(gov.ReasonInvalidRequest, "no such policy: "+policyID)
	}
	next := *active
	for _, m := range mutations {
		m(&next)
	}
	return h.Add(ctx, &next)
}

// Rollback creates a new version whose contents equal target_version.
// The ledger records the rollback as a normal version bump — there is
// no special "rollback" verdict class.
func (h *Hierarchy) Rollback(ctx context.Context, tenantID, policyID string, targetVersion int) (*Policy, error) {
	versions, err := h.store.Versions(ctx, tenantID, policyID)
	if err != nil {
		return nil, gov.NewErr(gov.ReasonBackendUnavailable, "policy store read: "+err.Error())
	}
	var target *Policy
	for _, v := range versions {
		if v.Version == targetVersion {
			target = v
			break
		}
	}
	if target == nil {
		return nil, gov.NewErr(gov.ReasonInvalidRequest, fmt.Sprintf("no version %d for policy %s", targetVersion, policyID))
	}
	rolled := *target
	rolled.Version = 0 // Add() assigns the next version
	rolled.Active = false
	rolled.CreatedAt = time.Time{}
	return h.Add(ctx, &rolled)
}

// ListApplicable filters by active=true, not expired, trigger_intent
// in {tool_name, "*"}, and for CONTEXTUAL tier, role membership. The
// result is sorted by tier rank then by confidence descending.
func (h *Hierarchy) ListApplicable(ctx context.Context, tenantID, toolName, role string) ([]*Policy, error) {
	all, err := h.store.AllActive(ctx, tenantID)
	if err != nil {
		return nil, gov.NewErr(gov.ReasonBackendUnavailable, "policy store read: "+err.Error())
	}
	now := h.now()
	out := make([]*Policy, 0, len(all))
	for _, p := range all {
		if !p.Active {
			continue
		}
		if p.isExpired(now) {
			continue
		}
		if p.TriggerIntent != toolName && p.TriggerIntent != "*" {
			continue
		}
		if p.Tier == gov.TierContextual && !p.appliesToRole(role) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out, nil
}

// ListAll returns every active policy for a tenant regardless of
// trigger_intent or role, for admin listing/diff surfaces.
func (h *Hierarchy) ListAll(ctx context.Context, tenantID string) ([]*Policy, error) {
	all, err := h.store.AllActive(ctx, tenantID)
	if err != nil {
		return nil, gov.NewErr(gov.ReasonBackendUnavailable, "policy store read: "+err.Error())
	}
	out := make([]*Policy, 0, len(all))
	for _, p := range all {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

// EvaluateWithPrecedence evaluates policies in tier order against the
// supplied data view, short-circuiting and returning the first
// violating policy (I4). A nil returned policy means no violation.
func EvaluateWithPrecedence(policies []*Policy, data jsonlogic.Value) (violated *Policy, reason string, err error) {
	for _, p := range policies {
		matched, evalErr := jsonlogic.Evaluate(p.Logic, data)
		if evalErr != nil {
			// Fail closed: a malformed policy is itself a violation.
			return p, "policy evaluation error: " + evalErr.Error(), nil
		}
		if matched {
			reason := fmt.Sprintf("policy %s (%s) matched", p.PolicyID, p.Tier)
			if detail := describeMatchedVars(p.Logic, data); detail != "" {
				reason += ": " + detail
			}
			return p, reason, nil
		}
	}
	return nil, "", nil
}

// describeMatchedVars resolves every "var" path the policy's logic
// references against the data view it was matched against, so the
// violation reason names the ghost-state variable/value that tripped it
// (spec §8 scenario 3: reason must contain "account_balances.checking=500").
func describeMatchedVars(logic, data jsonlogic.Value) string {
	paths := jsonlogic.ExtractVars(logic)
	if len(paths) == 0 {
		return ""
	}
	sort.Strings(paths)
	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		v, ok := jsonlogic.LookupVar(data, path)
		if !ok {
			continue
		}
		parts = append(parts, path+"="+formatVarValue(v))
	}
	return strings.Join(parts, ", ")
}

func formatVarValue(v jsonlogic.Value) string {
	switch v.Kind {
	case jsonlogic.KindNull:
		return "null"
	case jsonlogic.KindBool:
		return strconv.FormatBool(v.B)
	case jsonlogic.KindNumber:
		return strconv.FormatFloat(v.N, 'g', -1, 64)
	case jsonlogic.KindString:
		return v.S
	default:
		return fmt.Sprintf("%v", v.ToInterface())
	}
}
