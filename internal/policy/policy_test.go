package policy

import (
	"context"
	"testing"
	"time"

	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
)

func eq(raw interface{}) jsonlogic.Value {
	v, err := jsonlogic.FromInterface(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func TestAddAssignsVersionsAndDedupsContent(t *testing.T) {
	ctx := context.Background()
	h := NewHierarchy(NewMemoryStore())

	p := &Policy{TenantID: "t1", PolicyID: "p1", Tier: gov.TierGlobal, TriggerIntent: "*",
		Logic: eq(map[string]interface{}{"==": []interface{}{1.0, 1.0}})}
	v1, err := h.Add(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if v1.Version != 1 {
		t.Fatalf("expected version 1, got %d", v1.Version)
	}

	// Re-adding identical content must not create a new version.
	p2 := &Policy{TenantID: "t1", PolicyID: "p1", Tier: gov.TierGlobal, TriggerIntent: "*",
		Logic: eq(map[string]interface{}{"==": []interface{}{1.0, 1.0}})}
	v2, err := h.Add(ctx, p2)
	if err != nil {
		t.Fatal(err)
	}
	if v2.Version != 1 {
		t.Fatalf("expected dedup to keep version 1, got %d", v2.Version)
	}

	// Changed content bumps the version.
	p3 := &Policy{TenantID: "t1", PolicyID: "p1", Tier: gov.TierGlobal, TriggerIntent: "*",
		Logic: eq(map[string]interface{}{"==": []interface{}{1.0, 2.0}})}
	v3, err := h.Add(ctx, p3)
	if err != nil {
		t.Fatal(err)
	}
	if v3.Version != 2 {
		t.Fatalf("expected version 2 after content change, got %d", v3.Version)
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	h := NewHierarchy(NewMemoryStore())
	h.Add(ctx, &Policy{TenantID: "t1", PolicyID: "p1", Tier: gov.TierGlobal, TriggerIntent: "*", Logic: eq(true)})
	h.Add(ctx, &Policy{TenantID: "t1", PolicyID: "p1", Tier: gov.TierGlobal, TriggerIntent: "*", Logic: eq(false)})

	rolled, err := h.Rollback(ctx, "t1", "p1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if rolled.Version != 3 {
		t.Fatalf("expected rollback to create version 3, got %d", rolled.Version)
	}
	if rolled.Logic.Kind != jsonlogic.KindBool || !rolled.Logic.B {
		t.Fatalf("expected rollback content to match version 1")
	}
}

func TestListApplicableOrdersByTierThenConfidence(t *testing.T) {
	ctx := context.Background()
	h := NewHierarchy(NewMemoryStore())
	h.Add(ctx, &Policy{TenantID: "t1", PolicyID: "dyn", Tier: gov.TierDynamic, TriggerIntent: "*", Confidence: 0.9, Logic: eq(true)})
	h.Add(ctx, &Policy{TenantID: "t1", PolicyID: "glob", Tier: gov.TierGlobal, TriggerIntent: "*", Confidence: 0.1, Logic: eq(true)})
	h.Add(ctx, &Policy{TenantID: "t1", PolicyID: "ctx", Tier: gov.TierContextual, TriggerIntent: "send_external_request", Confidence: 0.5, Logic: eq(true)})

	applicable, err := h.ListApplicable(ctx, "t1", "send_external_request", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if len(applicable) != 3 {
		t.Fatalf("expected 3 applicable policies, got %d", len(applicable))
	}
	if applicable[0].Tier != gov.TierGlobal || applicable[1].Tier != gov.TierContextual || applicable[2].Tier != gov.TierDynamic {
		t.Fatalf("expected GLOBAL, CONTEXTUAL, DYNAMIC order, got %v %v %v",
			applicable[0].Tier, applicable[1].Tier, applicable[2].Tier)
	}
}

func TestContextualPolicyRoleFiltering(t *testing.T) {
	ctx := context.Background()
	h := NewHierarchy(NewMemoryStore())
	h.Add(ctx, &Policy{TenantID: "t1", PolicyID: "admin-only", Tier: gov.TierContextual, TriggerIntent: "*",
		Roles: []string{"admin"}, Logic: eq(true)})

	forAdmin, _ := h.ListApplicable(ctx, "t1", "tool", "admin")
	if len(forAdmin) != 1 {
		t.Fatalf("expected policy visible to admin role")
	}
	forViewer, _ := h.ListApplicable(ctx, "t1", "tool", "viewer")
	if len(forViewer) != 0 {
		t.Fatalf("expected policy hidden from non-matching role")
	}
}

func TestExpiredDynamicPolicyExcluded(t *testing.T) {
	ctx := context.Background()
	h := NewHierarchy(NewMemoryStore())
	past := time.Now().Add(-time.Hour)
	h.Add(ctx, &Policy{TenantID: "t1", PolicyID: "stale", Tier: gov.TierDynamic, TriggerIntent: "*",
		ExpiresAt: &past, Logic: eq(true)})

	applicable, _ := h.ListApplicable(ctx, "t1", "tool", "")
	if len(applicable) != 0 {
		t.Fatalf("expected expired DYNAMIC policy to be swept, got %d", len(applicable))
	}
}

// TestEvaluateWithPrecedenceGlobalWins is the end-to-end scenario 4
// from the specification: a GLOBAL BLOCK supersedes a CONTEXTUAL ALLOW.
func TestEvaluateWithPrecedenceGlobalWins(t *testing.T) {
	global := &Policy{PolicyID: "g1", Tier: gov.TierGlobal,
		Logic:  eq(map[string]interface{}{"==": []interface{}{map[string]interface{}{"var": "payload.destination_type"}, "external"}}),
		Action: Action{OnFail: gov.Block}}
	contextual := &Policy{PolicyID: "c1", Tier: gov.TierContextual,
		Logic:  eq(map[string]interface{}{"==": []interface{}{1.0, 1.0}}),
		Action: Action{OnFail: gov.Allow}}

	data := eq(map[string]interface{}{"payload": map[string]interface{}{"destination_type": "external"}})
	violated, _, err := EvaluateWithPrecedence([]*Policy{global, contextual}, data)
	if err != nil {
		t.Fatal(err)
	}
	if violated == nil || violated.PolicyID != "g1" {
		t.Fatalf("expected GLOBAL policy to win, got %v", violated)
	}
}

func TestNoGlobalPoliciesProceedsToContextual(t *testing.T) {
	contextual := &Policy{PolicyID: "c1", Tier: gov.TierContextual, Logic: eq(true), Action: Action{OnFail: gov.Block}}
	violated, _, err := EvaluateWithPrecedence([]*Policy{contextual}, eq(map[string]interface{}{}))
	if err != nil {
		t.Fatal(err)
	}
	if violated == nil || violated.PolicyID != "c1" {
		t.Fatal("expected contextual policy to be evaluated when no GLOBAL policies exist")
	}
}
