package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ocx/governance-core/internal/config"
	"github.com/ocx/governance-core/internal/coordinator"
	"github.com/ocx/governance-core/internal/escrow"
	"github.com/ocx/governance-core/internal/ghoststate"
	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jury"
	"github.com/ocx/governance-core/internal/ledger"
	"github.com/ocx/governance-core/internal/policy"
	"github.com/ocx/governance-core/internal/reputation"
	"github.com/ocx/governance-core/internal/signals"
)

func approvingJury() *jury.Jury {
	panel := []jury.Weighted{
		{Name: "a", Weight: 1.0, Juror: jury.JurorFunc(func(ctx context.Context, req jury.Request) (jury.Vote, error) {
			return jury.Vote{Decision: gov.VoteApprove, TrustScore: 0.9}, nil
		})},
	}
	return jury.New(panel, jury.DefaultConfig())
}

func newTestServer(t *testing.T) *APIServer {
	t.Helper()
	policies := policy.NewHierarchy(policy.NewMemoryStore())
	es := escrow.NewEscrowStore(escrow.NewMemoryStore(), nil, 24*time.Hour)
	lg := ledger.New(ledger.NewMemoryStore())
	sig := signals.NewCollector(5 * time.Minute)
	cfgs := config.NewCache(nil, config.TenantDefaults{QuorumThreshold: 0.66, RequestDeadlineMs: 2000, FailMode: "closed"})
	c := coordinator.New(policies, ghoststate.NewEngine(), coordinator.NewSnapshotStore(), approvingJury(), nil,
		sig, es, lg, reputation.NewManager(), cfgs, nil)
	return NewAPIServer(c, sig, es, policies, lg)
}

func TestHandleGovernCleanAllows(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(governRequest{AgentID: "agent-1", ToolName: "send_message", Payload: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/govern", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "t1")
	w := httptest.NewRecorder()

	s.handleGovern(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["verdict"] != string(gov.Allow) {
		t.Fatalf("expected ALLOW, got %v (%v)", resp["verdict"], resp["reason"])
	}
}

func TestHandleGovernRejectsMissingToolName(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(governRequest{AgentID: "agent-1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/govern", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleGovern(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlePolicyAddAndList(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(policyRequest{
		Tier: "GLOBAL", TriggerIntent: "execute_payment", Confidence: 1.0,
		Logic: map[string]interface{}{"==": []interface{}{1, 1}},
		OnFail: "BLOCK",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/policies", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "t1")
	w := httptest.NewRecorder()
	s.handlePolicyAdd(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	listReq.Header.Set("X-Tenant-ID", "t1")
	listW := httptest.NewRecorder()
	s.handlePolicyList(listW, listReq)
	if listW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listW.Code)
	}
	var policies []map[string]interface{}
	if err := json.Unmarshal(listW.Body.Bytes(), &policies); err != nil {
		t.Fatal(err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 stored policy, got %d", len(policies))
	}
}

func TestHandleSignalSubmission(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(submitSignalRequest{RequestID: "r1", Type: "CTO_SIGNATURE", Value: true})
	req := httptest.NewRequest(http.MethodPost, "/v1/signals", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleSubmitSignal(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	ok, missing := s.signals.Verify("r1", []gov.SignalType{gov.SignalCTOSignature})
	if !ok || len(missing) != 0 {
		t.Fatalf("expected signal verified, missing=%v", missing)
	}
}
