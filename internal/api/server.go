// Package api exposes the governance pipeline over REST/JSON: the
// primary governance RPC, signal submission, escrow release/reject,
// policy administration, and ledger query/verify (spec §6).
//
// Structural port of
// _examples/Generativebots-ocx-backend-go-svc/internal/api/server.go's
// APIServer/NewAPIServer/Start(port) shape and CORS middleware,
// re-targeted from the teacher's ghost-pool/escrow-gate/reputation-
// wallet surface onto the governance coordinator's operations.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/governance-core/internal/coordinator"
	"github.com/ocx/governance-core/internal/escrow"
	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
	"github.com/ocx/governance-core/internal/ledger"
	"github.com/ocx/governance-core/internal/policy"
	"github.com/ocx/governance-core/internal/signals"
)

// APIServer is the governance pipeline's external HTTP surface.
type APIServer struct {
	coordinator *coordinator.Coordinator
	signals     *signals.Collector
	escrow      *escrow.EscrowStore
	policies    *policy.Hierarchy
	ledger      *ledger.Ledger
}

func NewAPIServer(c *coordinator.Coordinator, sig *signals.Collector, es *escrow.EscrowStore,
	policies *policy.Hierarchy, lg *ledger.Ledger) *APIServer {
	return &APIServer{coordinator: c, signals: sig, escrow: es, policies: policies, ledger: lg}
}

func (s *APIServer) Start(port int) error {
	r := mux.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// 1. Primary governance RPC.
	r.HandleFunc("/v1/govern", s.handleGovern).Methods("POST")

	// 2. Required-signal submission.
	r.HandleFunc("/v1/signals", s.handleSubmitSignal).Methods("POST")

	// 3. Escrow.
	r.HandleFunc("/v1/escrow/{escrow_id}", s.handleEscrowLookup).Methods("GET")
	r.HandleFunc("/v1/escrow/{escrow_id}/release", s.handleEscrowRelease).Methods("POST")
	r.HandleFunc("/v1/escrow/{escrow_id}/reject", s.handleEscrowReject).Methods("POST")

	// 4. Policy administration.
	r.HandleFunc("/v1/policies", s.handlePolicyList).Methods("GET")
	r.HandleFunc("/v1/policies", s.handlePolicyAdd).Methods("POST")
	r.HandleFunc("/v1/policies/{policy_id}/rollback", s.handlePolicyRollback).Methods("POST")

	// 5. Ledger query/verify.
	r.HandleFunc("/v1/ledger/lookup/{request_id}", s.handleLedgerLookup).Methods("GET")
	r.HandleFunc("/v1/ledger/stream", s.handleLedgerStream).Methods("GET")
	r.HandleFunc("/v1/ledger/verify", s.handleLedgerVerify).Methods("GET")

	addr := fmt.Sprintf(":%d", port)
	slog.Info("api: governance RPC listening", "addr", addr)
	return http.ListenAndServe(addr, r)
}

func getTenantID(r *http.Request) string {
	tid := r.Header.Get("X-Tenant-ID")
	if tid == "" {
		return "default"
	}
	return tid
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code gov.ReasonCode, msg string) {
	writeJSON(w, status, map[string]string{"reason_code": string(code), "error": msg})
}

// --- Governance ---

type governRequest struct {
	RequestID string                 `json:"request_id"`
	AgentID   string                 `json:"agent_id"`
	Role      string                 `json:"role"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Payload   string                 `json:"payload"`
}

func (s *APIServer) handleGovern(w http.ResponseWriter, r *http.Request) {
	tenantID := getTenantID(r)
	var body governRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, err.Error())
		return
	}
	if body.ToolName == "" {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, "tool_name is required")
		return
	}
	args, err := jsonlogic.FromInterface(body.Arguments)
	if err != nil {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, "invalid arguments: "+err.Error())
		return
	}

	v := s.coordinator.Govern(r.Context(), coordinator.Request{
		RequestID:  body.RequestID,
		TenantID:   tenantID,
		AgentID:    body.AgentID,
		Role:       body.Role,
		ToolName:   body.ToolName,
		Arguments:  args,
		RawPayload: []byte(body.Payload),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verdict":          v.VerdictClass,
		"reason_code":      v.ReasonCode,
		"reason":           v.Reason,
		"trust_score":      v.TrustScore,
		"escrow_id":        v.EscrowID,
		"evidence_hash":    v.EvidenceHash,
		"speculative_hash": v.SpeculativeHash,
		"decided_at":       v.DecidedAt,
	})
}

// --- Signals ---

type submitSignalRequest struct {
	RequestID string      `json:"request_id"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	TTLMs     int64       `json:"ttl_ms"`
}

func (s *APIServer) handleSubmitSignal(w http.ResponseWriter, r *http.Request) {
	tenantID := getTenantID(r)
	var body submitSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, err.Error())
		return
	}
	if body.RequestID == "" || body.Type == "" {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, "request_id and type are required")
		return
	}
	var expires time.Time
	if body.TTLMs > 0 {
		expires = time.Now().Add(time.Duration(body.TTLMs) * time.Millisecond)
	}
	s.signals.Add(signals.Signal{
		Type: gov.SignalType(body.Type), RequestID: body.RequestID, TenantID: tenantID,
		Value: body.Value, ExpiresAt: expires,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// --- Escrow ---

func (s *APIServer) handleEscrowLookup(w http.ResponseWriter, r *http.Request) {
	escrowID := mux.Vars(r)["escrow_id"]
	item, err := s.escrow.Lookup(escrowID)
	if err != nil {
		writeErr(w, http.StatusNotFound, gov.ReasonInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type escrowDecisionRequest struct {
	JuryApproved bool   `json:"jury_approved"`
	EntropySafe  bool   `json:"entropy_safe"`
	Reason       string `json:"reason"`
}

func (s *APIServer) handleEscrowRelease(w http.ResponseWriter, r *http.Request) {
	escrowID := mux.Vars(r)["escrow_id"]
	var body escrowDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, err.Error())
		return
	}
	approved, payload, err := s.escrow.Release(r.Context(), escrowID, body.JuryApproved, body.EntropySafe)
	if err != nil {
		writeErr(w, http.StatusConflict, gov.ReasonBackendUnavailable, err.Error())
		return
	}
	status := gov.EscrowRejected
	if approved {
		status = gov.EscrowReleased
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"escrow_id": escrowID, "status": status, "payload_len": len(payload),
	})
}

func (s *APIServer) handleEscrowReject(w http.ResponseWriter, r *http.Request) {
	escrowID := mux.Vars(r)["escrow_id"]
	var body escrowDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, err.Error())
		return
	}
	if err := s.escrow.Reject(r.Context(), escrowID, body.Reason); err != nil {
		writeErr(w, http.StatusConflict, gov.ReasonBackendUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"escrow_id": escrowID, "status": string(gov.EscrowRejected)})
}

// --- Policy administration ---

type policyRequest struct {
	PolicyID        string                 `json:"policy_id"`
	Tier            string                 `json:"tier"`
	TriggerIntent   string                 `json:"trigger_intent"`
	Logic           map[string]interface{} `json:"logic"`
	OnFail          string                 `json:"on_fail"`
	OnPass          string                 `json:"on_pass"`
	RequiredSignals []string               `json:"required_signals"`
	Confidence      float64                `json:"confidence"`
	Roles           []string               `json:"roles"`
}

func (s *APIServer) handlePolicyAdd(w http.ResponseWriter, r *http.Request) {
	tenantID := getTenantID(r)
	var body policyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, err.Error())
		return
	}
	tier, ok := gov.ParseTier(body.Tier)
	if !ok {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, "unknown tier: "+body.Tier)
		return
	}
	logic, err := jsonlogic.FromInterface(body.Logic)
	if err != nil {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, "invalid logic: "+err.Error())
		return
	}
	required := make([]gov.SignalType, len(body.RequiredSignals))
	for i, t := range body.RequiredSignals {
		required[i] = gov.SignalType(t)
	}
	p, err := s.policies.Add(r.Context(), &policy.Policy{
		PolicyID: body.PolicyID, TenantID: tenantID, Tier: tier, TriggerIntent: body.TriggerIntent,
		Logic: logic, Confidence: body.Confidence, Roles: body.Roles,
		Action: policy.Action{OnFail: gov.VerdictClass(body.OnFail), OnPass: gov.VerdictClass(body.OnPass), RequiredSignals: required},
	})
	if err != nil {
		writeErr(w, http.StatusUnprocessableEntity, gov.ReasonInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *APIServer) handlePolicyList(w http.ResponseWriter, r *http.Request) {
	tenantID := getTenantID(r)
	ps, err := s.policies.ListAll(r.Context(), tenantID)
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, gov.ReasonBackendUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *APIServer) handlePolicyRollback(w http.ResponseWriter, r *http.Request) {
	tenantID := getTenantID(r)
	policyID := mux.Vars(r)["policy_id"]
	var body struct {
		TargetVersion int `json:"target_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, err.Error())
		return
	}
	p, err := s.policies.Rollback(r.Context(), tenantID, policyID, body.TargetVersion)
	if err != nil {
		writeErr(w, http.StatusUnprocessableEntity, gov.ReasonInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Ledger ---

func (s *APIServer) handleLedgerLookup(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]
	e, err := s.ledger.Lookup(r.Context(), requestID)
	if err != nil {
		writeErr(w, http.StatusNotFound, gov.ReasonInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *APIServer) handleLedgerStream(w http.ResponseWriter, r *http.Request) {
	tenantID := getTenantID(r)
	since := time.Time{}
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, gov.ReasonInvalidRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	entries, err := s.ledger.Stream(r.Context(), tenantID, since)
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, gov.ReasonBackendUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *APIServer) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	tenantID := getTenantID(r)
	ok, firstBad, err := s.ledger.Verify(r.Context(), tenantID)
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, gov.ReasonBackendUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": ok, "first_bad_entry_id": firstBad})
}
