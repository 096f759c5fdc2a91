// Package ghoststate implements the speculative executor: it clones an
// agent's observable state, projects the effect of a proposed tool
// call onto the clone, and hands policies a data view built from the
// projection rather than the live state — so a rule like "balance must
// not fall below $1,000" is evaluated against the post-condition.
//
// Grounded wholesale on
// _examples/Generativebots-ocx-backend-go-svc/internal/governance/ghost_state.go
// (GhostStateEngine, Snapshot/SimulateOnGhost/Diff/Commit/Discard, the
// ToolSimulator registry), re-targeted onto the four simulators named
// by spec §4.3 in place of the teacher's generic wildcard simulator.
package ghoststate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
)

// Snapshot is the read-only per-agent observable state a request is
// evaluated against. The clone handed to a Simulator is the only thing
// ever mutated; Snapshot itself is never touched (P8, snapshot isolation).
type Snapshot struct {
	AgentID          string
	AccountBalances  map[string]float64 // account name -> balance
	DataLocations    map[string]string  // data_id -> "vpc" | "external"
	PendingApprovals map[string]bool    // approval token -> present
	Timestamp        time.Time
}

func (s *Snapshot) clone() *Snapshot {
	cp := &Snapshot{
		AgentID:          s.AgentID,
		AccountBalances:  make(map[string]float64, len(s.AccountBalances)),
		DataLocations:    make(map[string]string, len(s.DataLocations)),
		PendingApprovals: make(map[string]bool, len(s.PendingApprovals)),
		Timestamp:        s.Timestamp,
	}
	for k, v := range s.AccountBalances {
		cp.AccountBalances[k] = v
	}
	for k, v := range s.DataLocations {
		cp.DataLocations[k] = v
	}
	for k, v := range s.PendingApprovals {
		cp.PendingApprovals[k] = v
	}
	return cp
}

// hash is a stable fingerprint of the snapshot's content, used as the
// "speculative_hash" attached to a verdict.
func (s *Snapshot) hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%v|%v|%v|%d", s.AgentID, s.AccountBalances, s.DataLocations, s.PendingApprovals, s.Timestamp.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// Simulator is the single-method capability interface for a per-tool
// state projection (design note: capability interfaces, not a class
// hierarchy). Simulate mutates the clone in place.
type Simulator interface {
	Simulate(clone *Snapshot, arguments jsonlogic.Value) error
}

// SimulatorFunc adapts a plain function to Simulator.
type SimulatorFunc func(clone *Snapshot, arguments jsonlogic.Value) error

func (f SimulatorFunc) Simulate(clone *Snapshot, arguments jsonlogic.Value) error { return f(clone, arguments) }

// Engine holds the simulator registry and produces ghost states on
// demand. It is request-scoped state-free: all mutation happens on the
// clone returned to the caller.
type Engine struct {
	mu         sync.RWMutex
	simulators map[string]Simulator
	permissive bool // MUST be false in production; unknown tool otherwise fails closed.
}

func NewEngine() *Engine {
	e := &Engine{simulators: make(map[string]Simulator)}
	e.Register("payment", SimulatorFunc(simulatePayment))
	e.Register("transfer", SimulatorFunc(simulateTransfer))
	e.Register("external-data-send", SimulatorFunc(simulateExternalDataSend))
	e.Register("message", SimulatorFunc(simulateMessage))
	return e
}

// Register installs or replaces a simulator for tool_name.
func (e *Engine) Register(toolName string, s Simulator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.simulators[toolName] = s
}

// SetPermissive toggles the fail-open mode for unknown tools. Per spec
// §4.3 this MUST be off (false) in production; callers wiring a
// production coordinator never call this.
func (e *Engine) SetPermissive(v bool) { e.permissive = v }

// GhostState is the result of a simulation: the projected snapshot,
// plus enough bookkeeping to build a policy data view and a
// speculative_hash for the verdict.
type GhostState struct {
	Projected *Snapshot
	ToolName  string
	Arguments jsonlogic.Value
}

// Simulate clones current and applies the registered simulator for
// toolName. Unknown tool names fail closed (gov.ReasonPolicyViolation)
// unless the engine has been explicitly placed in permissive mode.
func (e *Engine) Simulate(current *Snapshot, toolName string, arguments jsonlogic.Value) (*GhostState, error) {
	e.mu.RLock()
	sim, ok := e.simulators[toolName]
	e.mu.RUnlock()

	clone := current.clone()
	if !ok {
		if e.permissive {
			return &GhostState{Projected: clone, ToolName: toolName, Arguments: arguments}, nil
		}
		return nil, gov.NewErr(gov.ReasonPolicyViolation, "no ghost-state simulator registered for tool: "+toolName)
	}
	if err := sim.Simulate(clone, arguments); err != nil {
		return nil, gov.NewErr(gov.ReasonPolicyViolation, "simulation failed: "+err.Error())
	}
	return &GhostState{Projected: clone, ToolName: toolName, Arguments: arguments}, nil
}

// Hash returns the speculative_hash for this ghost state.
func (g *GhostState) Hash() string { return g.Projected.hash() }

// DataView builds the jsonlogic.Value a policy's logic is evaluated
// against: account_balances, data_locations, pending_approvals, and
// the raw payload (arguments).
func (g *GhostState) DataView() jsonlogic.Value {
	balances := make(map[string]jsonlogic.Value, len(g.Projected.AccountBalances))
	for k, v := range g.Projected.AccountBalances {
		balances[k] = jsonlogic.Number(v)
	}
	locations := make(map[string]jsonlogic.Value, len(g.Projected.DataLocations))
	for k, v := range g.Projected.DataLocations {
		locations[k] = jsonlogic.String(v)
	}
	approvals := make(map[string]jsonlogic.Value, len(g.Projected.PendingApprovals))
	for k, v := range g.Projected.PendingApprovals {
		approvals[k] = jsonlogic.Bool(v)
	}
	return jsonlogic.Object(map[string]jsonlogic.Value{
		"account_balances":  jsonlogic.Object(balances),
		"data_locations":    jsonlogic.Object(locations),
		"pending_approvals": jsonlogic.Object(approvals),
		"payload":           g.Arguments,
	})
}

func argNumber(args jsonlogic.Value, key string) (float64, bool) {
	if args.Kind != jsonlogic.KindObject {
		return 0, false
	}
	v, ok := args.O[key]
	if !ok || v.Kind != jsonlogic.KindNumber {
		return 0, false
	}
	return v.N, true
}

func argString(args jsonlogic.Value, key string) (string, bool) {
	if args.Kind != jsonlogic.KindObject {
		return "", false
	}
	v, ok := args.O[key]
	if !ok || v.Kind != jsonlogic.KindString {
		return "", false
	}
	return v.S, true
}

// simulatePayment deducts amount from from_account.
func simulatePayment(clone *Snapshot, args jsonlogic.Value) error {
	amount, ok := argNumber(args, "amount")
	if !ok {
		return fmt.Errorf("payment requires numeric amount")
	}
	account, ok := argString(args, "from_account")
	if !ok {
		return fmt.Errorf("payment requires from_account")
	}
	clone.AccountBalances[account] -= amount
	return nil
}

// simulateTransfer moves amount from from_account to to_account,
// keeping the same deduction semantics as payment for the source.
func simulateTransfer(clone *Snapshot, args jsonlogic.Value) error {
	amount, ok := argNumber(args, "amount")
	if !ok {
		return fmt.Errorf("transfer requires numeric amount")
	}
	from, ok := argString(args, "from_account")
	if !ok {
		return fmt.Errorf("transfer requires from_account")
	}
	to, ok := argString(args, "to_account")
	if !ok {
		return fmt.Errorf("transfer requires to_account")
	}
	clone.AccountBalances[from] -= amount
	clone.AccountBalances[to] += amount
	return nil
}

// simulateExternalDataSend moves a data_id from "vpc" to "external" and
// records a pending approval if the request requires one.
func simulateExternalDataSend(clone *Snapshot, args jsonlogic.Value) error {
	dataID, ok := argString(args, "data_id")
	if !ok {
		return fmt.Errorf("external-data-send requires data_id")
	}
	clone.DataLocations[dataID] = "external"
	if approval, ok := argString(args, "approval_token"); ok {
		clone.PendingApprovals[approval] = true
	}
	return nil
}

// simulateMessage makes no state change; messages are observational.
func simulateMessage(*Snapshot, jsonlogic.Value) error { return nil }
