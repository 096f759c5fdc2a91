package ghoststate

import (
	"testing"
	"time"

	"github.com/ocx/governance-core/internal/jsonlogic"
)

func args(raw map[string]interface{}) jsonlogic.Value {
	v, err := jsonlogic.FromInterface(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// TestBalanceFloorViolation reproduces end-to-end scenario 3: a
// balance-floor check caught against the projected, not current,
// balance.
func TestBalanceFloorViolation(t *testing.T) {
	e := NewEngine()
	snap := &Snapshot{
		AgentID:          "a1",
		AccountBalances:  map[string]float64{"checking": 5000},
		DataLocations:    map[string]string{},
		PendingApprovals: map[string]bool{},
		Timestamp:        time.Now(),
	}
	ghost, err := e.Simulate(snap, "payment", args(map[string]interface{}{"amount": 4500.0, "from_account": "checking"}))
	if err != nil {
		t.Fatal(err)
	}
	logic := args(map[string]interface{}{"<": []interface{}{
		map[string]interface{}{"var": "account_balances.checking"}, 1000.0,
	}})
	ok, err := jsonlogic.Evaluate(logic, ghost.DataView())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected projected balance of 500 to violate the floor of 1000")
	}
	if snap.AccountBalances["checking"] != 5000 {
		t.Fatalf("P8 violated: live snapshot mutated, got %v", snap.AccountBalances["checking"])
	}
	if ghost.Projected.AccountBalances["checking"] != 500 {
		t.Fatalf("expected projected balance 500, got %v", ghost.Projected.AccountBalances["checking"])
	}
}

func TestUnknownToolFailsClosed(t *testing.T) {
	e := NewEngine()
	snap := &Snapshot{AccountBalances: map[string]float64{}, DataLocations: map[string]string{}, PendingApprovals: map[string]bool{}}
	_, err := e.Simulate(snap, "delete_universe", args(map[string]interface{}{}))
	if err == nil {
		t.Fatal("expected fail-closed error for unregistered tool")
	}
}

func TestPermissiveModeAllowsUnknownTool(t *testing.T) {
	e := NewEngine()
	e.SetPermissive(true)
	snap := &Snapshot{AccountBalances: map[string]float64{}, DataLocations: map[string]string{}, PendingApprovals: map[string]bool{}}
	ghost, err := e.Simulate(snap, "unknown", args(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("expected permissive mode to pass through: %v", err)
	}
	if ghost.Projected == nil {
		t.Fatal("expected a no-op projected snapshot")
	}
}

func TestExternalDataSendMovesLocation(t *testing.T) {
	e := NewEngine()
	snap := &Snapshot{AccountBalances: map[string]float64{}, DataLocations: map[string]string{"doc1": "vpc"}, PendingApprovals: map[string]bool{}}
	ghost, err := e.Simulate(snap, "external-data-send", args(map[string]interface{}{"data_id": "doc1"}))
	if err != nil {
		t.Fatal(err)
	}
	if ghost.Projected.DataLocations["doc1"] != "external" {
		t.Fatalf("expected doc1 to move to external, got %s", ghost.Projected.DataLocations["doc1"])
	}
	if snap.DataLocations["doc1"] != "vpc" {
		t.Fatal("live snapshot must remain unchanged")
	}
}

func TestMessageSimulatorIsNoOp(t *testing.T) {
	e := NewEngine()
	snap := &Snapshot{AccountBalances: map[string]float64{"checking": 10}, DataLocations: map[string]string{}, PendingApprovals: map[string]bool{}}
	ghost, err := e.Simulate(snap, "message", args(map[string]interface{}{"text": "hi"}))
	if err != nil {
		t.Fatal(err)
	}
	if ghost.Projected.AccountBalances["checking"] != 10 {
		t.Fatal("message simulator must not alter balances")
	}
}
